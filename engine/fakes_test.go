package engine_test

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	fromAddr  = "0x1111111111111111111111111111111111111111"
	toAddr    = "0x2222222222222222222222222222222222222222"
	tokenAddr = "0x3333333333333333333333333333333333333333"
)

var gwei = big.NewInt(1_000_000_000)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func testUnsigned(value *big.Int) *types.UnsignedTransaction {
	return &types.UnsignedTransaction{
		Transaction: "0xdeadbeef",
		Gas:         21000,
		GasPrice:    (*hexutil.Big)(new(big.Int).Mul(big.NewInt(20), gwei)),
		Nonce:       7,
		Value:       (*hexutil.Big)(new(big.Int).Set(value)),
		From:        fromAddr,
		To:          toAddr,
	}
}

type FakeLedger struct {
	CreateUnsignedTransactionFunc func(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error)
	BroadcastFunc                 func(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error)
	FetchServerTimeFunc           func(ctx context.Context) (int64, error)
	FetchStatusFunc               func(ctx context.Context, hash string) (types.PaymentStatus, error)
	TokenDecimalsFunc             func(ctx context.Context, contractAddress string) (uint8, error)

	mu         sync.Mutex
	broadcasts []types.SignedTransaction
	times      []int64
}

func (f *FakeLedger) CreateUnsignedTransaction(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
	if f.CreateUnsignedTransactionFunc != nil {
		return f.CreateUnsignedTransactionFunc(ctx, req)
	}
	value := req.Value
	if req.TokenAddress != "" {
		value = new(big.Int)
	}
	return testUnsigned(value), nil
}

func (f *FakeLedger) Broadcast(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error) {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, signed)
	f.times = append(f.times, serverTime)
	f.mu.Unlock()
	if f.BroadcastFunc != nil {
		return f.BroadcastFunc(ctx, signed, serverTime)
	}
	return &types.SentTransaction{Hash: "0xhash"}, nil
}

func (f *FakeLedger) FetchServerTime(ctx context.Context) (int64, error) {
	if f.FetchServerTimeFunc != nil {
		return f.FetchServerTimeFunc(ctx)
	}
	return 1700000000, nil
}

func (f *FakeLedger) FetchStatus(ctx context.Context, hash string) (types.PaymentStatus, error) {
	if f.FetchStatusFunc != nil {
		return f.FetchStatusFunc(ctx, hash)
	}
	return types.StatusConfirmed, nil
}

func (f *FakeLedger) TokenDecimals(ctx context.Context, contractAddress string) (uint8, error) {
	if f.TokenDecimalsFunc != nil {
		return f.TokenDecimalsFunc(ctx, contractAddress)
	}
	return 6, nil
}

// FakePrices 每次调用返回不同的汇率 用来检查一次构建只取一次
type FakePrices struct {
	Rates []decimal.Decimal
	Err   error
	calls int32
}

func (f *FakePrices) FetchExchangeRate(ctx context.Context, fromAsset, toFiat string) (*engine.ExchangeRate, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.Err != nil {
		return nil, f.Err
	}
	rate := decimal.NewFromInt(100)
	if len(f.Rates) > 0 {
		rate = f.Rates[int(n-1)%len(f.Rates)]
	}
	return &engine.ExchangeRate{From: fromAsset, To: toFiat, Rate: rate, FetchedAt: time.Now()}, nil
}

func (f *FakePrices) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

type FakeIdentity struct {
	ResolveUserByAddressFunc func(ctx context.Context, address string) (*types.User, error)
	ResolveUserByIDFunc      func(ctx context.Context, id string) (*types.User, error)
}

func (f *FakeIdentity) ResolveUserByAddress(ctx context.Context, address string) (*types.User, error) {
	if f.ResolveUserByAddressFunc != nil {
		return f.ResolveUserByAddressFunc(ctx, address)
	}
	return nil, nil
}

func (f *FakeIdentity) ResolveUserByID(ctx context.Context, id string) (*types.User, error) {
	if f.ResolveUserByIDFunc != nil {
		return f.ResolveUserByIDFunc(ctx, id)
	}
	return nil, nil
}

func knownUser() *types.User {
	return &types.User{ToshiID: "0xuser", PaymentAddress: toAddr, Username: "alice"}
}

type MemMessages struct {
	mu       sync.Mutex
	messages map[string]*types.Message
	pending  map[string]*types.PendingSend
	deleted  []string
	updates  int
}

func NewMemMessages() *MemMessages {
	return &MemMessages{
		messages: make(map[string]*types.Message),
		pending:  make(map[string]*types.PendingSend),
	}
}

func (s *MemMessages) PersistNewMessage(ctx context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *msg
	s.messages[msg.ID] = &c
	return nil
}

func (s *MemMessages) UpdateMessage(ctx context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *msg
	s.messages[msg.ID] = &c
	s.updates++
	return nil
}

func (s *MemMessages) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, errors.Wrap(engine.ErrNotFound, id)
	}
	c := *msg
	return &c, nil
}

func (s *MemMessages) PersistPendingSend(ctx context.Context, p *types.PendingSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.MessageID] = p
	return nil
}

func (s *MemMessages) DeleteAfterResend(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *MemMessages) All() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*types.Message, 0, len(s.messages))
	for _, m := range s.messages {
		c := *m
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *MemMessages) PendingSends() []*types.PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*types.PendingSend, 0, len(s.pending))
	for _, p := range s.pending {
		res = append(res, p)
	}
	return res
}

type MemPending struct {
	mu  sync.Mutex
	txs map[string]*types.PendingTransaction
}

func NewMemPending() *MemPending {
	return &MemPending{txs: make(map[string]*types.PendingTransaction)}
}

func (s *MemPending) PutPending(ctx context.Context, tx *types.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.TxHash == "" {
		return errors.New("pending transaction without hash")
	}
	c := *tx
	c.Payment = tx.Payment.Clone()
	s.txs[tx.TxHash] = &c
	return nil
}

func (s *MemPending) GetPending(ctx context.Context, hash string) (*types.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return nil, errors.Wrap(engine.ErrNotFound, hash)
	}
	c := *tx
	c.Payment = tx.Payment.Clone()
	return &c, nil
}

func (s *MemPending) DeletePending(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, hash)
	return nil
}

func (s *MemPending) AllPending(ctx context.Context) ([]*types.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*types.PendingTransaction, 0, len(s.txs))
	for _, tx := range s.txs {
		c := *tx
		c.Payment = tx.Payment.Clone()
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TxHash < res[j].TxHash })
	return res, nil
}

type FakeTransport struct {
	SendFunc func(ctx context.Context, msg *types.Message, recipient *types.User) error

	mu   sync.Mutex
	sent []*types.Message
}

func (f *FakeTransport) Send(ctx context.Context, msg *types.Message, recipient *types.User) error {
	if f.SendFunc != nil {
		if err := f.SendFunc(ctx, msg, recipient); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *msg
	f.sent = append(f.sent, &c)
	return nil
}

func (f *FakeTransport) Sent() []*types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Message{}, f.sent...)
}

type FakeTrust struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *FakeTrust) SaveIdentityKey(ctx context.Context, address string, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[address] = key
	return nil
}

type FakeNetwork struct {
	offline atomic.Bool
}

func (f *FakeNetwork) IsOnline() bool {
	return !f.offline.Load()
}

type web3Result struct {
	ID     string
	Result string
	Err    error
}

type FakeNotifier struct {
	mu     sync.Mutex
	failed map[string]error
	web3   []web3Result
	tokens []*types.Payment
}

func (f *FakeNotifier) PaymentFailed(to string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[string]error)
	}
	f.failed[to] = err
}

func (f *FakeNotifier) Web3Result(id string, result string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.web3 = append(f.web3, web3Result{ID: id, Result: result, Err: err})
}

func (f *FakeNotifier) TokenPayment(p *types.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, p)
}

// FakeSigner 记录同时在签名广播的个数
type FakeSigner struct {
	SignAndBroadcastFunc func(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SentTransaction, error)
	Delay                time.Duration

	inFlight    int32
	maxInFlight int32
	calls       int32
	signOnly    int32
}

func (f *FakeSigner) SignAndBroadcast(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SentTransaction, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	call := atomic.AddInt32(&f.calls, 1)
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if f.SignAndBroadcastFunc != nil {
		return f.SignAndBroadcastFunc(ctx, unsigned)
	}
	return &types.SentTransaction{Hash: hexutil.EncodeUint64(uint64(call))}, nil
}

func (f *FakeSigner) SignOnly(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SignedTransaction, error) {
	atomic.AddInt32(&f.signOnly, 1)
	return &types.SignedTransaction{Transaction: unsigned.Transaction, Signature: "0xsig"}, nil
}

func (f *FakeSigner) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

func (f *FakeSigner) MaxInFlight() int {
	return int(atomic.LoadInt32(&f.maxInFlight))
}

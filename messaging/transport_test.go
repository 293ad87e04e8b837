package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/db"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/lmxdawn/paywallet/wallet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBus 在 LocalBus 基础上记录发送次数 可以替换 Lookup
type memBus struct {
	*LocalBus
	LookupFunc func(toshiID string) ([]byte, error)

	mu   sync.Mutex
	sent int
}

func newMemBus() *memBus {
	return &memBus{LocalBus: NewLocalBus()}
}

func (b *memBus) Lookup(ctx context.Context, toshiID string) ([]byte, error) {
	if b.LookupFunc != nil {
		return b.LookupFunc(toshiID)
	}
	return b.LocalBus.Lookup(ctx, toshiID)
}

func (b *memBus) Publish(ctx context.Context, toshiID string, payload []byte) error {
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return b.LocalBus.Publish(ctx, toshiID, payload)
}

func (b *memBus) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

type collectSink struct {
	mu       sync.Mutex
	payments []*types.IncomingPayment
}

func (s *collectSink) Submit(p *types.IncomingPayment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, p)
	return true
}

func (s *collectSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

type peer struct {
	wallet    *wallet.HDWallet
	store     *db.Store
	sink      *collectSink
	transport *Transport
	user      *types.User
}

func newPeer(t *testing.T, bus Bus) *peer {
	t.Helper()
	ldb, err := db.NewLevelDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })
	store := db.NewStore(ldb)

	w, err := wallet.NewWallet(store, 1)
	require.NoError(t, err)
	id, err := w.IdentityAddress()
	require.NoError(t, err)
	address, err := w.CurrentPaymentAddress()
	require.NoError(t, err)

	sink := &collectSink{}
	return &peer{
		wallet:    w,
		store:     store,
		sink:      sink,
		transport: NewTransport(bus, store, w, store, sink),
		user:      &types.User{ToshiID: id, PaymentAddress: address},
	}
}

func paymentMessage(t *testing.T, hash string) *types.Message {
	msg := &types.Message{ID: "msg-" + hash, State: types.StateSent, CreatedAt: time.Now()}
	require.NoError(t, msg.SetPayment(&types.Payment{
		Value:       (*hexutil.Big)(hexutil.MustDecodeBig("0x3e8")),
		FromAddress: "0x1111111111111111111111111111111111111111",
		ToAddress:   "0x2222222222222222222222222222222222222222",
		TxHash:      hash,
		Status:      types.StatusUnconfirmed,
	}))
	return msg
}

func TestTransport_SendPaymentIsForwarded(t *testing.T) {
	bus := newMemBus()
	alice, bob := newPeer(t, bus), newPeer(t, bus)
	require.NoError(t, bob.transport.Start(context.Background()))
	defer bob.transport.Stop()
	require.NoError(t, alice.transport.Start(context.Background()))
	defer alice.transport.Stop()

	require.NoError(t, alice.transport.Send(context.Background(), paymentMessage(t, "0xaa"), bob.user))
	require.Eventually(t, func() bool { return bob.sink.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	got := bob.sink.payments[0]
	assert.Equal(t, "0xaa", got.Payment.TxHash)
	assert.Equal(t, int64(1000), got.Payment.ValueInt().Int64())
	assert.Equal(t, alice.user.ToshiID, got.Sender.ToshiID)
	assert.Equal(t, alice.user.PaymentAddress, got.Sender.PaymentAddress)

	// 双方都记住了对方的身份公钥
	bobKey, err := bob.wallet.IdentityPublicKey()
	require.NoError(t, err)
	trusted, err := alice.store.IdentityKey(context.Background(), bob.user.ToshiID)
	require.NoError(t, err)
	assert.Equal(t, bobKey, trusted)

	aliceKey, err := alice.wallet.IdentityPublicKey()
	require.NoError(t, err)
	trusted, err = bob.store.IdentityKey(context.Background(), alice.user.ToshiID)
	require.NoError(t, err)
	assert.Equal(t, aliceKey, trusted)
}

func TestTransport_UnregisteredRecipient(t *testing.T) {
	bus := newMemBus()
	alice := newPeer(t, bus)

	err := alice.transport.Send(context.Background(), paymentMessage(t, "0xaa"), &types.User{ToshiID: "0xnobody"})
	var unregistered *engine.UnregisteredRecipientError
	require.True(t, errors.As(err, &unregistered))
	assert.Equal(t, "0xnobody", unregistered.Address)

	err = alice.transport.Send(context.Background(), paymentMessage(t, "0xaa"), nil)
	assert.True(t, errors.As(err, &unregistered))
	assert.Equal(t, 0, bus.Sent())
}

func TestTransport_ChangedIdentityKey(t *testing.T) {
	bus := newMemBus()
	alice, bob := newPeer(t, bus), newPeer(t, bus)
	ctx := context.Background()
	require.NoError(t, alice.store.SaveIdentityKey(ctx, bob.user.ToshiID, []byte{1, 2, 3}))
	require.NoError(t, bob.transport.Start(ctx))
	defer bob.transport.Stop()

	err := alice.transport.Send(ctx, paymentMessage(t, "0xaa"), bob.user)
	var untrusted *engine.UntrustedIdentityError
	require.True(t, errors.As(err, &untrusted))
	assert.Equal(t, bob.user.ToshiID, untrusted.Address)
	bobKey, err := bob.wallet.IdentityPublicKey()
	require.NoError(t, err)
	assert.Equal(t, bobKey, untrusted.IdentityKey)
	assert.Equal(t, 0, bus.Sent())

	// 信任新的公钥后可以发送
	require.NoError(t, alice.store.SaveIdentityKey(ctx, untrusted.Address, untrusted.IdentityKey))
	require.NoError(t, alice.transport.Send(ctx, paymentMessage(t, "0xaa"), bob.user))
	assert.Equal(t, 1, bus.Sent())
}

func TestTransport_LookupError(t *testing.T) {
	bus := newMemBus()
	bus.LookupFunc = func(string) ([]byte, error) { return nil, errors.New("connection refused") }
	alice := newPeer(t, bus)

	err := alice.transport.Send(context.Background(), paymentMessage(t, "0xaa"), &types.User{ToshiID: "0xbob"})
	require.Error(t, err)
	assert.Equal(t, engine.FailureNetworkOrBroadcast, engine.ClassifyFailure(err))
}

func TestTransport_PaymentRequestIsStored(t *testing.T) {
	bus := newMemBus()
	alice, bob := newPeer(t, bus), newPeer(t, bus)
	ctx := context.Background()
	require.NoError(t, bob.transport.Start(ctx))
	defer bob.transport.Stop()

	msg := &types.Message{ID: "req-1", CreatedAt: time.Now()}
	require.NoError(t, msg.SetPaymentRequest(&types.PaymentRequest{
		Value:              "0x3e8",
		DestinationAddress: alice.user.PaymentAddress,
		State:              types.RequestPending,
	}))
	require.NoError(t, alice.transport.Send(ctx, msg, bob.user))

	require.Eventually(t, func() bool {
		_, err := bob.store.GetMessage(ctx, "req-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	stored, err := bob.store.GetMessage(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateReceived, stored.State)
	assert.Equal(t, alice.user.ToshiID, stored.ThreadID)
	assert.Equal(t, 0, bob.sink.Len())
}

func TestTransport_DropsMalformedEnvelope(t *testing.T) {
	bus := newMemBus()
	bob := newPeer(t, bus)
	require.NoError(t, bob.transport.Start(context.Background()))

	require.NoError(t, bus.Publish(context.Background(), bob.user.ToshiID, []byte("not json")))
	require.NoError(t, bus.Publish(context.Background(), bob.user.ToshiID, []byte(`{"sender":"0xmallory","message":{"id":"x","type":"payment"}}`)))
	bob.transport.Stop()
	bob.transport.Stop()
	assert.Equal(t, 0, bob.sink.Len())
}

package client

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// nativeTransferGas 不带 data 的原生币转账
const nativeTransferGas = uint64(21000)

// EthLedger 直接连接节点的链服务
type EthLedger struct {
	http     *ethclient.Client
	chainID  *big.Int
	confirms uint64 // 需要的确认数

	// nonceLock 解决 nonce 竞争问题 nonces 记录已广播的下一个 nonce
	nonceLock sync.Mutex
	nonces    map[common.Address]uint64

	decimals sync.Map
}

// NewEthLedger 连接节点 chainID 为 0 时从节点获取
func NewEthLedger(ctx context.Context, url string, chainID int64, confirms uint64) (*EthLedger, error) {
	http, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewEthLedgerWithClient(ctx, http, chainID, confirms)
}

func NewEthLedgerWithClient(ctx context.Context, http *ethclient.Client, chainID int64, confirms uint64) (*EthLedger, error) {
	id := big.NewInt(chainID)
	if chainID == 0 {
		var err error
		id, err = http.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch chain id")
		}
	}
	if confirms == 0 {
		confirms = 1
	}
	return &EthLedger{
		http:     http,
		chainID:  id,
		confirms: confirms,
		nonces:   make(map[common.Address]uint64),
	}, nil
}

// ChainID 当前链 id
func (l *EthLedger) ChainID() *big.Int {
	return new(big.Int).Set(l.chainID)
}

// Client 底层的节点连接 区块监听复用
func (l *EthLedger) Client() *ethclient.Client {
	return l.http
}

// CreateUnsignedTransaction 构建 EIP-155 的签名前编码
// 代币转账发送给合约 value 为 0
func (l *EthLedger) CreateUnsignedTransaction(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.To) {
		return nil, errors.Errorf("invalid transfer %s -> %s", req.From, req.To)
	}
	from := common.HexToAddress(req.From)
	to := common.HexToAddress(req.To)
	value := new(big.Int)
	if req.Value != nil {
		value.Set(req.Value)
	}
	data := req.Data
	if req.TokenAddress != "" {
		if !common.IsHexAddress(req.TokenAddress) {
			return nil, errors.Errorf("invalid token address %s", req.TokenAddress)
		}
		data = makeERC20TransferData(to, value)
		to = common.HexToAddress(req.TokenAddress)
		value = new(big.Int)
	}

	gasPrice, err := l.http.SuggestGasPrice(ctx)
	if err != nil {
		log.Error().Msgf("SuggestGasPrice error: %s", err.Error())
		return nil, errors.Wrapf(engine.ErrPricingUnavailable, "suggest gas price: %v", err)
	}
	gas, err := l.estimateGas(ctx, from, to, value, data)
	if err != nil {
		return nil, err
	}
	nonce, err := l.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	payload, err := encodeSkeleton(&txSkeleton{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
		ChainID:  l.chainID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode transaction skeleton")
	}
	return &types.UnsignedTransaction{
		Transaction: hexutil.Encode(payload),
		Gas:         hexutil.Uint64(gas),
		GasPrice:    (*hexutil.Big)(gasPrice),
		Nonce:       hexutil.Uint64(nonce),
		Value:       (*hexutil.Big)(value),
		From:        from.Hex(),
		To:          to.Hex(),
	}, nil
}

func (l *EthLedger) estimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if len(data) == 0 {
		return nativeTransferGas, nil
	}
	gas, err := l.http.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		log.Error().Msgf("EstimateGas error: %s", err.Error())
		return 0, errors.Wrap(err, "estimate gas")
	}
	// 合约调用留一些余量
	return gas + gas/5, nil
}

func (l *EthLedger) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	l.nonceLock.Lock()
	defer l.nonceLock.Unlock()
	nonce, err := l.http.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, errors.Wrap(err, "pending nonce")
	}
	if local, ok := l.nonces[from]; ok && local > nonce {
		nonce = local
	}
	return nonce, nil
}

// RefreshNonce 签名前重新取 nonce 构建时的 nonce 可能已被之前的交易用掉
func (l *EthLedger) RefreshNonce(ctx context.Context, unsigned *types.UnsignedTransaction) error {
	if !common.IsHexAddress(unsigned.From) {
		return errors.Wrapf(engine.ErrInvalidTask, "invalid sender %q", unsigned.From)
	}
	payload, err := hexutil.Decode(unsigned.Transaction)
	if err != nil {
		return errors.Wrapf(engine.ErrInvalidTask, "decode transaction: %v", err)
	}
	skel, err := decodeSkeleton(payload)
	if err != nil {
		return err
	}
	nonce, err := l.nextNonce(ctx, common.HexToAddress(unsigned.From))
	if err != nil {
		return err
	}
	if nonce == skel.Nonce {
		return nil
	}
	log.Info().Msgf("RefreshNonce %s nonce %d -> %d", unsigned.From, skel.Nonce, nonce)
	skel.Nonce = nonce
	payload, err = encodeSkeleton(skel)
	if err != nil {
		return errors.Wrap(err, "encode transaction skeleton")
	}
	unsigned.Transaction = hexutil.Encode(payload)
	unsigned.Nonce = hexutil.Uint64(nonce)
	return nil
}

func (l *EthLedger) markBroadcast(from common.Address, nonce uint64) {
	l.nonceLock.Lock()
	defer l.nonceLock.Unlock()
	if nonce+1 > l.nonces[from] {
		l.nonces[from] = nonce + 1
	}
}

// Broadcast 组装签名并发送 节点不需要服务器时间
func (l *EthLedger) Broadcast(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error) {
	payload, err := hexutil.Decode(signed.Transaction)
	if err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	skel, err := decodeSkeleton(payload)
	if err != nil {
		return nil, err
	}
	if skel.ChainID.Cmp(l.chainID) != 0 {
		return nil, errors.Errorf("transaction for chain %s, connected to %s", skel.ChainID, l.chainID)
	}
	sig, err := hexutil.Decode(signed.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "decode signature")
	}
	if len(sig) != 65 {
		return nil, errors.Errorf("signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	signer := ethTypes.NewEIP155Signer(l.chainID)
	tx, err := skel.transaction().WithSignature(signer, sig)
	if err != nil {
		return nil, errors.Wrap(err, "attach signature")
	}
	from, err := ethTypes.Sender(signer, tx)
	if err != nil {
		return nil, errors.Wrap(err, "recover sender")
	}
	if err := l.http.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	l.markBroadcast(from, tx.Nonce())
	log.Info().Msgf("Broadcast hash is %s from %s nonce %d at %d", tx.Hash().Hex(), from.Hex(), tx.Nonce(), serverTime)
	return &types.SentTransaction{Hash: tx.Hash().Hex()}, nil
}

// FetchServerTime 最新区块的时间
func (l *EthLedger) FetchServerTime(ctx context.Context) (int64, error) {
	header, err := l.http.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "latest header")
	}
	return int64(header.Time), nil
}

// FetchStatus 根据收据和确认数判断状态 还没有收据时为未确认
func (l *EthLedger) FetchStatus(ctx context.Context, hash string) (types.PaymentStatus, error) {
	receipt, err := l.http.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.StatusUnconfirmed, nil
		}
		return "", errors.Wrapf(err, "receipt %s", hash)
	}
	latest, err := l.http.BlockNumber(ctx)
	if err != nil {
		return "", errors.Wrap(err, "block number")
	}
	mined := receipt.BlockNumber.Uint64()
	if latest < mined || latest-mined+1 < l.confirms {
		return types.StatusUnconfirmed, nil
	}
	if receipt.Status == ethTypes.ReceiptStatusSuccessful {
		return types.StatusConfirmed, nil
	}
	return types.StatusError, nil
}

// TokenDecimals 合约的 decimals 结果会缓存
func (l *EthLedger) TokenDecimals(ctx context.Context, contractAddress string) (uint8, error) {
	key := common.HexToAddress(contractAddress)
	if v, ok := l.decimals.Load(key); ok {
		return v.(uint8), nil
	}
	res, err := l.callContract(ctx, contractAddress, "decimals")
	if err != nil {
		return 0, err
	}
	out, err := tokenAbi.Unpack("decimals", res)
	if err != nil {
		return 0, errors.Wrapf(err, "unpack decimals of %s", contractAddress)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, errors.Errorf("unexpected decimals type %T", out[0])
	}
	l.decimals.Store(key, decimals)
	return decimals, nil
}

// Balance 原生币或者代币余额
func (l *EthLedger) Balance(ctx context.Context, address string, contractAddress string) (*big.Int, error) {
	account := common.HexToAddress(address)
	if contractAddress == "" {
		return l.http.BalanceAt(ctx, account, nil)
	}
	res, err := l.callContract(ctx, contractAddress, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(res), nil
}

// callContract 直接 call 合约 用于查询 不上链
func (l *EthLedger) callContract(ctx context.Context, contractAddress string, method string, params ...interface{}) ([]byte, error) {
	input, err := tokenAbi.Pack(method, params...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	to := common.HexToAddress(contractAddress)
	res, err := l.http.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: input,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s.%s", contractAddress, method)
	}
	return res, nil
}

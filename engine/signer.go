package engine

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TransactionWallet 用于交易签名的钱包
type TransactionWallet interface {
	SignTransaction(payload []byte) ([]byte, error)
	SignWithoutRecoveryNormalization(payload []byte) ([]byte, error)
}

// TxSigner 签名并广播
type TxSigner interface {
	SignAndBroadcast(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SentTransaction, error)
	SignOnly(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SignedTransaction, error)
}

// Signer 使用当前钱包签名交易 并通过链服务广播
type Signer struct {
	ledger Ledger

	mu     sync.RWMutex
	wallet TransactionWallet
}

func NewSigner(ledger Ledger, wallet TransactionWallet) *Signer {
	return &Signer{ledger: ledger, wallet: wallet}
}

// Attach 设置当前钱包
func (s *Signer) Attach(wallet TransactionWallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet = wallet
}

// Detach 退出登录
func (s *Signer) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet = nil
}

func (s *Signer) current() (TransactionWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	return s.wallet, nil
}

// SignAndBroadcast 获取服务器时间 签名 广播
// 时间戳参与防重放 每次都要重新获取
func (s *Signer) SignAndBroadcast(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SentTransaction, error) {
	w, err := s.current()
	if err != nil {
		return nil, err
	}
	if _, err := decodePayload(unsigned); err != nil {
		return nil, err
	}
	if refresher, ok := s.ledger.(NonceRefresher); ok {
		if err := refresher.RefreshNonce(ctx, unsigned); err != nil {
			return nil, err
		}
	}
	payload, err := decodePayload(unsigned)
	if err != nil {
		return nil, err
	}
	timestamp, err := s.ledger.FetchServerTime(ctx)
	if err != nil {
		return nil, err
	}
	sig, err := w.SignTransaction(payload)
	if err != nil {
		return nil, err
	}
	signed := types.SignedTransaction{
		Transaction: unsigned.Transaction,
		Signature:   hexutil.Encode(sig),
	}
	sent, err := s.ledger.Broadcast(ctx, signed, timestamp)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("SignAndBroadcast success hash is %s nonce is %d", sent.Hash, unsigned.Nonce)
	return sent, nil
}

// SignOnly 只签名不广播 用于 dapp 自行处理广播的情况
// 签名的 V 为 27 或 28
func (s *Signer) SignOnly(ctx context.Context, unsigned *types.UnsignedTransaction) (*types.SignedTransaction, error) {
	w, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := decodePayload(unsigned)
	if err != nil {
		return nil, err
	}
	sig, err := w.SignWithoutRecoveryNormalization(payload)
	if err != nil {
		return nil, err
	}
	return &types.SignedTransaction{
		Transaction: unsigned.Transaction,
		Signature:   hexutil.Encode(sig),
	}, nil
}

func decodePayload(unsigned *types.UnsignedTransaction) ([]byte, error) {
	if unsigned == nil || unsigned.Transaction == "" {
		return nil, errors.Wrap(ErrInvalidTask, "empty unsigned transaction")
	}
	payload, err := hexutil.Decode(unsigned.Transaction)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidTask, "decode unsigned transaction: %v", err)
	}
	return payload, nil
}

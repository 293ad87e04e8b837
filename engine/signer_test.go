package engine_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/lmxdawn/paywallet/wallet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testWallet(t *testing.T) *wallet.HDWallet {
	t.Helper()
	w, err := wallet.FromMnemonic(testMnemonic, nil, 2)
	require.NoError(t, err)
	return w
}

func TestSigner_SignAndBroadcast(t *testing.T) {
	ledger := &FakeLedger{
		FetchServerTimeFunc: func(ctx context.Context) (int64, error) { return 1234, nil },
	}
	w := testWallet(t)
	s := engine.NewSigner(ledger, w)

	unsigned := testUnsigned(ether(1))
	sent, err := s.SignAndBroadcast(context.Background(), unsigned)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", sent.Hash)

	require.Len(t, ledger.broadcasts, 1)
	assert.Equal(t, int64(1234), ledger.times[0])
	signed := ledger.broadcasts[0]
	assert.Equal(t, unsigned.Transaction, signed.Transaction)

	sig, err := hexutil.Decode(signed.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.LessOrEqual(t, sig[64], byte(1))

	payload, _ := hexutil.Decode(unsigned.Transaction)
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	require.NoError(t, err)
	addr, err := w.CurrentPaymentAddress()
	require.NoError(t, err)
	assert.Equal(t, addr, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSigner_NoWallet(t *testing.T) {
	ledger := &FakeLedger{}
	s := engine.NewSigner(ledger, nil)

	_, err := s.SignAndBroadcast(context.Background(), testUnsigned(ether(1)))
	assert.ErrorIs(t, err, engine.ErrWalletUnavailable)

	s.Attach(testWallet(t))
	_, err = s.SignAndBroadcast(context.Background(), testUnsigned(ether(1)))
	assert.NoError(t, err)

	s.Detach()
	_, err = s.SignOnly(context.Background(), testUnsigned(ether(1)))
	assert.ErrorIs(t, err, engine.ErrWalletUnavailable)
	assert.Len(t, ledger.broadcasts, 1)
}

func TestSigner_ErrorsPropagateUnchanged(t *testing.T) {
	timeErr := errors.New("time unavailable")
	broadcastErr := errors.New("nonce too low")

	ledger := &FakeLedger{
		FetchServerTimeFunc: func(ctx context.Context) (int64, error) { return 0, timeErr },
	}
	s := engine.NewSigner(ledger, testWallet(t))
	_, err := s.SignAndBroadcast(context.Background(), testUnsigned(ether(1)))
	assert.Equal(t, timeErr, err)
	assert.Empty(t, ledger.broadcasts)

	ledger = &FakeLedger{
		BroadcastFunc: func(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error) {
			return nil, broadcastErr
		},
	}
	s = engine.NewSigner(ledger, testWallet(t))
	_, err = s.SignAndBroadcast(context.Background(), testUnsigned(ether(1)))
	assert.Equal(t, broadcastErr, err)
}

func TestSigner_InvalidPayload(t *testing.T) {
	s := engine.NewSigner(&FakeLedger{}, testWallet(t))
	unsigned := testUnsigned(ether(1))
	unsigned.Transaction = "not-hex"
	_, err := s.SignAndBroadcast(context.Background(), unsigned)
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
}

func TestSigner_SignOnly(t *testing.T) {
	ledger := &FakeLedger{}
	s := engine.NewSigner(ledger, testWallet(t))

	signed, err := s.SignOnly(context.Background(), testUnsigned(ether(1)))
	require.NoError(t, err)
	sig, err := hexutil.Decode(signed.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])
	assert.Empty(t, ledger.broadcasts)
}

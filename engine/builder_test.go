package engine_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuilder(ledger engine.Ledger, prices engine.PriceService, identity engine.IdentityResolver, messages engine.MessageStore) *engine.TaskBuilder {
	return engine.NewTaskBuilder(ledger, prices, identity, messages, engine.BuilderConfig{
		NativeAsset:    "ETH",
		Currency:       "USD",
		ResolveTimeout: 200 * time.Millisecond,
	})
}

func assertAmountsConsistent(t *testing.T, task *types.PaymentTask, rate decimal.Decimal) {
	t.Helper()
	sum := new(big.Int).Add(task.PaymentAmount.Wei, task.GasPrice.Wei)
	assert.Equal(t, 0, sum.Cmp(task.TotalAmount.Wei), "total must equal amount plus gas")
	for _, a := range []types.Amount{task.PaymentAmount, task.GasPrice, task.TotalAmount} {
		assert.True(t, engine.ToFiat(a.Wei, rate).Equal(a.Fiat), "fiat %s for %s wei", a.Fiat, a.Wei)
		assert.Equal(t, "USD", a.Currency)
	}
}

func TestBuildTask_SingleRateSnapshot(t *testing.T) {
	prices := &FakePrices{Rates: []decimal.Decimal{
		decimal.NewFromInt(2000),
		decimal.NewFromInt(9999),
	}}
	identity := &FakeIdentity{
		ResolveUserByAddressFunc: func(ctx context.Context, address string) (*types.User, error) {
			return knownUser(), nil
		},
	}
	b := newBuilder(&FakeLedger{}, prices, identity, NewMemMessages())

	task, err := b.BuildTask(context.Background(), fromAddr, toAddr, ether(1))
	require.NoError(t, err)

	assert.Equal(t, 1, prices.Calls())
	assert.Equal(t, types.TaskToshi, task.Kind)
	require.NotNil(t, task.User)
	assert.Equal(t, "0xuser", task.User.ToshiID)
	assertAmountsConsistent(t, task, decimal.NewFromInt(2000))

	// 21000 * 20 gwei
	assert.Equal(t, "420000000000000", task.GasPrice.Wei.String())
	assert.Equal(t, "$2000.00 USD", task.Payment.LocalPrice)
}

func TestBuildTask_UnknownCounterpartyIsExternal(t *testing.T) {
	b := newBuilder(&FakeLedger{}, &FakePrices{}, &FakeIdentity{}, NewMemMessages())

	task, err := b.BuildTask(context.Background(), fromAddr, toAddr, ether(2))
	require.NoError(t, err)
	assert.Equal(t, types.TaskExternal, task.Kind)
	assert.Nil(t, task.User)
	assertAmountsConsistent(t, task, decimal.NewFromInt(100))
}

func TestBuildTask_ResolverTimeoutIsExternal(t *testing.T) {
	identity := &FakeIdentity{
		ResolveUserByAddressFunc: func(ctx context.Context, address string) (*types.User, error) {
			time.Sleep(2 * time.Second)
			return knownUser(), nil
		},
	}
	b := newBuilder(&FakeLedger{}, &FakePrices{}, identity, NewMemMessages())

	start := time.Now()
	task, err := b.BuildTask(context.Background(), fromAddr, toAddr, ether(1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.TaskExternal, task.Kind)
}

func TestBuildTask_PricingUnavailable(t *testing.T) {
	ledger := &FakeLedger{}
	b := newBuilder(ledger, &FakePrices{Err: errors.New("rate api down")}, &FakeIdentity{}, NewMemMessages())

	_, err := b.BuildTask(context.Background(), fromAddr, toAddr, ether(1))
	assert.ErrorIs(t, err, engine.ErrPricingUnavailable)

	ledger.CreateUnsignedTransactionFunc = func(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
		u := testUnsigned(req.Value)
		u.GasPrice = nil
		return u, nil
	}
	b = newBuilder(ledger, &FakePrices{}, &FakeIdentity{}, NewMemMessages())
	_, err = b.BuildTask(context.Background(), fromAddr, toAddr, ether(1))
	assert.ErrorIs(t, err, engine.ErrPricingUnavailable)
}

func TestBuildTask_InvalidInput(t *testing.T) {
	b := newBuilder(&FakeLedger{}, &FakePrices{}, &FakeIdentity{}, NewMemMessages())

	_, err := b.BuildTask(context.Background(), "nope", toAddr, ether(1))
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
	_, err = b.BuildTask(context.Background(), fromAddr, toAddr, big.NewInt(-1))
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
}

func TestBuildExternalTask(t *testing.T) {
	prices := &FakePrices{Rates: []decimal.Decimal{decimal.RequireFromString("1234.5")}}
	b := newBuilder(&FakeLedger{}, prices, &FakeIdentity{}, NewMemMessages())

	task, err := b.BuildExternalTask(context.Background(), testUnsigned(ether(3)), "", false)
	require.NoError(t, err)
	assert.Equal(t, types.TaskExternal, task.Kind)
	assert.False(t, task.SignOnly)
	assertAmountsConsistent(t, task, decimal.RequireFromString("1234.5"))

	task, err = b.BuildExternalTask(context.Background(), testUnsigned(ether(3)), "req-1", true)
	require.NoError(t, err)
	assert.Equal(t, types.TaskWeb3, task.Kind)
	assert.True(t, task.SignOnly)
	assert.Equal(t, "req-1", task.Payment.CorrelationID)

	_, err = b.BuildExternalTask(context.Background(), &types.UnsignedTransaction{}, "", false)
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
}

func TestBuildWeb3Task(t *testing.T) {
	var got types.TransferRequest
	ledger := &FakeLedger{
		CreateUnsignedTransactionFunc: func(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
			got = req
			u := testUnsigned(req.Value)
			u.From, u.To = "", ""
			return u, nil
		},
	}
	b := newBuilder(ledger, &FakePrices{}, &FakeIdentity{}, NewMemMessages())

	task, err := b.BuildWeb3Task(context.Background(), types.TransferRequest{
		From: fromAddr,
		To:   toAddr,
		Data: []byte{0x01},
	}, "dapp-7", false)
	require.NoError(t, err)
	assert.Equal(t, types.TaskWeb3, task.Kind)
	assert.Equal(t, []byte{0x01}, got.Data)
	assert.Equal(t, 0, got.Value.Sign())
	assert.Equal(t, fromAddr, task.Unsigned.From)
	assert.Equal(t, toAddr, task.Payment.ToAddress)
}

func TestBuildTokenTask(t *testing.T) {
	b := newBuilder(&FakeLedger{}, &FakePrices{}, &FakeIdentity{}, NewMemMessages())

	task, err := b.BuildTokenTask(context.Background(), fromAddr, toAddr, tokenAddr, big.NewInt(2_500_000))
	require.NoError(t, err)
	assert.Equal(t, types.TaskToken, task.Kind)
	require.NotNil(t, task.Token)
	assert.Equal(t, uint8(6), task.Token.Decimals)
	assert.True(t, decimal.RequireFromString("2.5").Equal(task.Token.Value))
	assert.Equal(t, tokenAddr, task.Payment.TokenAddress)
	// 代币交易本身不带原生币
	assert.Equal(t, 0, task.PaymentAmount.Wei.Sign())
	assert.Equal(t, 0, task.TotalAmount.Wei.Cmp(task.GasPrice.Wei))
	assert.Empty(t, task.Payment.LocalPrice)

	_, err = b.BuildTokenTask(context.Background(), fromAddr, toAddr, "0xbad", big.NewInt(1))
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
}

func failedPaymentMessage(t *testing.T, messages *MemMessages, p *types.Payment) *types.Message {
	t.Helper()
	msg := &types.Message{ID: "msg-1", ThreadID: "0xuser", State: types.StateFailed, Error: types.ErrorNotDelivered}
	require.NoError(t, msg.SetPayment(p))
	require.NoError(t, messages.PersistNewMessage(context.Background(), msg))
	return msg
}

func TestBuildResendTask(t *testing.T) {
	messages := NewMemMessages()
	failedPaymentMessage(t, messages, &types.Payment{
		Value:     (*hexutil.Big)(ether(1)),
		ToAddress: toAddr,
	})
	identity := &FakeIdentity{
		ResolveUserByIDFunc: func(ctx context.Context, id string) (*types.User, error) {
			if id == "0xuser" {
				return knownUser(), nil
			}
			return nil, nil
		},
	}
	b := newBuilder(&FakeLedger{}, &FakePrices{}, identity, messages)

	task, err := b.BuildResendTask(context.Background(), fromAddr, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskResend, task.Kind)
	assert.Equal(t, "msg-1", task.MessageID)
	assert.Equal(t, fromAddr, task.Payment.FromAddress)
	assert.NotEmpty(t, task.Unsigned.Transaction)
	assertAmountsConsistent(t, task, decimal.NewFromInt(100))
}

func TestBuildResendTask_AlreadyBroadcastIsNotRebuilt(t *testing.T) {
	messages := NewMemMessages()
	failedPaymentMessage(t, messages, &types.Payment{
		Value:     (*hexutil.Big)(ether(1)),
		ToAddress: toAddr,
		TxHash:    "0xabc",
		Status:    types.StatusUnconfirmed,
	})
	ledger := &FakeLedger{
		CreateUnsignedTransactionFunc: func(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
			t.Fatal("must not build a new transaction")
			return nil, nil
		},
	}
	identity := &FakeIdentity{
		ResolveUserByIDFunc: func(ctx context.Context, id string) (*types.User, error) { return knownUser(), nil },
	}
	b := newBuilder(ledger, &FakePrices{}, identity, messages)

	task, err := b.BuildResendTask(context.Background(), fromAddr, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", task.Payment.TxHash)
	assert.Empty(t, task.Unsigned.Transaction)
}

func TestBuildResendTask_Errors(t *testing.T) {
	messages := NewMemMessages()
	b := newBuilder(&FakeLedger{}, &FakePrices{}, &FakeIdentity{}, messages)

	_, err := b.BuildResendTask(context.Background(), fromAddr, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	failedPaymentMessage(t, messages, &types.Payment{Value: (*hexutil.Big)(ether(1)), ToAddress: toAddr})
	_, err = b.BuildResendTask(context.Background(), fromAddr, "msg-1")
	assert.ErrorIs(t, err, engine.ErrUnknownCounterparty)

	sent := &types.Message{ID: "msg-2", State: types.StateSent}
	require.NoError(t, sent.SetPayment(&types.Payment{ToAddress: toAddr}))
	require.NoError(t, messages.PersistNewMessage(context.Background(), sent))
	_, err = b.BuildResendTask(context.Background(), fromAddr, "msg-2")
	assert.ErrorIs(t, err, engine.ErrInvalidTask)
}

func TestFormatFiat(t *testing.T) {
	assert.Equal(t, "$1.23 USD", engine.FormatFiat(decimal.RequireFromString("1.234"), "usd"))
	assert.Equal(t, "€0.50 EUR", engine.FormatFiat(decimal.RequireFromString("0.5"), "EUR"))
	assert.Equal(t, "10.00 JPY", engine.FormatFiat(decimal.NewFromInt(10), "JPY"))
}

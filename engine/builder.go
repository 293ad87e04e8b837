package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// NativeDecimals 原生币的精度
const NativeDecimals = 18

// BuilderConfig 构建付款任务的配置
type BuilderConfig struct {
	NativeAsset    string // ETH
	Currency       string // USD
	ResolveTimeout time.Duration
}

// TaskBuilder 把付款意图转换成已定价的付款任务
type TaskBuilder struct {
	ledger   Ledger
	prices   PriceService
	identity IdentityResolver
	messages MessageStore
	conf     BuilderConfig
}

func NewTaskBuilder(ledger Ledger, prices PriceService, identity IdentityResolver, messages MessageStore, conf BuilderConfig) *TaskBuilder {
	if conf.NativeAsset == "" {
		conf.NativeAsset = "ETH"
	}
	if conf.Currency == "" {
		conf.Currency = "USD"
	}
	if conf.ResolveTimeout <= 0 {
		conf.ResolveTimeout = DefaultResolveTimeout
	}
	return &TaskBuilder{
		ledger:   ledger,
		prices:   prices,
		identity: identity,
		messages: messages,
		conf:     conf,
	}
}

// BuildTask 付款给某个地址 能解析出 Toshi 用户时为 TaskToshi 否则降级为 TaskExternal
func (b *TaskBuilder) BuildTask(ctx context.Context, from, to string, amount *big.Int) (*types.PaymentTask, error) {
	if err := validateTransfer(from, to, amount); err != nil {
		return nil, err
	}
	unsigned, err := b.ledger.CreateUnsignedTransaction(ctx, types.TransferRequest{
		From:  from,
		To:    to,
		Value: amount,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create unsigned transaction")
	}
	rate, err := b.exchangeRate(ctx)
	if err != nil {
		return nil, err
	}

	payment := &types.Payment{
		Value:       (*hexutil.Big)(new(big.Int).Set(amount)),
		FromAddress: from,
		ToAddress:   to,
	}
	task, err := b.priceTask(types.TaskExternal, unsigned, payment, rate)
	if err != nil {
		return nil, err
	}

	user, err := resolveWithTimeout(ctx, b.conf.ResolveTimeout, func(ctx context.Context) (*types.User, error) {
		return b.identity.ResolveUserByAddress(ctx, to)
	})
	if err != nil {
		log.Info().Msgf("BuildTask counterparty %s not resolved, external payment: %s", to, err.Error())
		return task, nil
	}
	task.Kind = types.TaskToshi
	task.User = user
	return task, nil
}

// BuildExternalTask 外部或者 dapp 构建的未签名交易 不解析对方身份
// correlationID 不为空时结果会按它回调
func (b *TaskBuilder) BuildExternalTask(ctx context.Context, unsigned *types.UnsignedTransaction, correlationID string, signOnly bool) (*types.PaymentTask, error) {
	if unsigned == nil || unsigned.Transaction == "" {
		return nil, errors.Wrap(ErrInvalidTask, "empty unsigned transaction")
	}
	rate, err := b.exchangeRate(ctx)
	if err != nil {
		return nil, err
	}
	payment := &types.Payment{
		Value:         (*hexutil.Big)(unsigned.ValueInt()),
		FromAddress:   unsigned.From,
		ToAddress:     unsigned.To,
		CorrelationID: correlationID,
	}
	kind := types.TaskExternal
	if correlationID != "" {
		kind = types.TaskWeb3
	}
	task, err := b.priceTask(kind, unsigned, payment, rate)
	if err != nil {
		return nil, err
	}
	task.SignOnly = signOnly && kind == types.TaskWeb3
	return task, nil
}

// BuildWeb3Task dapp 传入交易参数 由链服务构建未签名交易
func (b *TaskBuilder) BuildWeb3Task(ctx context.Context, req types.TransferRequest, correlationID string, signOnly bool) (*types.PaymentTask, error) {
	if req.Value == nil {
		req.Value = new(big.Int)
	}
	if err := validateTransfer(req.From, req.To, req.Value); err != nil {
		return nil, err
	}
	unsigned, err := b.ledger.CreateUnsignedTransaction(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create unsigned transaction")
	}
	if unsigned.From == "" {
		unsigned.From = req.From
	}
	if unsigned.To == "" {
		unsigned.To = req.To
	}
	return b.BuildExternalTask(ctx, unsigned, correlationID, signOnly)
}

// BuildTokenTask 代币付款 gas 仍然使用原生币
func (b *TaskBuilder) BuildTokenTask(ctx context.Context, from, to, tokenAddress string, amount *big.Int) (*types.PaymentTask, error) {
	if err := validateTransfer(from, to, amount); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(tokenAddress) {
		return nil, errors.Wrapf(ErrInvalidTask, "token address %q", tokenAddress)
	}
	unsigned, err := b.ledger.CreateUnsignedTransaction(ctx, types.TransferRequest{
		From:         from,
		To:           to,
		Value:        amount,
		TokenAddress: tokenAddress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create unsigned token transaction")
	}
	decimals, err := b.ledger.TokenDecimals(ctx, tokenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "token %s decimals", tokenAddress)
	}
	rate, err := b.exchangeRate(ctx)
	if err != nil {
		return nil, err
	}
	payment := &types.Payment{
		Value:        (*hexutil.Big)(new(big.Int).Set(amount)),
		FromAddress:  from,
		ToAddress:    to,
		TokenAddress: tokenAddress,
	}
	task, err := b.priceTask(types.TaskToken, unsigned, payment, rate)
	if err != nil {
		return nil, err
	}
	task.Token = &types.Token{
		ContractAddress: tokenAddress,
		Decimals:        decimals,
		RawValue:        new(big.Int).Set(amount),
		Value:           decimal.NewFromBigInt(amount, -int32(decimals)),
	}
	return task, nil
}

// BuildResendTask 重发失败的付款消息 沿用原来的消息 id
// 已经广播过的付款只重发消息 不会再次签名
func (b *TaskBuilder) BuildResendTask(ctx context.Context, from, messageID string) (*types.PaymentTask, error) {
	if b.messages == nil {
		return nil, errors.Wrap(ErrInvalidTask, "no message store")
	}
	msg, err := b.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errors.Wrapf(err, "load message %s", messageID)
	}
	if msg.Type != types.MessagePayment || msg.State != types.StateFailed {
		return nil, errors.Wrapf(ErrInvalidTask, "message %s is %s %s", messageID, msg.Type, msg.State)
	}
	payment, err := msg.PaymentPayload()
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidTask, "message %s payload: %v", messageID, err)
	}

	user, err := resolveWithTimeout(ctx, b.conf.ResolveTimeout, func(ctx context.Context) (*types.User, error) {
		return b.identity.ResolveUserByID(ctx, msg.ThreadID)
	})
	if err != nil {
		return nil, err
	}

	rate, err := b.exchangeRate(ctx)
	if err != nil {
		return nil, err
	}

	var unsigned *types.UnsignedTransaction
	if payment.TxHash != "" {
		unsigned = &types.UnsignedTransaction{Value: payment.Value}
	} else {
		payment.FromAddress = from
		unsigned, err = b.ledger.CreateUnsignedTransaction(ctx, types.TransferRequest{
			From:  from,
			To:    payment.ToAddress,
			Value: payment.ValueInt(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "create unsigned transaction")
		}
	}
	task, err := b.priceTask(types.TaskResend, unsigned, payment, rate)
	if err != nil {
		return nil, err
	}
	task.User = user
	task.MessageID = msg.ID
	return task, nil
}

// exchangeRate 每次构建只获取一次汇率 所有法币金额都基于这一个快照
func (b *TaskBuilder) exchangeRate(ctx context.Context) (*ExchangeRate, error) {
	rate, err := b.prices.FetchExchangeRate(ctx, b.conf.NativeAsset, b.conf.Currency)
	if err != nil {
		return nil, errors.Wrapf(ErrPricingUnavailable, "%s/%s: %v", b.conf.NativeAsset, b.conf.Currency, err)
	}
	if rate == nil {
		return nil, errors.Wrapf(ErrPricingUnavailable, "%s/%s: empty rate", b.conf.NativeAsset, b.conf.Currency)
	}
	return rate, nil
}

func (b *TaskBuilder) priceTask(kind types.TaskKind, unsigned *types.UnsignedTransaction, payment *types.Payment, rate *ExchangeRate) (*types.PaymentTask, error) {
	if unsigned == nil {
		return nil, errors.Wrap(ErrInvalidTask, "nil unsigned transaction")
	}
	if unsigned.Transaction != "" && unsigned.GasPrice == nil {
		return nil, errors.Wrap(ErrPricingUnavailable, "missing gas price")
	}
	amount := unsigned.ValueInt()
	gas := unsigned.GasCost()
	total := new(big.Int).Add(amount, gas)

	task := &types.PaymentTask{
		Kind:          kind,
		PaymentAmount: toAmount(amount, rate),
		GasPrice:      toAmount(gas, rate),
		TotalAmount:   toAmount(total, rate),
		Payment:       payment,
		Unsigned:      *unsigned,
	}
	if !payment.IsToken() {
		payment.LocalPrice = FormatFiat(task.PaymentAmount.Fiat, rate.To)
	}
	return task, nil
}

func toAmount(wei *big.Int, rate *ExchangeRate) types.Amount {
	return types.Amount{
		Wei:      wei,
		Fiat:     ToFiat(wei, rate.Rate),
		Currency: rate.To,
	}
}

// ToFiat wei 按汇率换算成法币
func ToFiat(wei *big.Int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -NativeDecimals).Mul(rate)
}

// FormatFiat 法币展示 保留两位小数
func FormatFiat(value decimal.Decimal, currency string) string {
	symbol := ""
	switch strings.ToUpper(currency) {
	case "USD", "CAD", "AUD":
		symbol = "$"
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	}
	return fmt.Sprintf("%s%s %s", symbol, value.StringFixed(2), strings.ToUpper(currency))
}

func validateTransfer(from, to string, amount *big.Int) error {
	if !common.IsHexAddress(from) {
		return errors.Wrapf(ErrInvalidTask, "from address %q", from)
	}
	if !common.IsHexAddress(to) {
		return errors.Wrapf(ErrInvalidTask, "to address %q", to)
	}
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrap(ErrInvalidTask, "negative amount")
	}
	return nil
}

package types

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Payment 一笔付款的记录 会作为消息的 payload 存储
type Payment struct {
	Value         *hexutil.Big  `json:"value"`
	FromAddress   string        `json:"fromAddress"`
	ToAddress     string        `json:"toAddress"`
	TokenAddress  string        `json:"tokenAddress,omitempty"` // 为空表示原生币
	CorrelationID string        `json:"correlationId,omitempty"`
	TxHash        string        `json:"txHash,omitempty"`
	Status        PaymentStatus `json:"status,omitempty"`
	LocalPrice    string        `json:"localPrice,omitempty"` // 法币展示 例如 "$1.23 USD"
}

// ValueInt 付款数量
func (p *Payment) ValueInt() *big.Int {
	if p.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.Value.ToInt())
}

// IsToken 是否是代币付款
func (p *Payment) IsToken() bool {
	return p.TokenAddress != ""
}

// Clone 复制一份 避免共享修改
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Value != nil {
		c.Value = (*hexutil.Big)(p.ValueInt())
	}
	return &c
}

// MarshalBinary 用于 redis 存储
func (p Payment) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// Amount 原生币数量以及对应的法币金额
type Amount struct {
	Wei      *big.Int        `json:"wei"`
	Fiat     decimal.Decimal `json:"fiat"`
	Currency string          `json:"currency"`
}

// TaskKind 付款任务的类型
type TaskKind int

const (
	TaskToshi    TaskKind = iota // 付款给 Toshi 用户
	TaskResend                   // 重发失败的付款消息
	TaskExternal                 // 付款给外部地址
	TaskToken                    // 代币付款
	TaskWeb3                     // dapp 发起 需要回调结果
)

func (k TaskKind) String() string {
	switch k {
	case TaskToshi:
		return "toshi"
	case TaskResend:
		return "resend"
	case TaskExternal:
		return "external"
	case TaskToken:
		return "token"
	case TaskWeb3:
		return "web3"
	}
	return "unknown"
}

// Token 代币信息
type Token struct {
	ContractAddress string          `json:"contractAddress"`
	Decimals        uint8           `json:"decimals"`
	RawValue        *big.Int        `json:"rawValue"`
	Value           decimal.Decimal `json:"value"` // 按 decimals 换算后的数量
}

// PaymentTask 已定价的付款任务 构建后不再修改金额
// TotalAmount.Wei == PaymentAmount.Wei + GasPrice.Wei
type PaymentTask struct {
	Kind          TaskKind            `json:"kind"`
	PaymentAmount Amount              `json:"paymentAmount"`
	GasPrice      Amount              `json:"gasPrice"`
	TotalAmount   Amount              `json:"totalAmount"`
	Payment       *Payment            `json:"payment"`
	Unsigned      UnsignedTransaction `json:"unsignedTransaction"`

	User      *User  `json:"user,omitempty"`      // TaskToshi TaskResend
	MessageID string `json:"messageId,omitempty"` // TaskResend
	Token     *Token `json:"token,omitempty"`     // TaskToken
	SignOnly  bool   `json:"signOnly,omitempty"`  // TaskWeb3 只签名不广播
}

// IncomingPayment 收到的付款事件 来自链上监听或者消息
type IncomingPayment struct {
	Payment *Payment `json:"payment"`
	// 发送方已知时由消息层带上 否则根据地址解析
	Sender *User `json:"sender,omitempty"`
}

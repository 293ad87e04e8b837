package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PaymentStatus 交易在链上的状态
type PaymentStatus string

const (
	StatusUnconfirmed PaymentStatus = "unconfirmed" // 已广播 未确认
	StatusConfirmed   PaymentStatus = "confirmed"   // 已确认
	StatusError       PaymentStatus = "error"       // 链上执行失败
)

// IsFinal 是否是最终状态
func (s PaymentStatus) IsFinal() bool {
	return s == StatusConfirmed || s == StatusError
}

// TransferRequest 向链服务请求构建一笔未签名交易
type TransferRequest struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Value        *big.Int `json:"value"`
	TokenAddress string   `json:"token_address,omitempty"` // 为空表示原生币
	Data         []byte   `json:"data,omitempty"`
}

// UnsignedTransaction 未签名交易
// Transaction 是链相关的编码 对其做 keccak256 即为签名哈希
type UnsignedTransaction struct {
	Transaction string         `json:"tx"`
	Gas         hexutil.Uint64 `json:"gas"`
	GasPrice    *hexutil.Big   `json:"gas_price"`
	Nonce       hexutil.Uint64 `json:"nonce"`
	Value       *hexutil.Big   `json:"value"`
	From        string         `json:"from,omitempty"`
	To          string         `json:"to,omitempty"`
}

// GasCost gas * gasPrice
func (u *UnsignedTransaction) GasCost() *big.Int {
	if u.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(uint64(u.Gas)), u.GasPrice.ToInt())
}

// ValueInt 交易的原生币数量
func (u *UnsignedTransaction) ValueInt() *big.Int {
	if u.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(u.Value.ToInt())
}

// SignedTransaction 签名后的交易
type SignedTransaction struct {
	Transaction string `json:"tx"`
	Signature   string `json:"signature"`
}

// SentTransaction 广播结果
type SentTransaction struct {
	Hash string `json:"tx_hash"`
}

// PendingTransaction 本地跟踪中的交易 以交易哈希为 key
type PendingTransaction struct {
	TxHash    string   `json:"tx_hash"`
	MessageID string   `json:"message_id,omitempty"` // 关联的消息 外部交易为空
	ThreadID  string   `json:"thread_id,omitempty"`
	Payment   *Payment `json:"payment"`
}

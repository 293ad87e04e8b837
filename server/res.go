package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response ...
type Response struct {
	Code    int         `json:"code"`    // 错误code码
	Message string      `json:"message"` // 错误信息
	Data    interface{} `json:"data"`    // 成功时返回的对象
}

// APIResponse ....
func APIResponse(Ctx *gin.Context, err error, data interface{}) {
	if err == nil {
		err = OK
	}
	codeNum, message := DecodeErr(err)
	Ctx.JSON(http.StatusOK, Response{
		Code:    codeNum,
		Message: message,
		Data:    data,
	})
}

// AmountRes 金额 wei 和法币
type AmountRes struct {
	Wei  string `json:"wei"`
	Fiat string `json:"fiat,omitempty"` // 例如 "$1.23 USD"
}

// TaskRes 付款任务的报价
type TaskRes struct {
	Kind          string    `json:"kind"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Username      string    `json:"username,omitempty"` // 对方是 Toshi 用户时有值
	PaymentAmount AmountRes `json:"paymentAmount"`
	GasPrice      AmountRes `json:"gasPrice"`
	TotalAmount   AmountRes `json:"totalAmount"`
	Token         *TokenRes `json:"token,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	MessageID     string    `json:"messageId,omitempty"`
	Queued        bool      `json:"queued"` // 是否已经进入发送队列
}

// TokenRes 代币付款的数量
type TokenRes struct {
	ContractAddress string `json:"contractAddress"`
	Decimals        uint8  `json:"decimals"`
	Value           string `json:"value"`
}

// SwitchAccountRes 切换后的钱包
type SwitchAccountRes struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
}

// BalanceRes 余额
type BalanceRes struct {
	Address  string `json:"address"`
	Contract string `json:"contract,omitempty"`
	Balance  string `json:"balance"`
}

// ReconcileRes 对账提交的数量
type ReconcileRes struct {
	Submitted int `json:"submitted"`
}

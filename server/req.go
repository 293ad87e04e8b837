package server

// SwitchAccountReq 切换当前钱包
type SwitchAccountReq struct {
	Index *int `json:"index" binding:"required,min=0"` // 钱包下标
}

// PaymentReq 付款给 Toshi 用户或外部地址
type PaymentReq struct {
	To    string `json:"to" binding:"required,eth_addr"` // 接收者的收款地址
	Value string `json:"value" binding:"required"`       // wei 十进制或 0x 开头的十六进制
}

// TokenPaymentReq 代币付款
type TokenPaymentReq struct {
	To           string `json:"to" binding:"required,eth_addr"`           // 接收者
	TokenAddress string `json:"tokenAddress" binding:"required,eth_addr"` // 代币合约
	Value        string `json:"value" binding:"required"`                 // 最小单位的数量
}

// Web3PaymentReq dapp 发起的交易
type Web3PaymentReq struct {
	To            string `json:"to" binding:"required,eth_addr"`
	Value         string `json:"value"`                                // 为空表示 0
	Data          string `json:"data" binding:"omitempty,hexadecimal"` // 调用数据
	CorrelationID string `json:"correlationId"`                        // 为空时生成 结果通过 websocket 返回
	SignOnly      bool   `json:"signOnly"`                             // 只签名不广播
}

// ResendReq 重发失败的付款消息
type ResendReq struct {
	MessageID string `json:"messageId" binding:"required"`
}

// PaymentRequestStateReq 修改付款请求的状态
type PaymentRequestStateReq struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId" binding:"required"`
	State     string `json:"state" binding:"required,oneof=pending accepted rejected paid"`
}

// BalanceReq 查询当前钱包余额
type BalanceReq struct {
	Contract string `form:"contract" binding:"omitempty,eth_addr"` // 为空查询原生币
}

// MessagesReq 会话消息列表
type MessagesReq struct {
	ThreadID string `form:"threadId"`
}

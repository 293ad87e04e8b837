package types

import "encoding/json"

// Wallet 导出的钱包信息（不含私钥）
type Wallet struct {
	IdentityAddress string         `json:"identity_address"` // 身份地址
	PaymentAddress  string         `json:"payment_address"`  // 当前的收付款地址
	Index           int            `json:"index"`            // 当前的钱包下标
	Addresses       []AddressLabel `json:"addresses"`        // 所有的收付款地址
}

// AddressLabel 地址和展示名称 名称为 "Wallet N" N 从 1 开始
type AddressLabel struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

// User 对方用户的身份信息
type User struct {
	ToshiID        string `json:"toshi_id"`        // 身份地址
	PaymentAddress string `json:"payment_address"` // 收款地址
	Username       string `json:"username"`
	Name           string `json:"name"`
	IsApp          bool   `json:"is_app"`
}

// MarshalBinary 用于 redis 缓存
func (u User) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

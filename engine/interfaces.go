package engine

import (
	"context"
	"time"

	"github.com/lmxdawn/paywallet/types"
	"github.com/shopspring/decimal"
)

// Ledger 链服务
type Ledger interface {
	CreateUnsignedTransaction(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error)
	Broadcast(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error)
	FetchServerTime(ctx context.Context) (int64, error)
	FetchStatus(ctx context.Context, hash string) (types.PaymentStatus, error)
	TokenDecimals(ctx context.Context, contractAddress string) (uint8, error)
}

// NonceRefresher 由本地分配 nonce 的链服务实现
// 签名前在发送队列里重新取 nonce 构建后排队的交易不会重复
type NonceRefresher interface {
	RefreshNonce(ctx context.Context, unsigned *types.UnsignedTransaction) error
}

// ExchangeRate 某一时刻的汇率快照
type ExchangeRate struct {
	From      string
	To        string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// PriceService 汇率服务
type PriceService interface {
	FetchExchangeRate(ctx context.Context, fromAsset, toFiat string) (*ExchangeRate, error)
}

// IdentityResolver 用户身份解析 找不到时返回 nil, nil
type IdentityResolver interface {
	ResolveUserByAddress(ctx context.Context, paymentAddress string) (*types.User, error)
	ResolveUserByID(ctx context.Context, toshiID string) (*types.User, error)
}

// MessageStore 会话消息存储
type MessageStore interface {
	PersistNewMessage(ctx context.Context, msg *types.Message) error
	UpdateMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)
	PersistPendingSend(ctx context.Context, pending *types.PendingSend) error
	DeleteAfterResend(ctx context.Context, messageID string) error
}

// Transport 消息发送
type Transport interface {
	Send(ctx context.Context, msg *types.Message, recipient *types.User) error
}

// TrustStore 对方身份密钥的信任存储
type TrustStore interface {
	SaveIdentityKey(ctx context.Context, address string, identityKey []byte) error
}

// PendingStore 以交易哈希为 key 的待确认交易表
type PendingStore interface {
	PutPending(ctx context.Context, tx *types.PendingTransaction) error
	GetPending(ctx context.Context, hash string) (*types.PendingTransaction, error)
	DeletePending(ctx context.Context, hash string) error
	AllPending(ctx context.Context) ([]*types.PendingTransaction, error)
}

// Connectivity 网络状态
type Connectivity interface {
	IsOnline() bool
}

// Notifier 不落地到消息的通知
type Notifier interface {
	PaymentFailed(toAddress string, err error)
	Web3Result(correlationID string, result string, err error)
	TokenPayment(payment *types.Payment)
}

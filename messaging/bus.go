package messaging

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	identityKeyPrefix = "toshi:identity:"
	userChannelPrefix = "toshi:user:"
)

// Bus 用户目录和消息通道
type Bus interface {
	// Register 发布自己的身份公钥
	Register(ctx context.Context, toshiID string, identityKey []byte) error
	// Lookup 查询用户的身份公钥 没有注册返回 nil, nil
	Lookup(ctx context.Context, toshiID string) ([]byte, error)
	// Publish 发送到用户的通道
	Publish(ctx context.Context, toshiID string, payload []byte) error
	// Subscribe 订阅用户的通道 返回的关闭函数可以重复调用
	Subscribe(ctx context.Context, toshiID string) (<-chan []byte, func() error, error)
}

// UserChannel 用户的消息通道名
func UserChannel(toshiID string) string {
	return userChannelPrefix + strings.ToLower(toshiID)
}

// RedisBus 基于 redis pub/sub 的 Bus
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Register(ctx context.Context, toshiID string, identityKey []byte) error {
	return b.rdb.Set(ctx, identityKeyPrefix+strings.ToLower(toshiID), hexutil.Encode(identityKey), 0).Err()
}

func (b *RedisBus) Lookup(ctx context.Context, toshiID string) ([]byte, error) {
	raw, err := b.rdb.Get(ctx, identityKeyPrefix+strings.ToLower(toshiID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %s", toshiID)
	}
	return hexutil.Decode(raw)
}

func (b *RedisBus) Publish(ctx context.Context, toshiID string, payload []byte) error {
	return b.rdb.Publish(ctx, UserChannel(toshiID), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, toshiID string) (<-chan []byte, func() error, error) {
	ps := b.rdb.Subscribe(ctx, UserChannel(toshiID))
	// 等待订阅确认
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, errors.Wrapf(err, "subscribe %s", toshiID)
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, ps.Close, nil
}

package messaging

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// localBuffer 每个订阅者的缓冲
const localBuffer = 64

// LocalBus 进程内的 Bus 没有配置 redis 时使用
// 只能投递给同一进程内注册的用户
type LocalBus struct {
	mu   sync.RWMutex
	keys map[string][]byte
	subs map[string]chan []byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		keys: make(map[string][]byte),
		subs: make(map[string]chan []byte),
	}
}

func (b *LocalBus) Register(ctx context.Context, toshiID string, identityKey []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[strings.ToLower(toshiID)] = append([]byte(nil), identityKey...)
	return nil
}

func (b *LocalBus) Lookup(ctx context.Context, toshiID string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.keys[strings.ToLower(toshiID)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), key...), nil
}

// Publish 订阅者缓冲已满时丢弃
func (b *LocalBus) Publish(ctx context.Context, toshiID string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[strings.ToLower(toshiID)]
	if !ok {
		return nil
	}
	select {
	case ch <- payload:
	default:
		log.Warn().Msgf("LocalBus %s buffer full, drop message", toshiID)
	}
	return nil
}

// Subscribe 同一用户重复订阅时旧的通道会被关闭
func (b *LocalBus) Subscribe(ctx context.Context, toshiID string) (<-chan []byte, func() error, error) {
	id := strings.ToLower(toshiID)
	ch := make(chan []byte, localBuffer)

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[id]; ok && cur == ch {
			delete(b.subs, id)
			close(ch)
		}
		return nil
	}, nil
}

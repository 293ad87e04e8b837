package engine

import (
	"context"
	"time"

	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
)

// DefaultResolveTimeout 等待身份解析的最长时间
const DefaultResolveTimeout = 30 * time.Second

type resolveResult struct {
	user *types.User
	err  error
}

// resolveWithTimeout 等待身份解析 超时返回 ErrRecipientTimeout
// 解析器不响应 ctx 时也不会一直阻塞
func resolveWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (*types.User, error)) (*types.User, error) {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan resolveResult, 1)
	go func() {
		user, err := fn(ctx)
		ch <- resolveResult{user: user, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrRecipientTimeout
			}
			return nil, errors.Wrapf(ErrUnknownCounterparty, "%v", res.err)
		}
		if res.user == nil {
			return nil, ErrUnknownCounterparty
		}
		return res.user, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRecipientTimeout
		}
		return nil, ctx.Err()
	}
}

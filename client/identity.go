package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lmxdawn/paywallet/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	identityByAddressKey = "identity:address:"
	identityByIDKey      = "identity:id:"
)

// IdentityClient 身份服务 结果可以缓存到 redis
type IdentityClient struct {
	baseURL string
	http    *retryablehttp.Client
	rdb     *redis.Client
	ttl     time.Duration
}

// NewIdentityClient rdb 为 nil 时不缓存
func NewIdentityClient(baseURL string, http *retryablehttp.Client, rdb *redis.Client, ttl time.Duration) *IdentityClient {
	if http == nil {
		http = NewHTTPClient(0, 2)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		rdb:     rdb,
		ttl:     ttl,
	}
}

type searchResponse struct {
	Results []*types.User `json:"results"`
}

// ResolveUserByAddress GET /v1/search/user?payment_address= 找不到返回 nil, nil
func (c *IdentityClient) ResolveUserByAddress(ctx context.Context, paymentAddress string) (*types.User, error) {
	key := identityByAddressKey + strings.ToLower(paymentAddress)
	if user := c.cached(ctx, key); user != nil {
		return user, nil
	}
	res := &searchResponse{}
	u := c.baseURL + "/v1/search/user?payment_address=" + url.QueryEscape(paymentAddress)
	if err := doJSON(ctx, c.http, http.MethodGet, u, nil, nil, res); err != nil {
		return nil, err
	}
	for _, user := range res.Results {
		if user != nil && strings.EqualFold(user.PaymentAddress, paymentAddress) {
			c.store(ctx, user)
			return user, nil
		}
	}
	return nil, nil
}

// ResolveUserByID GET /v1/user/{id} 找不到返回 nil, nil
func (c *IdentityClient) ResolveUserByID(ctx context.Context, toshiID string) (*types.User, error) {
	key := identityByIDKey + strings.ToLower(toshiID)
	if user := c.cached(ctx, key); user != nil {
		return user, nil
	}
	user := &types.User{}
	err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/v1/user/"+url.PathEscape(toshiID), nil, nil, user)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.ToshiID == "" {
		return nil, nil
	}
	c.store(ctx, user)
	return user, nil
}

func (c *IdentityClient) cached(ctx context.Context, key string) *types.User {
	if c.rdb == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Msgf("IdentityClient cache get %s err is %s", key, err.Error())
		}
		return nil
	}
	user := &types.User{}
	if err := json.Unmarshal(data, user); err != nil {
		return nil
	}
	return user
}

func (c *IdentityClient) store(ctx context.Context, user *types.User) {
	if c.rdb == nil {
		return
	}
	pipe := c.rdb.TxPipeline()
	if user.PaymentAddress != "" {
		pipe.Set(ctx, identityByAddressKey+strings.ToLower(user.PaymentAddress), user, c.ttl)
	}
	pipe.Set(ctx, identityByIDKey+strings.ToLower(user.ToshiID), user, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Msgf("IdentityClient cache set %s err is %s", user.ToshiID, err.Error())
	}
}

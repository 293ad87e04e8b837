package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PriceClient 汇率服务 返回格式 {"data":{"currency":"ETH","rates":{"USD":"1234.5"}}}
type PriceClient struct {
	baseURL string
	http    *retryablehttp.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]*engine.ExchangeRate
}

// NewPriceClient ttl 大于 0 时缓存汇率
func NewPriceClient(baseURL string, http *retryablehttp.Client, ttl time.Duration) *PriceClient {
	if http == nil {
		http = NewHTTPClient(0, 2)
	}
	return &PriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		ttl:     ttl,
		cache:   make(map[string]*engine.ExchangeRate),
	}
}

type ratesResponse struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// FetchExchangeRate fromAsset 到 toFiat 的汇率
func (c *PriceClient) FetchExchangeRate(ctx context.Context, fromAsset, toFiat string) (*engine.ExchangeRate, error) {
	fromAsset, toFiat = strings.ToUpper(fromAsset), strings.ToUpper(toFiat)
	key := fromAsset + "/" + toFiat
	if rate := c.cached(key); rate != nil {
		return rate, nil
	}

	res := &ratesResponse{}
	u := c.baseURL + "/v2/exchange-rates?currency=" + url.QueryEscape(fromAsset)
	if err := doJSON(ctx, c.http, http.MethodGet, u, nil, nil, res); err != nil {
		return nil, err
	}
	raw, ok := res.Data.Rates[toFiat]
	if !ok {
		return nil, errors.Errorf("no %s rate for %s", toFiat, fromAsset)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s rate %q", key, raw)
	}
	if value.Sign() <= 0 {
		return nil, errors.Errorf("invalid %s rate %s", key, raw)
	}
	rate := &engine.ExchangeRate{
		From:      fromAsset,
		To:        toFiat,
		Rate:      value,
		FetchedAt: time.Now(),
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = rate
		c.mu.Unlock()
	}
	return rate, nil
}

func (c *PriceClient) cached(key string) *engine.ExchangeRate {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rate, ok := c.cache[key]
	if !ok || time.Since(rate.FetchedAt) > c.ttl {
		return nil
	}
	cp := *rate
	return &cp
}

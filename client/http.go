package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultHTTPTimeout 单次请求的超时时间
const DefaultHTTPTimeout = 15 * time.Second

// StatusError 服务返回了非 2xx 的状态码
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// IsNotFound 是否是 404
func IsNotFound(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.Code == http.StatusNotFound
}

// zeroLogger 把重试日志输出到 zerolog
type zeroLogger struct{}

func (zeroLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(kvMap(keysAndValues)).Msg(msg)
}

func (zeroLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(kvMap(keysAndValues)).Msg(msg)
}

func (zeroLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(kvMap(keysAndValues)).Msg(msg)
}

func (zeroLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(kvMap(keysAndValues)).Msg(msg)
}

func kvMap(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// NewHTTPClient 带重试的 http 客户端 连接错误和 5xx 会重试
func NewHTTPClient(timeout time.Duration, retries int) *retryablehttp.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.RetryMax = retries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = zeroLogger{}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// doJSON 发送请求 body 不为空时编码为 json 返回结果解码到 out
func doJSON(ctx context.Context, c *retryablehttp.Client, method, url string, body interface{}, header http.Header, out interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}
	return doRaw(ctx, c, method, url, raw, header, out)
}

func doRaw(ctx context.Context, c *retryablehttp.Client, method, url string, raw []byte, header http.Header, out interface{}) error {
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
}

package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	HeaderIDAddress = "Toshi-ID-Address"
	HeaderSignature = "Toshi-Signature"
	HeaderTimestamp = "Toshi-Timestamp"
)

// IdentitySigner 用身份密钥给请求签名
type IdentitySigner interface {
	IdentityAddress() (string, error)
	SignIdentity(data []byte) ([]byte, error)
}

// RestLedger 通过 REST 服务构建和广播交易
type RestLedger struct {
	baseURL string
	http    *retryablehttp.Client
	signer  IdentitySigner
}

func NewRestLedger(baseURL string, http *retryablehttp.Client, signer IdentitySigner) *RestLedger {
	if http == nil {
		http = NewHTTPClient(0, 2)
	}
	return &RestLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		signer:  signer,
	}
}

type skelRequest struct {
	From         string       `json:"from"`
	To           string       `json:"to"`
	Value        *hexutil.Big `json:"value"`
	TokenAddress string       `json:"token_address,omitempty"`
	Data         string       `json:"data,omitempty"`
}

// CreateUnsignedTransaction POST /v1/tx/skel
func (l *RestLedger) CreateUnsignedTransaction(ctx context.Context, req types.TransferRequest) (*types.UnsignedTransaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	body := skelRequest{
		From:         req.From,
		To:           req.To,
		Value:        (*hexutil.Big)(value),
		TokenAddress: req.TokenAddress,
	}
	if len(req.Data) > 0 {
		body.Data = hexutil.Encode(req.Data)
	}
	unsigned := &types.UnsignedTransaction{}
	if err := doJSON(ctx, l.http, http.MethodPost, l.baseURL+"/v1/tx/skel", body, nil, unsigned); err != nil {
		return nil, err
	}
	if unsigned.From == "" {
		unsigned.From = req.From
	}
	if unsigned.To == "" {
		unsigned.To = req.To
	}
	return unsigned, nil
}

// Broadcast POST /v1/tx 使用服务器时间签名请求
func (l *RestLedger) Broadcast(ctx context.Context, signed types.SignedTransaction, serverTime int64) (*types.SentTransaction, error) {
	raw, err := json.Marshal(signed)
	if err != nil {
		return nil, err
	}
	header, err := l.signRequest(http.MethodPost, "/v1/tx", serverTime, raw)
	if err != nil {
		return nil, err
	}
	sent := &types.SentTransaction{}
	if err := doRaw(ctx, l.http, http.MethodPost, l.baseURL+"/v1/tx", raw, header, sent); err != nil {
		return nil, err
	}
	if sent.Hash == "" {
		return nil, errors.New("broadcast response without tx_hash")
	}
	return sent, nil
}

// signRequest 签名内容为 METHOD\nPATH\nTIMESTAMP\nbase64(keccak256(body))
func (l *RestLedger) signRequest(method, path string, timestamp int64, body []byte) (http.Header, error) {
	if l.signer == nil {
		return nil, errors.New("rest ledger without identity signer")
	}
	address, err := l.signer.IdentityAddress()
	if err != nil {
		return nil, err
	}
	sig, err := l.signer.SignIdentity(SigningPayload(method, path, timestamp, body))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set(HeaderIDAddress, address)
	header.Set(HeaderSignature, hexutil.Encode(sig))
	header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	return header, nil
}

// SigningPayload 请求签名的原文
func SigningPayload(method, path string, timestamp int64, body []byte) []byte {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = base64.StdEncoding.EncodeToString(crypto.Keccak256(body))
	}
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestamp, bodyHash))
}

// FetchServerTime GET /v1/timestamp
func (l *RestLedger) FetchServerTime(ctx context.Context) (int64, error) {
	var res struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := doJSON(ctx, l.http, http.MethodGet, l.baseURL+"/v1/timestamp", nil, nil, &res); err != nil {
		return 0, err
	}
	return res.Timestamp, nil
}

// FetchStatus GET /v1/tx/{hash} 服务还不知道的交易视为未确认
func (l *RestLedger) FetchStatus(ctx context.Context, hash string) (types.PaymentStatus, error) {
	var res struct {
		Status string `json:"status"`
	}
	err := doJSON(ctx, l.http, http.MethodGet, l.baseURL+"/v1/tx/"+url.PathEscape(hash), nil, nil, &res)
	if IsNotFound(err) {
		return types.StatusUnconfirmed, nil
	}
	if err != nil {
		return "", err
	}
	switch types.PaymentStatus(res.Status) {
	case types.StatusConfirmed:
		return types.StatusConfirmed, nil
	case types.StatusError:
		return types.StatusError, nil
	}
	log.Debug().Msgf("FetchStatus %s is %q", hash, res.Status)
	return types.StatusUnconfirmed, nil
}

// TokenDecimals GET /v1/token/{address}
func (l *RestLedger) TokenDecimals(ctx context.Context, contractAddress string) (uint8, error) {
	var res struct {
		Decimals uint8 `json:"decimals"`
	}
	if err := doJSON(ctx, l.http, http.MethodGet, l.baseURL+"/v1/token/"+url.PathEscape(contractAddress), nil, nil, &res); err != nil {
		return 0, err
	}
	return res.Decimals, nil
}

// Balance GET /v1/balance/{address}
func (l *RestLedger) Balance(ctx context.Context, address string, contractAddress string) (*big.Int, error) {
	u := l.baseURL + "/v1/balance/" + url.PathEscape(address)
	if contractAddress != "" {
		u += "?contract=" + url.QueryEscape(contractAddress)
	}
	var res struct {
		Balance *hexutil.Big `json:"confirmed_balance"`
	}
	if err := doJSON(ctx, l.http, http.MethodGet, u, nil, nil, &res); err != nil {
		return nil, err
	}
	if res.Balance == nil {
		return new(big.Int), nil
	}
	return res.Balance.ToInt(), nil
}

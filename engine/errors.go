package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrWalletUnavailable   = errors.New("no wallet attached")
	ErrOffline             = errors.New("offline")
	ErrPricingUnavailable  = errors.New("pricing unavailable")
	ErrUnknownCounterparty = errors.New("unknown counterparty")
	ErrRecipientTimeout    = errors.New("timed out resolving recipient")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTask         = errors.New("invalid payment task")
)

// UntrustedIdentityError 对方的身份密钥发生了变化
type UntrustedIdentityError struct {
	Address     string
	IdentityKey []byte
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity key for %s", e.Address)
}

// UnregisteredRecipientError 对方已经注销
type UnregisteredRecipientError struct {
	Address string
}

func (e *UnregisteredRecipientError) Error() string {
	return fmt.Sprintf("recipient %s is not registered", e.Address)
}

// FailureKind 付款任务失败的分类
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureOffline
	FailureUntrustedIdentity
	FailureNetworkOrBroadcast
	FailureUnknownCounterparty
)

func (k FailureKind) String() string {
	switch k {
	case FailureOffline:
		return "offline"
	case FailureUntrustedIdentity:
		return "untrusted counterparty identity"
	case FailureNetworkOrBroadcast:
		return "network or broadcast error"
	case FailureUnknownCounterparty:
		return "unknown counterparty"
	}
	return "none"
}

// ClassifyFailure 判断失败类型
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var untrusted *UntrustedIdentityError
	switch {
	case errors.Is(err, ErrOffline):
		return FailureOffline
	case errors.As(err, &untrusted):
		return FailureUntrustedIdentity
	case errors.Is(err, ErrUnknownCounterparty), errors.Is(err, ErrRecipientTimeout):
		return FailureUnknownCounterparty
	}
	return FailureNetworkOrBroadcast
}

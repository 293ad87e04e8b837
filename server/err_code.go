package server

import (
	"fmt"

	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/wallet"
	"github.com/pkg/errors"
)

// nolint: golint
var (
	OK                     = &Errno{Code: 0, Message: "OK"}
	InternalServerError    = &Errno{Code: 10001, Message: "Internal server error"}
	ErrToken               = &Errno{Code: 10002, Message: "token错误"}
	ErrParam               = &Errno{Code: 10003, Message: "参数有误"}
	ErrNotData             = &Errno{Code: 10004, Message: "没有数据"}
	ErrWalletUnavailable   = &Errno{Code: 10005, Message: "钱包不可用"}
	ErrIndexOutOfRange     = &Errno{Code: 10006, Message: "钱包下标超出范围"}
	ErrPricingUnavailable  = &Errno{Code: 10007, Message: "无法获取价格"}
	ErrInvalidTask         = &Errno{Code: 10008, Message: "付款参数有误"}
	ErrQueueClosed         = &Errno{Code: 10009, Message: "付款队列已关闭"}
	ErrLedger              = &Errno{Code: 10010, Message: "链服务错误"}
	ErrInvalidRequestState = &Errno{Code: 10011, Message: "付款请求状态有误"}
)

// Errno ...
type Errno struct {
	Code    int
	Message string
}

func (err Errno) Error() string {
	return err.Message
}

// Err represents an error
type Err struct {
	Code    int
	Message string
	Err     error
}

func (err *Err) Error() string {
	return fmt.Sprintf("Err - code: %d, message: %s, error: %s", err.Code, err.Message, err.Err)
}

// DecodeErr ...
func DecodeErr(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Err:
		return typed.Code, typed.Message
	case *Errno:
		return typed.Code, typed.Message
	default:
	}

	return InternalServerError.Code, err.Error()
}

// WrapErr 把内部错误转换成接口错误码
func WrapErr(err error) error {
	if err == nil {
		return nil
	}
	var errno *Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, engine.ErrWalletUnavailable), errors.Is(err, wallet.ErrUninitializedWallet):
		return &Err{Code: ErrWalletUnavailable.Code, Message: ErrWalletUnavailable.Message, Err: err}
	case errors.Is(err, wallet.ErrIndexOutOfRange):
		return &Err{Code: ErrIndexOutOfRange.Code, Message: ErrIndexOutOfRange.Message, Err: err}
	case errors.Is(err, engine.ErrPricingUnavailable):
		return &Err{Code: ErrPricingUnavailable.Code, Message: ErrPricingUnavailable.Message, Err: err}
	case errors.Is(err, engine.ErrInvalidTask):
		return &Err{Code: ErrInvalidTask.Code, Message: ErrInvalidTask.Message, Err: err}
	case errors.Is(err, engine.ErrNotFound):
		return &Err{Code: ErrNotData.Code, Message: ErrNotData.Message, Err: err}
	}
	return &Err{Code: InternalServerError.Code, Message: err.Error(), Err: err}
}

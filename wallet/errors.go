package wallet

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidIndex        = errors.New("invalid payment key index")
	ErrIndexOutOfRange     = errors.New("wallet index out of range")
	ErrUninitializedWallet = errors.New("wallet index has not been published")
	ErrInvalidMnemonic     = errors.New("invalid mnemonic")
	ErrNoPaymentKeys       = errors.New("wallet needs at least one payment key")
)

// SigningError 签名失败 通常是钱包已被清除
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

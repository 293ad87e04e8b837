package client

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// txSkeleton EIP-155 签名前的交易编码
// keccak256(rlp(txSkeleton)) 就是 EIP155Signer 的签名哈希
type txSkeleton struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       *common.Address `rlp:"nil"`
	Value    *big.Int
	Data     []byte
	ChainID  *big.Int
	R        uint
	S        uint
}

func encodeSkeleton(s *txSkeleton) ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

func decodeSkeleton(payload []byte) (*txSkeleton, error) {
	s := &txSkeleton{}
	if err := rlp.DecodeBytes(payload, s); err != nil {
		return nil, errors.Wrap(err, "decode transaction skeleton")
	}
	if s.ChainID == nil || s.ChainID.Sign() <= 0 {
		return nil, errors.New("transaction skeleton without chain id")
	}
	return s, nil
}

// transaction 对应的未签名 legacy 交易
func (s *txSkeleton) transaction() *ethTypes.Transaction {
	return ethTypes.NewTx(&ethTypes.LegacyTx{
		Nonce:    s.Nonce,
		GasPrice: s.GasPrice,
		Gas:      s.Gas,
		To:       s.To,
		Value:    s.Value,
		Data:     s.Data,
	})
}

package client

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// erc20Abi 只保留用到的方法和事件
const erc20Abi = `[
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var (
	tokenAbi               abi.ABI
	contractTransferHash   = crypto.Keccak256Hash([]byte("transfer(address,uint256)"))
	tokenTransferEventHash = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func init() {
	var err error
	tokenAbi, err = abi.JSON(strings.NewReader(erc20Abi))
	if err != nil {
		panic(err)
	}
}

// makeERC20TransferData transfer(address,uint256) 的 input
func makeERC20TransferData(toAddress common.Address, amount *big.Int) []byte {
	var data []byte
	data = append(data, contractTransferHash[:4]...)
	data = append(data, common.LeftPadBytes(toAddress.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// tokenTransfer 代币的 Transfer 事件
type tokenTransfer struct {
	Contract common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	TxHash   common.Hash
	Block    uint64
}

// parseTransferLog 解析 Transfer 事件 不是 Transfer 的日志返回错误
func parseTransferLog(vLog ethTypes.Log) (*tokenTransfer, error) {
	if len(vLog.Topics) != 3 || vLog.Topics[0] != tokenTransferEventHash {
		return nil, errors.Errorf("log %s is not a token transfer", vLog.TxHash.Hex())
	}
	out := struct {
		Value *big.Int
	}{}
	if err := tokenAbi.UnpackIntoInterface(&out, "Transfer", vLog.Data); err != nil {
		return nil, errors.Wrapf(err, "unpack transfer log %s", vLog.TxHash.Hex())
	}
	return &tokenTransfer{
		Contract: vLog.Address,
		From:     common.BytesToAddress(vLog.Topics[1].Bytes()),
		To:       common.BytesToAddress(vLog.Topics[2].Bytes()),
		Value:    out.Value,
		TxHash:   vLog.TxHash,
		Block:    vLog.BlockNumber,
	}, nil
}

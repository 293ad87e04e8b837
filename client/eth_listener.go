package client

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxBlocksPerRound 每一轮最多扫描的区块数
const maxBlocksPerRound = 100

// ChainReader 区块监听用到的节点接口 ethclient.Client 满足
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*ethTypes.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethTypes.Log, error)
}

// IncomingSink 收到付款的接收方
type IncomingSink interface {
	Submit(p *types.IncomingPayment) bool
}

// AddressSource 需要监听的收款地址
type AddressSource func() []string

// BlockListener 扫描新区块 找出转给本钱包的原生币和代币
type BlockListener struct {
	http      ChainReader
	chainID   *big.Int
	addresses AddressSource
	tokens    []common.Address
	sink      IncomingSink
	interval  time.Duration

	next    uint64 // 下一个要扫描的区块
	started bool   // 没有指定起点时从最新区块开始

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func NewBlockListener(http ChainReader, chainID *big.Int, addresses AddressSource, tokens []string, sink IncomingSink, interval time.Duration) *BlockListener {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	l := &BlockListener{
		http:      http,
		chainID:   chainID,
		addresses: addresses,
		sink:      sink,
		interval:  interval,
		stop:      make(chan struct{}),
	}
	for _, token := range tokens {
		if common.IsHexAddress(token) {
			l.tokens = append(l.tokens, common.HexToAddress(token))
		}
	}
	return l
}

// StartFrom 指定开始扫描的区块
func (l *BlockListener) StartFrom(block uint64) {
	l.next = block
	l.started = true
}

// Start 定时扫描
func (l *BlockListener) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.interval*3)
				n, err := l.Poll(ctx)
				cancel()
				if err != nil {
					log.Info().Msgf("BlockListener poll err is %s", err.Error())
				} else if n > 0 {
					log.Info().Msgf("BlockListener found %d payments, next block %d", n, l.next)
				}
				timer.Reset(l.interval)
			}
		}
	}()
}

func (l *BlockListener) Stop() {
	l.once.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

// Poll 扫描一轮 返回找到的付款个数 只在一个 goroutine 中调用
func (l *BlockListener) Poll(ctx context.Context) (int, error) {
	latest, err := l.http.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "block number")
	}
	if !l.started {
		l.next = latest
		l.started = true
	}
	if l.next > latest {
		return 0, nil
	}
	toBlock := l.next + maxBlocksPerRound - 1
	if toBlock > latest {
		toBlock = latest
	}

	watched := l.watched()
	if len(watched) == 0 {
		l.next = toBlock + 1
		return 0, nil
	}

	found := 0
	for num := l.next; num <= toBlock; num++ {
		n, err := l.scanBlock(ctx, num, watched)
		if err != nil {
			// 下一轮从失败的区块继续
			l.next = num
			return found, err
		}
		found += n
	}
	n, err := l.scanTokenLogs(ctx, l.next, toBlock, watched)
	if err != nil {
		return found, err
	}
	found += n
	l.next = toBlock + 1
	return found, nil
}

func (l *BlockListener) watched() map[common.Address]bool {
	watched := make(map[common.Address]bool)
	for _, address := range l.addresses() {
		if common.IsHexAddress(address) {
			watched[common.HexToAddress(address)] = true
		}
	}
	return watched
}

// scanBlock 原生币转账
func (l *BlockListener) scanBlock(ctx context.Context, num uint64, watched map[common.Address]bool) (int, error) {
	block, err := l.http.BlockByNumber(ctx, new(big.Int).SetUint64(num))
	if err != nil {
		return 0, errors.Wrapf(err, "block %d", num)
	}
	signer := ethTypes.LatestSignerForChainID(l.chainID)
	found := 0
	for _, tx := range block.Transactions() {
		// 如果接收方地址为空，则是创建合约的交易，忽略过去
		if tx.To() == nil || !watched[*tx.To()] || tx.Value().Sign() == 0 {
			continue
		}
		from, err := ethTypes.Sender(signer, tx)
		if err != nil {
			log.Info().Msgf("scanBlock sender of %s err is %s", tx.Hash().Hex(), err.Error())
			continue
		}
		payment := &types.Payment{
			Value:       (*hexutil.Big)(tx.Value()),
			FromAddress: from.Hex(),
			ToAddress:   tx.To().Hex(),
			TxHash:      tx.Hash().Hex(),
			Status:      types.StatusUnconfirmed,
		}
		if l.sink.Submit(&types.IncomingPayment{Payment: payment}) {
			found++
		}
		log.Info().Msgf("scanBlock find Trans Hash is %s blockNum is %d", payment.TxHash, num)
	}
	return found, nil
}

// scanTokenLogs 代币 Transfer 事件
func (l *BlockListener) scanTokenLogs(ctx context.Context, fromBlock, toBlock uint64, watched map[common.Address]bool) (int, error) {
	if len(l.tokens) == 0 {
		return 0, nil
	}
	logs, err := l.http.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: l.tokens,
		Topics:    [][]common.Hash{{tokenTransferEventHash}},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "filter logs %d-%d", fromBlock, toBlock)
	}
	found := 0
	for _, vLog := range logs {
		transfer, err := parseTransferLog(vLog)
		if err != nil || !watched[transfer.To] {
			continue
		}
		payment := &types.Payment{
			Value:        (*hexutil.Big)(transfer.Value),
			FromAddress:  transfer.From.Hex(),
			ToAddress:    transfer.To.Hex(),
			TokenAddress: strings.ToLower(transfer.Contract.Hex()),
			TxHash:       transfer.TxHash.Hex(),
			Status:       types.StatusUnconfirmed,
		}
		if l.sink.Submit(&types.IncomingPayment{Payment: payment}) {
			found++
		}
	}
	return found, nil
}

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmxdawn/paywallet/types"
	"github.com/rs/zerolog/log"
)

// IncomingDeps 收到付款依赖的服务
type IncomingDeps struct {
	Prices   PriceService
	Identity IdentityResolver
	Messages MessageStore
	Pending  PendingStore
	Notifier Notifier
}

// IncomingManager 串行处理收到的付款通知
type IncomingManager struct {
	IncomingDeps
	conf BuilderConfig

	mu    sync.Mutex
	queue *Queue[*types.IncomingPayment]
	wg    sync.WaitGroup
}

func NewIncomingManager(deps IncomingDeps, conf BuilderConfig) *IncomingManager {
	if conf.NativeAsset == "" {
		conf.NativeAsset = "ETH"
	}
	if conf.Currency == "" {
		conf.Currency = "USD"
	}
	if conf.ResolveTimeout <= 0 {
		conf.ResolveTimeout = DefaultResolveTimeout
	}
	return &IncomingManager{IncomingDeps: deps, conf: conf}
}

// Subscribe 开始消费 已有的订阅会先被关闭 保证只有一个消费者
func (m *IncomingManager) Subscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()

	queue := NewQueue[*types.IncomingPayment]()
	m.queue = queue
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		queue.Run(m.handle)
	}()
	log.Info().Msgf("IncomingManager subscribed")
}

// Unsubscribe 停止消费 可以重复调用
func (m *IncomingManager) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *IncomingManager) teardownLocked() {
	if m.queue == nil {
		return
	}
	m.queue.Close()
	m.wg.Wait()
	m.queue = nil
}

// Submit 提交收到的付款 没有订阅时丢弃
func (m *IncomingManager) Submit(p *types.IncomingPayment) bool {
	if p == nil || p.Payment == nil {
		return false
	}
	m.mu.Lock()
	queue := m.queue
	m.mu.Unlock()
	if queue == nil {
		log.Warn().Msgf("IncomingManager not subscribed, drop payment %s", p.Payment.TxHash)
		return false
	}
	return queue.Submit(p)
}

func (m *IncomingManager) handle(p *types.IncomingPayment) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("IncomingManager payment %s panic: %v", p.Payment.TxHash, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTaskTimeout)
	defer cancel()

	if p.Payment.IsToken() {
		// 代币的确认方式不同 这里只转发
		m.Notifier.TokenPayment(p.Payment)
		return
	}
	m.processNativePayment(ctx, p)
}

func (m *IncomingManager) processNativePayment(ctx context.Context, p *types.IncomingPayment) {
	payment := p.Payment.Clone()
	if payment.TxHash == "" {
		log.Warn().Msgf("processNativePayment payment from %s without hash, ignored", payment.FromAddress)
		return
	}
	if tracked, err := m.Pending.GetPending(ctx, payment.TxHash); err == nil && tracked != nil {
		// 区块监听先到时还没有消息 对方的付款消息到达后补上
		if tracked.MessageID == "" && p.Sender != nil {
			m.attachMessage(ctx, tracked, p.Sender)
			return
		}
		log.Info().Msgf("processNativePayment %s already tracked", payment.TxHash)
		return
	}
	if payment.Status == "" {
		payment.Status = types.StatusUnconfirmed
	}

	sender := p.Sender
	if sender == nil && m.Identity != nil {
		user, err := resolveWithTimeout(ctx, m.conf.ResolveTimeout, func(ctx context.Context) (*types.User, error) {
			return m.Identity.ResolveUserByAddress(ctx, payment.FromAddress)
		})
		if err != nil {
			log.Info().Msgf("processNativePayment sender %s not resolved: %s", payment.FromAddress, err.Error())
		}
		sender = user
	}

	rate, err := m.Prices.FetchExchangeRate(ctx, m.conf.NativeAsset, m.conf.Currency)
	if err != nil {
		log.Warn().Msgf("processNativePayment exchange rate err is %s", err.Error())
	} else if rate != nil {
		payment.LocalPrice = FormatFiat(ToFiat(payment.ValueInt(), rate.Rate), rate.To)
	}

	tx := &types.PendingTransaction{
		TxHash:  payment.TxHash,
		Payment: payment,
	}
	if sender != nil {
		if msg := m.persistReceived(ctx, sender, payment); msg != nil {
			tx.MessageID = msg.ID
			tx.ThreadID = msg.ThreadID
		}
	}
	if err := m.Pending.PutPending(ctx, tx); err != nil {
		log.Error().Msgf("processNativePayment PutPending %s err is %s", tx.TxHash, err.Error())
		return
	}
	log.Info().Msgf("processNativePayment received %s from %s", payment.TxHash, payment.FromAddress)
}

// attachMessage 给已跟踪但没有消息的交易补上收款消息
func (m *IncomingManager) attachMessage(ctx context.Context, tracked *types.PendingTransaction, sender *types.User) {
	if tracked.Payment == nil {
		log.Warn().Msgf("attachMessage %s without payment, ignored", tracked.TxHash)
		return
	}
	msg := m.persistReceived(ctx, sender, tracked.Payment)
	if msg == nil {
		return
	}
	tracked.MessageID = msg.ID
	tracked.ThreadID = msg.ThreadID
	if err := m.Pending.PutPending(ctx, tracked); err != nil {
		log.Error().Msgf("attachMessage PutPending %s err is %s", tracked.TxHash, err.Error())
		return
	}
	log.Info().Msgf("attachMessage %s from %s", tracked.TxHash, sender.ToshiID)
}

// persistReceived 保存收款消息 失败时返回 nil
func (m *IncomingManager) persistReceived(ctx context.Context, sender *types.User, payment *types.Payment) *types.Message {
	msg := &types.Message{
		ID:        uuid.NewString(),
		ThreadID:  sender.ToshiID,
		State:     types.StateReceived,
		CreatedAt: time.Now(),
	}
	if err := msg.SetPayment(payment); err != nil {
		log.Error().Msgf("persistReceived set payment err is %s", err.Error())
		return nil
	}
	if err := m.Messages.PersistNewMessage(ctx, msg); err != nil {
		log.Error().Msgf("persistReceived persist message err is %s", err.Error())
		return nil
	}
	return msg
}

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UpdateManager 跟踪待确认交易的状态
type UpdateManager struct {
	ledger   Ledger
	pending  PendingStore
	messages MessageStore
	interval time.Duration

	queue     *Queue[*types.Payment]
	wg        sync.WaitGroup
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewUpdateManager(ledger Ledger, pending PendingStore, messages MessageStore, interval time.Duration) *UpdateManager {
	return &UpdateManager{
		ledger:   ledger,
		pending:  pending,
		messages: messages,
		interval: interval,
		queue:    NewQueue[*types.Payment](),
		stop:     make(chan struct{}),
	}
}

// Start 启动状态更新的消费者 interval 大于 0 时定时对账
func (m *UpdateManager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.queue.Run(m.applyStatusUpdate)
		}()
		if m.interval > 0 {
			m.wg.Add(1)
			go m.timerReconcile()
		}
		log.Info().Msgf("UpdateManager start, reconcile interval %s", m.interval)
	})
}

// Stop 停止定时对账 处理完已提交的更新
func (m *UpdateManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.queue.Close()
	m.wg.Wait()
}

func (m *UpdateManager) timerReconcile() {
	defer m.wg.Done()
	timer := time.NewTimer(m.interval)
	defer timer.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			n, err := m.ReconcileAllPending(ctx)
			cancel()
			if err != nil {
				log.Error().Msgf("timerReconcile err is %s", err.Error())
			} else {
				log.Info().Msgf("timerReconcile submitted %d updates at %s", n, time.Now().Format("2006-01-02 15:04:05"))
			}
			timer.Reset(m.interval)
		}
	}
}

// SubmitStatusUpdate 提交一条状态更新
func (m *UpdateManager) SubmitStatusUpdate(payment *types.Payment) bool {
	if payment == nil || payment.TxHash == "" {
		return false
	}
	return m.queue.Submit(payment.Clone())
}

// applyStatusUpdate 本地不存在的交易直接忽略
func (m *UpdateManager) applyStatusUpdate(update *types.Payment) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTaskTimeout)
	defer cancel()

	tx, err := m.pending.GetPending(ctx, update.TxHash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Msgf("applyStatusUpdate GetPending %s err is %s", update.TxHash, err.Error())
		}
		return
	}
	if tx == nil {
		return
	}
	merged := tx.Payment.Clone()
	if merged == nil {
		merged = update.Clone()
	}
	if update.Status != "" {
		merged.Status = update.Status
	}
	tx.Payment = merged

	if tx.MessageID != "" {
		m.updateMessagePayment(ctx, tx.MessageID, merged)
	}

	if merged.Status.IsFinal() {
		if err := m.pending.DeletePending(ctx, tx.TxHash); err != nil {
			log.Error().Msgf("applyStatusUpdate DeletePending %s err is %s", tx.TxHash, err.Error())
		}
	} else if err := m.pending.PutPending(ctx, tx); err != nil {
		log.Error().Msgf("applyStatusUpdate PutPending %s err is %s", tx.TxHash, err.Error())
	}
	log.Info().Msgf("applyStatusUpdate %s is %s", tx.TxHash, merged.Status)
}

func (m *UpdateManager) updateMessagePayment(ctx context.Context, messageID string, payment *types.Payment) {
	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		log.Error().Msgf("updateMessagePayment GetMessage %s err is %s", messageID, err.Error())
		return
	}
	stored, err := msg.PaymentPayload()
	if err != nil {
		log.Error().Msgf("updateMessagePayment message %s payload err is %s", messageID, err.Error())
		return
	}
	stored.Status = payment.Status
	if stored.TxHash == "" {
		stored.TxHash = payment.TxHash
	}
	if err := msg.SetPayment(stored); err != nil {
		log.Error().Msgf("updateMessagePayment SetPayment err is %s", err.Error())
		return
	}
	if err := m.messages.UpdateMessage(ctx, msg); err != nil {
		log.Error().Msgf("updateMessagePayment UpdateMessage %s err is %s", messageID, err.Error())
	}
}

// ReconcileAllPending 向链服务查询所有未确认交易的状态
// 单个查询失败不影响其他交易 返回提交的更新个数
func (m *UpdateManager) ReconcileAllPending(ctx context.Context) (int, error) {
	all, err := m.pending.AllPending(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list pending transactions")
	}
	submitted := 0
	for _, tx := range all {
		if tx.Payment == nil || tx.Payment.Status != types.StatusUnconfirmed {
			continue
		}
		status, err := m.ledger.FetchStatus(ctx, tx.TxHash)
		if err != nil {
			log.Warn().Msgf("ReconcileAllPending FetchStatus %s err is %s", tx.TxHash, err.Error())
			continue
		}
		if status == tx.Payment.Status {
			continue
		}
		update := tx.Payment.Clone()
		update.Status = status
		if m.SubmitStatusUpdate(update) {
			submitted++
		}
	}
	return submitted, nil
}

// UpdatePaymentRequestState 修改付款请求消息中的状态
// payload 解析失败只记录日志
func (m *UpdateManager) UpdatePaymentRequestState(ctx context.Context, counterparty *types.User, msg *types.Message, state types.PaymentRequestState) {
	if msg == nil {
		return
	}
	request, err := msg.PaymentRequestPayload()
	if err != nil {
		log.Error().Msgf("UpdatePaymentRequestState message %s payload err is %s", msg.ID, err.Error())
		return
	}
	request.State = state
	if err := msg.SetPaymentRequest(request); err != nil {
		log.Error().Msgf("UpdatePaymentRequestState SetPaymentRequest err is %s", err.Error())
		return
	}
	if counterparty != nil && msg.ThreadID == "" {
		msg.ThreadID = counterparty.ToshiID
	}
	if err := m.messages.UpdateMessage(ctx, msg); err != nil {
		log.Error().Msgf("UpdatePaymentRequestState UpdateMessage %s err is %s", msg.ID, err.Error())
		return
	}
	log.Info().Msgf("UpdatePaymentRequestState message %s is %s", msg.ID, state)
}

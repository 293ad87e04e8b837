package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTaskTimeout 单个付款任务的最长处理时间
const DefaultTaskTimeout = 2 * time.Minute

// OutgoingDeps 发出付款依赖的服务
type OutgoingDeps struct {
	Signer    TxSigner
	Messages  MessageStore
	Pending   PendingStore
	Transport Transport
	Trust     TrustStore
	Network   Connectivity
	Notifier  Notifier
}

// OutgoingManager 串行处理所有发出的付款 同一时刻最多只有一笔在签名广播
type OutgoingManager struct {
	OutgoingDeps
	taskTimeout time.Duration

	queue *Queue[*types.PaymentTask]
	wg    sync.WaitGroup
	once  sync.Once
}

func NewOutgoingManager(deps OutgoingDeps, taskTimeout time.Duration) *OutgoingManager {
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &OutgoingManager{
		OutgoingDeps: deps,
		taskTimeout:  taskTimeout,
		queue:        NewQueue[*types.PaymentTask](),
	}
}

// Start 启动唯一的消费者
func (m *OutgoingManager) Start() {
	m.once.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.queue.Run(m.handle)
		}()
		log.Info().Msgf("OutgoingManager start")
	})
}

// Stop 停止接收新的任务 等待已提交的处理完
func (m *OutgoingManager) Stop() {
	m.queue.Close()
	m.wg.Wait()
}

// Enqueue 提交付款任务 立即返回
func (m *OutgoingManager) Enqueue(task *types.PaymentTask) bool {
	if task == nil {
		return false
	}
	ok := m.queue.Submit(task)
	if !ok {
		log.Warn().Msgf("Enqueue OutgoingManager is stopped, drop %s task", task.Kind)
	}
	return ok
}

// QueueLen 等待处理的任务数
func (m *OutgoingManager) QueueLen() int {
	return m.queue.Len()
}

func (m *OutgoingManager) handle(task *types.PaymentTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("OutgoingManager %s task panic: %v", task.Kind, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.taskTimeout)
	defer cancel()

	switch task.Kind {
	case types.TaskToshi, types.TaskResend:
		m.processToshiPayment(ctx, task)
	case types.TaskExternal, types.TaskToken:
		m.processExternalPayment(ctx, task)
	case types.TaskWeb3:
		m.processWeb3Payment(ctx, task)
	default:
		log.Error().Msgf("OutgoingManager unknown task kind %d", task.Kind)
	}
}

func (m *OutgoingManager) processToshiPayment(ctx context.Context, task *types.PaymentTask) {
	if task.User == nil || task.Payment == nil {
		log.Error().Msgf("processToshiPayment invalid %s task without user or payment", task.Kind)
		return
	}
	msg, err := m.prepareMessage(ctx, task)
	if err != nil {
		log.Error().Msgf("processToshiPayment prepare message err is %s", err.Error())
		return
	}

	if !m.Network.IsOnline() {
		m.failMessage(ctx, task, msg, ErrOffline)
		return
	}

	payment := task.Payment
	if payment.TxHash == "" {
		sent, err := m.Signer.SignAndBroadcast(ctx, &task.Unsigned)
		if err != nil {
			m.failMessage(ctx, task, msg, err)
			return
		}
		payment.TxHash = sent.Hash
		payment.Status = types.StatusUnconfirmed
	}

	if err := msg.SetPayment(payment); err != nil {
		log.Error().Msgf("processToshiPayment set payment err is %s", err.Error())
	}
	msg.State = types.StateSent
	msg.Error = types.ErrorNone
	if err := m.Messages.UpdateMessage(ctx, msg); err != nil {
		log.Error().Msgf("processToshiPayment update message %s err is %s", msg.ID, err.Error())
	}
	m.trackPending(ctx, payment, msg)
	if task.Kind == types.TaskResend {
		if err := m.Messages.DeleteAfterResend(ctx, msg.ID); err != nil {
			log.Error().Msgf("processToshiPayment DeleteAfterResend %s err is %s", msg.ID, err.Error())
		}
	}

	if err := m.Transport.Send(ctx, msg, task.User); err != nil {
		m.failMessage(ctx, task, msg, err)
		return
	}
	log.Info().Msgf("processToshiPayment sent payment %s to %s", payment.TxHash, task.User.ToshiID)
}

// prepareMessage 新付款创建消息 重发沿用原来的消息
func (m *OutgoingManager) prepareMessage(ctx context.Context, task *types.PaymentTask) (*types.Message, error) {
	if task.Kind == types.TaskResend {
		msg, err := m.Messages.GetMessage(ctx, task.MessageID)
		if err != nil {
			return nil, errors.Wrapf(err, "load message %s", task.MessageID)
		}
		msg.State = types.StateSending
		msg.Error = types.ErrorNone
		if err := msg.SetPayment(task.Payment); err != nil {
			return nil, err
		}
		if err := m.Messages.UpdateMessage(ctx, msg); err != nil {
			return nil, errors.Wrapf(err, "update message %s", msg.ID)
		}
		return msg, nil
	}

	msg := &types.Message{
		ID:        uuid.NewString(),
		ThreadID:  task.User.ToshiID,
		State:     types.StateSending,
		CreatedAt: time.Now(),
	}
	if err := msg.SetPayment(task.Payment); err != nil {
		return nil, err
	}
	if err := m.Messages.PersistNewMessage(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "persist message")
	}
	return msg, nil
}

// failMessage 标记失败 并保存到待重发列表
func (m *OutgoingManager) failMessage(ctx context.Context, task *types.PaymentTask, msg *types.Message, cause error) {
	kind := ClassifyFailure(cause)
	var untrusted *UntrustedIdentityError
	if errors.As(cause, &untrusted) {
		if err := m.Trust.SaveIdentityKey(ctx, untrusted.Address, untrusted.IdentityKey); err != nil {
			log.Error().Msgf("failMessage SaveIdentityKey %s err is %s", untrusted.Address, err.Error())
		}
	}

	msg.State = types.StateFailed
	msg.Error = userFacingError(cause)
	if err := m.Messages.UpdateMessage(ctx, msg); err != nil {
		log.Error().Msgf("failMessage update message %s err is %s", msg.ID, err.Error())
	}
	pending := &types.PendingSend{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Message:   msg,
	}
	if err := m.Messages.PersistPendingSend(ctx, pending); err != nil {
		log.Error().Msgf("failMessage PersistPendingSend %s err is %s", msg.ID, err.Error())
	}
	log.Warn().Msgf("%s payment message %s failed (%s): %s", task.Kind, msg.ID, kind, cause.Error())
}

func userFacingError(err error) types.MessageError {
	var unregistered *UnregisteredRecipientError
	if errors.As(err, &unregistered) {
		return types.ErrorRecipientUnavailable
	}
	return types.ErrorNotDelivered
}

func (m *OutgoingManager) processExternalPayment(ctx context.Context, task *types.PaymentTask) {
	if task.Payment == nil {
		log.Error().Msgf("processExternalPayment %s task without payment", task.Kind)
		return
	}
	to := task.Payment.ToAddress
	if !m.Network.IsOnline() {
		m.Notifier.PaymentFailed(to, ErrOffline)
		return
	}
	sent, err := m.Signer.SignAndBroadcast(ctx, &task.Unsigned)
	if err != nil {
		log.Warn().Msgf("processExternalPayment to %s failed (%s): %s", to, ClassifyFailure(err), err.Error())
		m.Notifier.PaymentFailed(to, err)
		return
	}
	task.Payment.TxHash = sent.Hash
	task.Payment.Status = types.StatusUnconfirmed
	m.trackPending(ctx, task.Payment, nil)
	log.Info().Msgf("processExternalPayment sent %s to %s", sent.Hash, to)
}

func (m *OutgoingManager) processWeb3Payment(ctx context.Context, task *types.PaymentTask) {
	if task.Payment == nil {
		log.Error().Msgf("processWeb3Payment task without payment")
		return
	}
	id := task.Payment.CorrelationID
	if task.SignOnly {
		signed, err := m.Signer.SignOnly(ctx, &task.Unsigned)
		if err != nil {
			m.Notifier.Web3Result(id, "", err)
			return
		}
		m.Notifier.Web3Result(id, signed.Signature, nil)
		return
	}
	if !m.Network.IsOnline() {
		m.Notifier.Web3Result(id, "", ErrOffline)
		return
	}
	sent, err := m.Signer.SignAndBroadcast(ctx, &task.Unsigned)
	if err != nil {
		log.Warn().Msgf("processWeb3Payment %s failed (%s): %s", id, ClassifyFailure(err), err.Error())
		m.Notifier.Web3Result(id, "", err)
		return
	}
	task.Payment.TxHash = sent.Hash
	task.Payment.Status = types.StatusUnconfirmed
	m.trackPending(ctx, task.Payment, nil)
	m.Notifier.Web3Result(id, sent.Hash, nil)
}

// trackPending 交给确认跟踪
func (m *OutgoingManager) trackPending(ctx context.Context, payment *types.Payment, msg *types.Message) {
	tx := &types.PendingTransaction{
		TxHash:  payment.TxHash,
		Payment: payment.Clone(),
	}
	if msg != nil {
		tx.MessageID = msg.ID
		tx.ThreadID = msg.ThreadID
	}
	if err := m.Pending.PutPending(ctx, tx); err != nil {
		log.Error().Msgf("trackPending %s err is %s", payment.TxHash, err.Error())
	}
}

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Identity 本地用户
type Identity interface {
	IdentityAddress() (string, error)
	IdentityPublicKey() ([]byte, error)
	CurrentPaymentAddress() (string, error)
}

// TrustedKeys 对方身份公钥的信任存储
type TrustedKeys interface {
	engine.TrustStore
	IdentityKey(ctx context.Context, address string) ([]byte, error)
}

// IncomingSink 收到的付款交给 IncomingManager
type IncomingSink interface {
	Submit(p *types.IncomingPayment) bool
}

// Envelope 通道中传输的内容
type Envelope struct {
	Sender        string         `json:"sender"`        // 发送方 toshi id
	SenderAddress string         `json:"senderAddress"` // 发送方收付款地址
	IdentityKey   hexutil.Bytes  `json:"identityKey"`
	Message       *types.Message `json:"message"`
}

// Transport 发送付款消息 并把收到的付款转给 IncomingManager
type Transport struct {
	bus      Bus
	trust    TrustedKeys
	self     Identity
	messages engine.MessageStore
	sink     IncomingSink

	mu      sync.Mutex
	closeFn func() error
	wg      sync.WaitGroup
}

func NewTransport(bus Bus, trust TrustedKeys, self Identity, messages engine.MessageStore, sink IncomingSink) *Transport {
	return &Transport{
		bus:      bus,
		trust:    trust,
		self:     self,
		messages: messages,
		sink:     sink,
	}
}

// Send 对方没有注册返回 UnregisteredRecipientError
// 对方身份公钥和已信任的不一致返回 UntrustedIdentityError
func (t *Transport) Send(ctx context.Context, msg *types.Message, recipient *types.User) error {
	if recipient == nil || recipient.ToshiID == "" {
		return &engine.UnregisteredRecipientError{}
	}
	key, err := t.bus.Lookup(ctx, recipient.ToshiID)
	if err != nil {
		return err
	}
	if key == nil {
		return &engine.UnregisteredRecipientError{Address: recipient.ToshiID}
	}
	if err := t.checkTrust(ctx, recipient.ToshiID, key); err != nil {
		return err
	}

	env, err := t.envelope(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if err := t.bus.Publish(ctx, recipient.ToshiID, payload); err != nil {
		return errors.Wrapf(err, "publish to %s", recipient.ToshiID)
	}
	return nil
}

// checkTrust 第一次见到的公钥直接信任
func (t *Transport) checkTrust(ctx context.Context, toshiID string, key []byte) error {
	trusted, err := t.trust.IdentityKey(ctx, toshiID)
	if err != nil {
		return err
	}
	if trusted == nil {
		return t.trust.SaveIdentityKey(ctx, toshiID, key)
	}
	if !bytes.Equal(trusted, key) {
		return &engine.UntrustedIdentityError{Address: toshiID, IdentityKey: key}
	}
	return nil
}

func (t *Transport) envelope(msg *types.Message) (*Envelope, error) {
	sender, err := t.self.IdentityAddress()
	if err != nil {
		return nil, err
	}
	key, err := t.self.IdentityPublicKey()
	if err != nil {
		return nil, err
	}
	address, err := t.self.CurrentPaymentAddress()
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Sender:        sender,
		SenderAddress: address,
		IdentityKey:   key,
		Message:       msg,
	}, nil
}

// Start 注册身份公钥并订阅自己的通道
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeFn != nil {
		return nil
	}
	id, err := t.self.IdentityAddress()
	if err != nil {
		return err
	}
	key, err := t.self.IdentityPublicKey()
	if err != nil {
		return err
	}
	if err := t.bus.Register(ctx, id, key); err != nil {
		return errors.Wrap(err, "register identity")
	}
	ch, closeFn, err := t.bus.Subscribe(ctx, id)
	if err != nil {
		return err
	}
	t.closeFn = closeFn
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for payload := range ch {
			t.handle(payload)
		}
	}()
	log.Info().Msgf("Transport listening on %s", UserChannel(id))
	return nil
}

// Stop 关闭订阅 可以重复调用
func (t *Transport) Stop() {
	t.mu.Lock()
	closeFn := t.closeFn
	t.closeFn = nil
	t.mu.Unlock()
	if closeFn == nil {
		return
	}
	if err := closeFn(); err != nil {
		log.Warn().Msgf("Transport close subscription err is %s", err.Error())
	}
	t.wg.Wait()
}

func (t *Transport) handle(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), engine.DefaultTaskTimeout)
	defer cancel()

	env := &Envelope{}
	if err := json.Unmarshal(payload, env); err != nil || env.Message == nil || env.Sender == "" || len(env.IdentityKey) == 0 {
		log.Warn().Msgf("Transport drop malformed envelope")
		return
	}
	if err := t.checkTrust(ctx, env.Sender, env.IdentityKey); err != nil {
		log.Warn().Msgf("Transport drop message from %s: %s", env.Sender, err.Error())
		return
	}

	msg := env.Message
	switch msg.Type {
	case types.MessagePayment:
		payment, err := msg.PaymentPayload()
		if err != nil {
			log.Error().Msgf("Transport payment payload from %s err is %s", env.Sender, err.Error())
			return
		}
		t.sink.Submit(&types.IncomingPayment{
			Payment: payment,
			Sender: &types.User{
				ToshiID:        env.Sender,
				PaymentAddress: env.SenderAddress,
			},
		})
	case types.MessagePaymentRequest:
		received := *msg
		received.ThreadID = env.Sender
		received.State = types.StateReceived
		received.Error = types.ErrorNone
		if err := t.messages.PersistNewMessage(ctx, &received); err != nil {
			log.Error().Msgf("Transport PersistNewMessage %s err is %s", msg.ID, err.Error())
		}
	default:
		log.Debug().Msgf("Transport ignore %q message from %s", msg.Type, env.Sender)
	}
}

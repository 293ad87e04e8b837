package types

import (
	"encoding/json"
	"time"
)

// SendState 消息的发送状态
type SendState int

const (
	StateSending SendState = iota
	StateSent
	StateFailed
	StateReceived // 收到的消息
)

func (s SendState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	case StateReceived:
		return "received"
	}
	return "unknown"
}

// MessageType 消息 payload 的类型
type MessageType string

const (
	MessagePayment        MessageType = "payment"
	MessagePaymentRequest MessageType = "paymentRequest"
)

// MessageError 展示给用户的错误
type MessageError int

const (
	ErrorNone MessageError = iota
	ErrorNotDelivered
	ErrorRecipientUnavailable
)

func (e MessageError) String() string {
	switch e {
	case ErrorNotDelivered:
		return "not delivered"
	case ErrorRecipientUnavailable:
		return "recipient unavailable"
	}
	return ""
}

// Message 会话中的一条消息 由会话存储维护
type Message struct {
	ID        string       `json:"id"`
	ThreadID  string       `json:"threadId"` // 对方用户的 toshi id
	Type      MessageType  `json:"type"`
	State     SendState    `json:"state"`
	Error     MessageError `json:"error"`
	Payload   string       `json:"payload"`
	CreatedAt time.Time    `json:"createdAt"`
}

// MarshalBinary 用于 redis 存储
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// PaymentPayload 解析付款 payload
func (m *Message) PaymentPayload() (*Payment, error) {
	p := &Payment{}
	if err := json.Unmarshal([]byte(m.Payload), p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPayment 写入付款 payload
func (m *Message) SetPayment(p *Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	m.Type = MessagePayment
	m.Payload = string(data)
	return nil
}

// PaymentRequestState 付款请求的状态
type PaymentRequestState string

const (
	RequestPending  PaymentRequestState = "pending"
	RequestAccepted PaymentRequestState = "accepted"
	RequestRejected PaymentRequestState = "rejected"
	RequestPaid     PaymentRequestState = "paid"
)

// PaymentRequest 付款请求 payload
type PaymentRequest struct {
	Value              string              `json:"value"`
	DestinationAddress string              `json:"destinationAddress"`
	Body               string              `json:"body,omitempty"`
	State              PaymentRequestState `json:"state"`
}

// PaymentRequestPayload 解析付款请求 payload
func (m *Message) PaymentRequestPayload() (*PaymentRequest, error) {
	r := &PaymentRequest{}
	if err := json.Unmarshal([]byte(m.Payload), r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPaymentRequest 写入付款请求 payload
func (m *Message) SetPaymentRequest(r *PaymentRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.Type = MessagePaymentRequest
	m.Payload = string(data)
	return nil
}

// PendingSend 发送失败 等待手动重发的消息
type PendingSend struct {
	MessageID string   `json:"messageId"`
	ThreadID  string   `json:"threadId"`
	Message   *Message `json:"message"`
}

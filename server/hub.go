package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/websocket"
	"github.com/gin-gonic/gin"
	"github.com/lmxdawn/paywallet/types"
	"github.com/rs/zerolog/log"
)

const (
	EventPaymentFailed = "paymentFailed"
	EventWeb3Result    = "web3Result"
	EventTokenPayment  = "tokenPayment"

	writeWait  = 10 * time.Second
	clientSend = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event 推送给 websocket 客户端的事件
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PaymentFailedEvent 外部付款失败
type PaymentFailedEvent struct {
	ToAddress string `json:"toAddress"`
	Error     string `json:"error"`
}

// Web3ResultEvent dapp 交易的结果 成功时 Result 为交易哈希或签名
type Web3ResultEvent struct {
	CorrelationID string `json:"correlationId"`
	Result        string `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 把付款通知推送给所有 websocket 客户端
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// PaymentFailed ...
func (h *Hub) PaymentFailed(toAddress string, err error) {
	ev := PaymentFailedEvent{ToAddress: toAddress}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Broadcast(Event{Type: EventPaymentFailed, Data: ev})
}

// Web3Result ...
func (h *Hub) Web3Result(correlationID string, result string, err error) {
	ev := Web3ResultEvent{CorrelationID: correlationID, Result: result}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Broadcast(Event{Type: EventWeb3Result, Data: ev})
}

// TokenPayment ...
func (h *Hub) TokenPayment(payment *types.Payment) {
	h.Broadcast(Event{Type: EventTokenPayment, Data: payment})
}

// Broadcast 发送给所有客户端 发送缓冲已满的客户端会被断开
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Msgf("Hub Marshal %s err is %s", ev.Type, err.Error())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Msgf("Hub client too slow, drop it")
			h.removeLocked(c)
		}
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// Serve GET /v1/events
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info().Msgf("Ws UpGrader err is %s", err.Error())
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	// 只读取控制消息 读取失败说明连接已断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Info().Msgf("ws WriteMessage data err is %s", err.Error())
			h.remove(c)
			break
		}
	}
}

package server

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/rs/zerolog/log"
)

// Wallet 当前用户的钱包
type Wallet interface {
	CurrentPaymentAddress() (string, error)
	SwitchAccount(index int) (int, error)
	Info() (*types.Wallet, error)
}

// Builder 构建付款任务
type Builder interface {
	BuildTask(ctx context.Context, from, to string, amount *big.Int) (*types.PaymentTask, error)
	BuildTokenTask(ctx context.Context, from, to, tokenAddress string, amount *big.Int) (*types.PaymentTask, error)
	BuildWeb3Task(ctx context.Context, req types.TransferRequest, correlationID string, signOnly bool) (*types.PaymentTask, error)
	BuildResendTask(ctx context.Context, from, messageID string) (*types.PaymentTask, error)
}

// Sender 付款任务的发送队列
type Sender interface {
	Enqueue(task *types.PaymentTask) bool
}

// Updater 待确认交易的对账
type Updater interface {
	ReconcileAllPending(ctx context.Context) (int, error)
	UpdatePaymentRequestState(ctx context.Context, counterparty *types.User, msg *types.Message, state types.PaymentRequestState)
}

// Store 查询本地数据
type Store interface {
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)
	Messages(ctx context.Context, threadID string) ([]*types.Message, error)
	PendingSends(ctx context.Context) ([]*types.PendingSend, error)
	AllPending(ctx context.Context) ([]*types.PendingTransaction, error)
}

// Balances 余额查询
type Balances interface {
	Balance(ctx context.Context, address string, contractAddress string) (*big.Int, error)
}

// Deps 接口依赖的服务
type Deps struct {
	Wallet   Wallet
	Builder  Builder
	Sender   Sender
	Updater  Updater
	Store    Store
	Balances Balances
	Identity engine.IdentityResolver
	Hub      *Hub
}

// Server http 接口
type Server struct {
	Deps
	token  string
	router *gin.Engine
	http   *http.Server
}

func NewServer(deps Deps, port uint, token string, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	InitValidator()
	s := &Server{Deps: deps, token: token}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%v", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	server := gin.New()
	// 中间件
	server.Use(gin.Logger())
	server.Use(gin.Recovery())
	server.Use(Cors())

	auth := server.Group("/v1", AuthRequired(s.token))
	{
		// 钱包
		auth.GET("/wallet", s.GetWallet)
		auth.GET("/wallet/balance", s.GetBalance)
		auth.POST("/wallet/switch", s.SwitchAccount)

		// 付款
		auth.POST("/payments/quote", s.QuotePayment)
		auth.POST("/payments", s.SendPayment)
		auth.POST("/payments/token", s.SendTokenPayment)
		auth.POST("/payments/web3", s.SendWeb3Payment)
		auth.POST("/payments/resend", s.ResendPayment)
		auth.POST("/payments/reconcile", s.Reconcile)
		auth.GET("/payments/pending", s.ListPending)
		auth.GET("/payments/failed", s.ListFailed)

		// 消息
		auth.GET("/messages", s.ListMessages)
		auth.POST("/payment-requests/state", s.UpdatePaymentRequestState)

		// 通知
		auth.GET("/events", s.Hub.Serve)
	}
	return server
}

// Handler 用于测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务 阻塞到服务关闭
func (s *Server) Run() error {
	log.Info().Msgf("start success at %s ", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 关闭服务和所有 websocket 连接
func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Close()
	return s.http.Shutdown(ctx)
}

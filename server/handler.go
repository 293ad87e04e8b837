package server

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// parseAmount 支持十进制和 0x 开头的十六进制
func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(value), 0)
	if !ok || n.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", value)
	}
	return n, nil
}

func amountRes(a types.Amount) AmountRes {
	res := AmountRes{Wei: "0"}
	if a.Wei != nil {
		res.Wei = a.Wei.String()
	}
	if a.Currency != "" {
		res.Fiat = engine.FormatFiat(a.Fiat, a.Currency)
	}
	return res
}

func taskRes(task *types.PaymentTask, queued bool) TaskRes {
	res := TaskRes{
		Kind:          task.Kind.String(),
		PaymentAmount: amountRes(task.PaymentAmount),
		GasPrice:      amountRes(task.GasPrice),
		TotalAmount:   amountRes(task.TotalAmount),
		MessageID:     task.MessageID,
		Queued:        queued,
	}
	if task.Payment != nil {
		res.From = task.Payment.FromAddress
		res.To = task.Payment.ToAddress
		res.CorrelationID = task.Payment.CorrelationID
	}
	if task.User != nil {
		res.Username = task.User.Username
	}
	if task.Token != nil {
		res.Token = &TokenRes{
			ContractAddress: task.Token.ContractAddress,
			Decimals:        task.Token.Decimals,
			Value:           task.Token.Value.String(),
		}
	}
	return res
}

func (s *Server) enqueue(c *gin.Context, task *types.PaymentTask) {
	if !s.Sender.Enqueue(task) {
		APIResponse(c, ErrQueueClosed, nil)
		return
	}
	APIResponse(c, nil, taskRes(task, true))
}

// GetWallet ...
// @Tags 钱包
// @Summary 钱包信息
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} Response{data=types.Wallet}
// @Router /v1/wallet [get]
func (s *Server) GetWallet(c *gin.Context) {
	info, err := s.Wallet.Info()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, info)
}

// GetBalance ...
// @Tags 钱包
// @Summary 当前钱包的余额
// @Produce json
// @Security ApiKeyAuth
// @Param contract query string false "代币合约"
// @Success 200 {object} Response{data=server.BalanceRes}
// @Router /v1/wallet/balance [get]
func (s *Server) GetBalance(c *gin.Context) {
	var q BalanceReq
	if err := c.ShouldBindQuery(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	address, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	balance, err := s.Balances.Balance(c.Request.Context(), address, q.Contract)
	if err != nil {
		log.Error().Msgf("GetBalance %s err is %s", address, err.Error())
		APIResponse(c, &Err{Code: ErrLedger.Code, Message: ErrLedger.Message, Err: err}, nil)
		return
	}
	APIResponse(c, nil, BalanceRes{Address: address, Contract: q.Contract, Balance: balance.String()})
}

// SwitchAccount ...
// @Tags 钱包
// @Summary 切换当前的收付款地址
// @Produce json
// @Security ApiKeyAuth
// @Param login body SwitchAccountReq true "参数"
// @Success 200 {object} Response{data=server.SwitchAccountRes}
// @Router /v1/wallet/switch [post]
func (s *Server) SwitchAccount(c *gin.Context) {
	var q SwitchAccountReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	index, err := s.Wallet.SwitchAccount(*q.Index)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	address, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, SwitchAccountRes{Index: index, Address: address})
}

func (s *Server) buildPayment(c *gin.Context) (*types.PaymentTask, bool) {
	var q PaymentReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return nil, false
	}
	amount, err := parseAmount(q.Value)
	if err != nil {
		APIResponse(c, &Err{Code: ErrParam.Code, Message: err.Error(), Err: err}, nil)
		return nil, false
	}
	from, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return nil, false
	}
	task, err := s.Builder.BuildTask(c.Request.Context(), from, common.HexToAddress(q.To).Hex(), amount)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return nil, false
	}
	return task, true
}

// QuotePayment ...
// @Tags 付款
// @Summary 付款报价 不发送
// @Produce json
// @Security ApiKeyAuth
// @Param login body PaymentReq true "参数"
// @Success 200 {object} Response{data=server.TaskRes}
// @Router /v1/payments/quote [post]
func (s *Server) QuotePayment(c *gin.Context) {
	task, ok := s.buildPayment(c)
	if !ok {
		return
	}
	APIResponse(c, nil, taskRes(task, false))
}

// SendPayment ...
// @Tags 付款
// @Summary 发起付款 对方是 Toshi 用户时同时发送付款消息
// @Produce json
// @Security ApiKeyAuth
// @Param login body PaymentReq true "参数"
// @Success 200 {object} Response{data=server.TaskRes}
// @Router /v1/payments [post]
func (s *Server) SendPayment(c *gin.Context) {
	task, ok := s.buildPayment(c)
	if !ok {
		return
	}
	s.enqueue(c, task)
}

// SendTokenPayment 代币付款
func (s *Server) SendTokenPayment(c *gin.Context) {
	var q TokenPaymentReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	amount, err := parseAmount(q.Value)
	if err != nil {
		APIResponse(c, &Err{Code: ErrParam.Code, Message: err.Error(), Err: err}, nil)
		return
	}
	from, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	to := common.HexToAddress(q.To).Hex()
	token := common.HexToAddress(q.TokenAddress).Hex()
	task, err := s.Builder.BuildTokenTask(c.Request.Context(), from, to, token, amount)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	s.enqueue(c, task)
}

// SendWeb3Payment dapp 交易 结果通过 websocket 的 web3Result 事件返回
func (s *Server) SendWeb3Payment(c *gin.Context) {
	var q Web3PaymentReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	amount, err := parseAmount(q.Value)
	if err != nil {
		APIResponse(c, &Err{Code: ErrParam.Code, Message: err.Error(), Err: err}, nil)
		return
	}
	from, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	if q.CorrelationID == "" {
		q.CorrelationID = uuid.NewString()
	}
	req := types.TransferRequest{
		From:  from,
		To:    common.HexToAddress(q.To).Hex(),
		Value: amount,
		Data:  common.FromHex(q.Data),
	}
	task, err := s.Builder.BuildWeb3Task(c.Request.Context(), req, q.CorrelationID, q.SignOnly)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	s.enqueue(c, task)
}

// ResendPayment 重发失败的付款消息
func (s *Server) ResendPayment(c *gin.Context) {
	var q ResendReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	from, err := s.Wallet.CurrentPaymentAddress()
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	task, err := s.Builder.BuildResendTask(c.Request.Context(), from, q.MessageID)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	s.enqueue(c, task)
}

// Reconcile 查询所有未确认交易的状态
func (s *Server) Reconcile(c *gin.Context) {
	n, err := s.Updater.ReconcileAllPending(c.Request.Context())
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, ReconcileRes{Submitted: n})
}

func (s *Server) ListPending(c *gin.Context) {
	txs, err := s.Store.AllPending(c.Request.Context())
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, txs)
}

func (s *Server) ListFailed(c *gin.Context) {
	sends, err := s.Store.PendingSends(c.Request.Context())
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, sends)
}

func (s *Server) ListMessages(c *gin.Context) {
	var q MessagesReq
	if err := c.ShouldBindQuery(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	messages, err := s.Store.Messages(c.Request.Context(), q.ThreadID)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, messages)
}

// UpdatePaymentRequestState 接受 拒绝 或标记已付款
func (s *Server) UpdatePaymentRequestState(c *gin.Context) {
	var q PaymentRequestStateReq
	if err := c.ShouldBindJSON(&q); err != nil {
		HandleValidatorError(c, err)
		return
	}
	ctx := c.Request.Context()
	msg, err := s.Store.GetMessage(ctx, q.MessageID)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	if msg.Type != types.MessagePaymentRequest {
		APIResponse(c, ErrInvalidRequestState, nil)
		return
	}

	threadID := q.ThreadID
	if threadID == "" {
		threadID = msg.ThreadID
	}
	var counterparty *types.User
	if s.Identity != nil && threadID != "" {
		counterparty, err = s.Identity.ResolveUserByID(ctx, threadID)
		if err != nil {
			log.Warn().Msgf("UpdatePaymentRequestState resolve %s err is %s", threadID, err.Error())
		}
	}
	s.Updater.UpdatePaymentRequestState(ctx, counterparty, msg, types.PaymentRequestState(q.State))

	updated, err := s.Store.GetMessage(ctx, q.MessageID)
	if err != nil {
		APIResponse(c, WrapErr(err), nil)
		return
	}
	APIResponse(c, nil, updated)
}

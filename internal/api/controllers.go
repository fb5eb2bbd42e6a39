package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/engine"
	"trading-sim/internal/monitor"
	"trading-sim/internal/order"
	"trading-sim/internal/signal"
	"trading-sim/pkg/cache"
	"trading-sim/pkg/db"
)

type placeOrderRequest struct {
	Symbol         string          `json:"symbol" binding:"required,min=1"`
	Side           string          `json:"side" binding:"required"`
	Type           string          `json:"type"`
	Size           decimal.Decimal `json:"size"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	Leverage       int             `json:"leverage" binding:"required,min=1"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	TrailingOffset decimal.Decimal `json:"trailing_offset"`
}

func (r placeOrderRequest) toEngine() (engine.OrderRequest, error) {
	side, ok := order.ParseSide(r.Side)
	if !ok {
		return engine.OrderRequest{}, errors.New("side must be buy/sell or long/short")
	}
	typ, ok := order.ParseType(r.Type)
	if !ok {
		return engine.OrderRequest{}, errors.New("unknown order type")
	}
	return engine.OrderRequest{
		Symbol:         r.Symbol,
		Side:           side,
		Type:           typ,
		Size:           r.Size,
		Price:          r.Price,
		StopPrice:      r.StopPrice,
		Leverage:       r.Leverage,
		StopLoss:       r.StopLoss,
		TakeProfit:     r.TakeProfit,
		TrailingOffset: r.TrailingOffset,
	}, nil
}

type tickRequest struct {
	Symbol string          `json:"symbol" binding:"required,min=1"`
	Price  decimal.Decimal `json:"price"`
}

type closeRequest struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
}

type leverageRequest struct {
	Leverage int `json:"leverage" binding:"required"`
}

type balanceRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps an engine error kind to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnknownAccount):
		return http.StatusNotFound, "UNKNOWN_ACCOUNT"
	case errors.Is(err, engine.ErrEmergencyStop):
		return http.StatusLocked, "EMERGENCY_STOP"
	case errors.Is(err, engine.ErrValidation), errors.Is(err, signal.ErrInvalidSignal):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, engine.ErrInsufficientMargin):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_MARGIN"
	case errors.Is(err, engine.ErrRiskRejected):
		return http.StatusUnprocessableEntity, "RISK_REJECTED"
	case errors.Is(err, engine.ErrStateConflict):
		return http.StatusConflict, "STATE_CONFLICT"
	case errors.Is(err, engine.ErrExecution):
		return http.StatusBadGateway, "EXECUTION_FAILED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELLED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (s *Server) respondEngineError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"code": code, "error": err.Error()}
	var rej *engine.RejectionError
	if errors.As(err, &rej) {
		body["reasons"] = rej.Reasons
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return false
	}
	return true
}

func (s *Server) systemStatus(c *gin.Context) {
	body := gin.H{
		"meta":      s.Meta,
		"emergency": s.Engine.Emergency(),
		"accounts":  len(s.Engine.Accounts()),
	}
	if ml, ok := s.Engine.(marksLister); ok {
		body["marks"] = ml.Marks()
	}
	if s.Metrics != nil {
		s.Metrics.SetActiveAccounts(len(s.Engine.Accounts()))
		body["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, body)
}

// marksLister is implemented by engine.Registry.
type marksLister interface {
	Marks() []cache.Mark
}

// accountCreator is implemented by engine.Registry.
type accountCreator interface {
	CreateAccount(initial decimal.Decimal) (string, error)
}

func (s *Server) createAccount(c *gin.Context) {
	var req balanceRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.InitialBalance.IsNegative() {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "initial_balance must not be negative")
		return
	}

	// Account-scoped tokens can only materialize their own account.
	if claims := CurrentClaims(c); claims != nil && !claims.Admin {
		ctx := c.Request.Context()
		var err error
		if req.InitialBalance.IsPositive() {
			err = s.Engine.ResetSimulation(ctx, claims.Account, req.InitialBalance)
		} else {
			_, err = s.Engine.OpenAccount(ctx, claims.Account)
		}
		if err != nil {
			s.respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"account": claims.Account})
		return
	}

	creator, ok := s.Engine.(accountCreator)
	if !ok {
		respondError(c, http.StatusNotImplemented, "NOT_SUPPORTED", "account creation not supported")
		return
	}
	id, err := creator.CreateAccount(req.InitialBalance)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": id})
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.Engine.Accounts()})
}

func (s *Server) getAccount(c *gin.Context) {
	snap, err := s.Engine.Snapshot(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) placeOrder(c *gin.Context) {
	var body placeOrderRequest
	if !bindJSON(c, &body) {
		return
	}
	req, err := body.toEngine()
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if s.Metrics != nil {
		defer monitor.NewTimer(s.Metrics.PlaceLatency).Stop()
	}
	res, err := s.Engine.PlaceOrder(c.Request.Context(), c.Param("account"), req)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementOrders()
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) assess(c *gin.Context) {
	var body placeOrderRequest
	if !bindJSON(c, &body) {
		return
	}
	req, err := body.toEngine()
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	a, err := s.Engine.Assess(c.Request.Context(), c.Param("account"), req)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listOrders(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(100, 500)
	orders, err := s.Engine.Orders(c.Request.Context(), c.Param("account"), q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "order id must be a positive integer")
		return
	}
	o, err := s.Engine.CancelOrder(c.Request.Context(), c.Param("account"), id)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) closePosition(c *gin.Context) {
	var req closeRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if s.Metrics != nil {
		defer monitor.NewTimer(s.Metrics.CloseLatency).Stop()
	}
	res, err := s.Engine.ClosePosition(c.Request.Context(), c.Param("account"), c.Param("symbol"), req.ExitPrice)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) setLeverage(c *gin.Context) {
	var req leverageRequest
	if !bindJSON(c, &req) {
		return
	}
	pos, err := s.Engine.SetLeverage(c.Request.Context(), c.Param("account"), c.Param("symbol"), req.Leverage)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) activity(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(50, 500)
	recs, err := s.Engine.Activity(c.Request.Context(), c.Param("account"), q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": recs})
}

type eventsQuery struct {
	Types  string `form:"types"`
	Symbol string `form:"symbol"`
	After  string `form:"after"`
	Limit  int    `form:"limit"`
}

type persistedEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	OrderID   uint64    `json:"order_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) persistedEvents(c *gin.Context) {
	if s.Events == nil {
		respondError(c, http.StatusServiceUnavailable, "NO_EVENT_STORE", "event persistence disabled")
		return
	}
	var q eventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	lq := listQuery{Limit: q.Limit}
	lq.normalize(100, 1000)

	ctx := c.Request.Context()
	account := c.Param("account")
	rows, err := s.Events.ListEvents(ctx, db.EventFilter{
		Account: account,
		Types:   splitParam(q.Types),
		Symbol:  q.Symbol,
		AfterID: q.After,
		Limit:   lq.Limit,
	})
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	counts, err := s.Events.CountEvents(ctx, account)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	out := make([]persistedEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, persistedEvent{
			ID:        r.ID,
			Type:      r.Type,
			Symbol:    r.Symbol,
			OrderID:   r.OrderID,
			Payload:   rawJSON(r.Payload),
			CreatedAt: r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "counts": counts})
}

func rawJSON(payload string) any {
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil
	}
	return json.RawMessage(payload)
}

func (s *Server) resetSimulation(c *gin.Context) {
	var req balanceRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	account := c.Param("account")
	if err := s.Engine.ResetSimulation(ctx, account, req.InitialBalance); err != nil {
		s.respondEngineError(c, err)
		return
	}
	snap, err := s.Engine.Snapshot(ctx, account)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) postTick(c *gin.Context) {
	var req tickRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.Engine.UpdatePrice(c.Request.Context(), req.Symbol, req.Price); err != nil {
		s.respondEngineError(c, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementTicks()
	}
	c.JSON(http.StatusAccepted, gin.H{"symbol": req.Symbol, "price": req.Price})
}

func (s *Server) postSignal(c *gin.Context) {
	if s.Signals == nil {
		respondError(c, http.StatusServiceUnavailable, "SIGNALS_DISABLED", "signal dispatcher not configured")
		return
	}
	var sig signal.Signal
	if !bindJSON(c, &sig) {
		return
	}
	sig.Account = requestAccount(c, sig.Account)
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	if sig.Source == "" {
		sig.Source = "api"
	}

	out, err := s.Signals.Handle(c.Request.Context(), sig)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error(), "outcome": out})
		return
	}
	status := http.StatusOK
	if out.Accepted {
		status = http.StatusCreated
	}
	c.JSON(status, out)
}

func (s *Server) getEmergency(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Emergency())
}

func (s *Server) resetEmergency(c *gin.Context) {
	if err := s.Engine.ResetEmergency(c.Request.Context()); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.Emergency())
}

// Package api exposes the simulator over HTTP and a websocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trading-sim/internal/engine"
	"trading-sim/internal/events"
	"trading-sim/internal/monitor"
	"trading-sim/internal/signal"
	"trading-sim/pkg/db"
)

// EventStore serves the persisted event log.
type EventStore interface {
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.EventRow, error)
	CountEvents(ctx context.Context, account string) (map[string]int, error)
}

// SystemMeta describes the running process for the status endpoint.
type SystemMeta struct {
	Mode        string   `json:"mode"`
	Symbols     []string `json:"symbols"`
	UseMockFeed bool     `json:"use_mock_feed"`
	Strategy    string   `json:"strategy,omitempty"`
	Version     string   `json:"version"`
}

// Options wires a Server. Engine is required; the rest is optional.
type Options struct {
	Engine    engine.Service
	Bus       *events.Bus
	Signals   *signal.Dispatcher
	Events    EventStore
	Metrics   *monitor.SystemMetrics
	Gatherer  prometheus.Gatherer
	Meta      SystemMeta
	JWTSecret string

	RateLimit float64 // requests per second per IP; zero uses 20
	RateBurst int
	Timeout   time.Duration
	Log       *zap.Logger
}

// Server wires HTTP handlers.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Signals   *signal.Dispatcher
	Events    EventStore
	Metrics   *monitor.SystemMetrics
	Gatherer  prometheus.Gatherer
	Meta      SystemMeta
	JWTSecret string

	log *zap.Logger
}

// NewServer constructs the API server.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Metrics))
	r.Use(RateLimitMiddleware(newLimiterStore(opts.RateLimit, opts.RateBurst), log))
	r.Use(TimeoutMiddleware(opts.Timeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Bus:       opts.Bus,
		Signals:   opts.Signals,
		Events:    opts.Events,
		Metrics:   opts.Metrics,
		Gatherer:  opts.Gatherer,
		Meta:      opts.Meta,
		JWTSecret: opts.JWTSecret,
		log:       log.Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.promMetrics)
	s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	api.GET("/system/status", s.systemStatus)

	protected := api.Group("/")
	protected.Use(AuthMiddleware(s.JWTSecret))
	{
		protected.POST("/accounts", s.createAccount)
		protected.GET("/accounts", requireAdmin(), s.listAccounts)
		protected.POST("/ticks", requireAdmin(), s.postTick)
		protected.POST("/signals", s.postSignal)
		protected.GET("/emergency", s.getEmergency)
		protected.POST("/emergency/reset", requireAdmin(), s.resetEmergency)

		account := protected.Group("/accounts/:account")
		account.Use(requireAccount())
		account.GET("", s.getAccount)
		account.POST("/orders", s.placeOrder)
		account.GET("/orders", s.listOrders)
		account.DELETE("/orders/:id", s.cancelOrder)
		account.POST("/assess", s.assess)
		account.POST("/positions/:symbol/close", s.closePosition)
		account.PUT("/positions/:symbol/leverage", s.setLeverage)
		account.GET("/activity", s.activity)
		account.GET("/events", s.persistedEvents)
		account.POST("/reset", s.resetSimulation)
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	em := s.Engine.Emergency()
	if em.Active {
		status = "emergency"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"emergency": em.Active,
		"time":      time.Now().UTC(),
	})
}

func (s *Server) promMetrics(c *gin.Context) {
	g := s.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

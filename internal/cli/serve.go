package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trading-sim/internal/api"
	"trading-sim/internal/engine"
	"trading-sim/internal/events"
	"trading-sim/internal/market"
	"trading-sim/internal/monitor"
	"trading-sim/internal/persistence"
	"trading-sim/internal/signal"
	"trading-sim/pkg/config"
	"trading-sim/pkg/db"
	"trading-sim/pkg/logger"
)

// Mock feed starting prices; symbols not listed start at 100.
var mockStartPrices = map[string]decimal.Decimal{
	"BTCUSDT": decimal.NewFromInt(50000),
	"ETHUSDT": decimal.NewFromInt(3000),
	"SOLUSDT": decimal.NewFromInt(150),
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service and market pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewCollectors(promReg)
	sysMetrics := monitor.NewSystemMetrics()

	ec, err := engineConfig(cfg, catalog, metrics, log)
	if err != nil {
		return err
	}
	registry := engine.NewRegistry(ec)
	defer registry.Close()
	// The default account exists from the start so the feed always marks it.
	if _, err := registry.GetOrCreate(engine.DefaultAccount); err != nil {
		return err
	}

	bus := events.NewBus()
	defer registry.Emitter().On(bus.Forward())()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}
	sink := persistence.NewEventSink(
		persistence.NewBatchWriter(database.DB, cfg.EventBatchSize, cfg.EventFlushInterval, log.Named("sink")),
		log.Named("sink"),
	)
	detachSink := registry.Emitter().Attach(sink)
	defer func() {
		detachSink()
		if err := sink.Close(); err != nil {
			log.Warn("event sink close", zap.Error(err))
		}
	}()

	queue := signal.NewQueue(256)
	dispatcher := &signal.Dispatcher{
		Engine:          registry,
		Filter:          signal.NewFilter(cfg.SignalConfidenceThreshold),
		Account:         engine.DefaultAccount,
		DefaultLeverage: cfg.SignalLeverage,
		Bus:             bus,
		Metrics:         sysMetrics,
		Log:             log.Named("signals"),
	}
	go dispatcher.Run(ctx, queue)
	defer queue.Close()

	var strategy market.Strategy
	if cfg.SignalStrategy == "ma_cross" {
		strategy = signal.NewMACross(10, 30, 14, "tick")
	}
	(&market.Pump{
		Bus:      bus,
		Prices:   registry,
		Strategy: strategy,
		Signals:  queue,
		Metrics:  sysMetrics,
		Log:      log.Named("pump"),
	}).Start(ctx)

	if cfg.UseMockFeed {
		(&market.MockFeed{
			Bus:         bus,
			Symbols:     cfg.Symbols,
			StartPrices: mockStartPrices,
			Seed:        cfg.Sim.SlippageSeed,
			Log:         log.Named("feed"),
		}).Start(ctx)
	}

	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: log.Named("alerts")}, Log: log}).Start(ctx)

	if ttl := cfg.AccountIdleTTL; ttl > 0 {
		interval := ttl / 4
		if interval < time.Minute {
			interval = time.Minute
		}
		go registry.RunCleanup(ctx, interval, ttl)
	}

	grpcServer, healthServer, detachHealth := newHealthServer(registry.Breaker())
	defer detachHealth()
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			log.Warn("grpc serve", zap.Error(err))
		}
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	server := api.NewServer(api.Options{
		Engine:   registry,
		Bus:      bus,
		Signals:  dispatcher,
		Events:   database.Queries(),
		Metrics:  sysMetrics,
		Gatherer: promReg,
		Meta: api.SystemMeta{
			Mode:        cfg.Mode,
			Symbols:     cfg.Symbols,
			UseMockFeed: cfg.UseMockFeed,
			Strategy:    cfg.SignalStrategy,
			Version:     Version,
		},
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	log.Info("simulator started",
		zap.String("mode", cfg.Mode),
		zap.Strings("symbols", cfg.Symbols),
		zap.Stringer("initial_balance", ec.InitialBalance),
		zap.Bool("mock_feed", cfg.UseMockFeed),
		zap.String("strategy", cfg.SignalStrategy))

	err = server.Start(ctx, ":"+cfg.Port)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info("simulator stopping")
	return err
}

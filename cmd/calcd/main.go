package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"calcchain/config"
	"calcchain/core/types"
	"calcchain/native/exchange"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
	"calcchain/observability/logging"
	"calcchain/observability/metrics"
	"calcchain/services/strategyd"
	"calcchain/storage"
)

const schedulerTarget = "scheduler"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("CALC_ENV"))
	logger := logging.Setup("calcd", env, logSink(cfg.Log))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()
	store := storage.NewStore(db)

	paper := strategyd.NewPaperState(cfg.HubDenom)
	router, err := buildRouter(cfg, paper)
	if err != nil {
		logger.Error("Failed to build exchange router", slog.Any("error", err))
		os.Exit(1)
	}
	router.SetRefusalObserver(metrics.Strategy().ObserveQuoteFailure)

	// Local block clock: one height per second, starting at process start.
	start := time.Now()
	var height atomic.Uint64
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			height.Store(uint64(time.Since(start) / time.Second))
		}
	}()

	emitter := strategyd.NewLogEmitter(logger)

	engine := strategy.NewEngine(store)
	engine.SetEmitter(emitter)
	engine.SetRouter(router)
	engine.SetBank(paper)
	engine.SetOrders(paper)
	engine.SetOracle(paper)
	engine.SetScheduler(schedulerTarget)
	engine.SetHeightFunc(height.Load)

	sched := scheduler.NewEngine(store)
	sched.SetEmitter(emitter)

	dispatcher := strategyd.NewDispatcher(sched, schedulerTarget, logger)
	evalCtx := func() *strategy.Context {
		return &strategy.Context{
			Env: types.Env{
				Height: height.Load(),
				Time:   time.Now().UTC(),
			},
			Bank:   paper,
			Router: router,
			Orders: paper,
			Status: engine,
			Oracle: paper,
		}
	}

	server := strategyd.New(strategyd.Config{
		Engine:      engine,
		Scheduler:   sched,
		Dispatcher:  dispatcher,
		EvalContext: evalCtx,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := strategyd.NewSweeper(
		sched, engine, dispatcher, evalCtx, "calcd",
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		cfg.SweepBatchLimit, logger,
	)
	sweeper.SetPendingCounter(store.PendingCallbackCount)
	go sweeper.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
	}
}

// logSink builds the rotating file sink, or nil for stdout-only logging.
func logSink(cfg config.LogConfig) io.Writer {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, "calcd.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

// buildRouter wires the configured venues, in preference order, over the
// paper market state.
func buildRouter(cfg *config.Config, paper *strategyd.PaperState) (*exchange.Router, error) {
	venues := make([]exchange.Venue, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		switch vc.Kind {
		case config.VenueKindPool:
			for _, pc := range vc.Pools {
				asset, hub, err := pc.Amounts()
				if err != nil {
					return nil, err
				}
				paper.SeedPool(exchange.Pool{Asset: pc.Asset, AssetBalance: asset, HubBalance: hub})
			}
			venues = append(venues, exchange.NewPoolVenue(vc.Name, cfg.HubDenom, vc.Contract, paper))
		case config.VenueKindBook:
			pairs := make([]exchange.Pair, 0, len(vc.Pairs))
			for _, pc := range vc.Pairs {
				pairs = append(pairs, exchange.Pair{
					Address:    pc.Address,
					BaseDenom:  pc.BaseDenom,
					QuoteDenom: pc.QuoteDenom,
				})
				paper.SeedBook(pc.Address, pc.BaseDenom, pc.QuoteDenom, exchange.OrderBook{})
			}
			venues = append(venues, exchange.NewBookVenue(vc.Name, pairs, paper))
		case config.VenueKindDeposit:
			venues = append(venues, exchange.NewDepositVenue(vc.Name, paper, vc.Affiliate, vc.AffiliateBps))
		default:
			return nil, fmt.Errorf("unknown venue kind %q", vc.Kind)
		}
	}
	return exchange.NewRouter(venues...)
}

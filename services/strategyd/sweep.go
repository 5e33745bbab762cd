package strategyd

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"calcchain/native/scheduler"
	"calcchain/native/strategy"
	"calcchain/observability/metrics"
)

// Sweeper periodically scans the scheduler for due triggers and executes the
// strategies they point at. It plays the role of a permissionless keeper.
type Sweeper struct {
	engine       *scheduler.Engine
	strategies   *strategy.Engine
	dispatcher   *Dispatcher
	evalCtx      func() *strategy.Context
	executor     string
	interval     time.Duration
	batchLimit   int
	logger       *slog.Logger
	pendingCount func() (int, error)
}

// NewSweeper constructs a sweeper with sane defaults.
func NewSweeper(sched *scheduler.Engine, strategies *strategy.Engine, dispatcher *Dispatcher, evalCtx func() *strategy.Context, executor string, interval time.Duration, batchLimit int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:     sched,
		strategies: strategies,
		dispatcher: dispatcher,
		evalCtx:    evalCtx,
		executor:   executor,
		interval:   interval,
		batchLimit: batchLimit,
		logger:     logger,
	}
}

// SetPendingCounter installs a source for the unresolved-callback gauge,
// refreshed after every sweep pass.
func (s *Sweeper) SetPendingCounter(fn func() (int, error)) {
	s.pendingCount = fn
}

// Run starts the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	evalCtx := s.evalCtx()
	due, err := s.engine.Filtered(evalCtx, s.batchLimit)
	if err != nil {
		s.logger.Error("trigger sweep failed", "error", err)
		return
	}
	fired := 0
	for _, trigger := range due {
		if s.fire(evalCtx, trigger) {
			fired++
		}
	}
	metrics.Strategy().ObserveSweep(fired)
	if s.pendingCount != nil {
		pending, err := s.pendingCount()
		if err != nil {
			s.logger.Error("pending callback count failed", "error", err)
			return
		}
		metrics.Strategy().SetPendingCallbacks(pending)
	}
}

func (s *Sweeper) fire(evalCtx *strategy.Context, trigger scheduler.Trigger) bool {
	payload, rebate, err := s.engine.ExecuteTrigger(evalCtx, trigger.ID, s.executor)
	if err != nil {
		s.logger.Error("trigger execution failed", "trigger", trigger.ID, "error", err)
		return false
	}
	if err := s.dispatcher.Dispatch(trigger.Owner, rebate); err != nil {
		s.logger.Error("rebate dispatch failed", "trigger", trigger.ID, "error", err)
	}

	var decoded strategy.ExecutePayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		s.logger.Error("trigger payload malformed", "trigger", trigger.ID, "target", trigger.To, "error", err)
		return false
	}
	effects, err := s.strategies.Execute(decoded.Execute.StrategyID)
	if err != nil {
		metrics.Strategy().ObserveExecution("error")
		s.logger.Error("strategy execution failed", "strategy", decoded.Execute.StrategyID, "error", err)
		return false
	}
	metrics.Strategy().ObserveExecution("ok")
	if err := s.dispatcher.Dispatch(trigger.To, effects); err != nil {
		s.logger.Error("effect dispatch failed", "strategy", decoded.Execute.StrategyID, "error", err)
		return false
	}
	s.logger.Info("executed strategy", "strategy", decoded.Execute.StrategyID, "effects", len(effects))
	return true
}

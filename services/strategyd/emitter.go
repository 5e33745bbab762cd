package strategyd

import (
	"log/slog"

	"calcchain/core/events"
	"calcchain/core/types"
	"calcchain/observability/metrics"
)

// LogEmitter forwards engine events to structured logs and the metrics
// registry.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wraps a logger as an event sink.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements events.Emitter.
func (l *LogEmitter) Emit(event events.Event) {
	switch event.EventType() {
	case events.TypeExecutionSkipped:
		metrics.Strategy().ObserveSkip()
	case events.TypeExecutionFailed:
		metrics.Strategy().ObserveFailure("execution")
	case events.TypeSchedulingFailed:
		metrics.Strategy().ObserveFailure("scheduling")
	}

	attrs := []any{"event", event.EventType()}
	if carrier, ok := event.(interface{ Event() *types.Event }); ok {
		for key, value := range carrier.Event().Attributes {
			attrs = append(attrs, key, value)
		}
	}
	l.logger.Info("engine event", attrs...)
}

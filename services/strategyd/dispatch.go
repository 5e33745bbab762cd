package strategyd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"calcchain/core/types"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
)

// Dispatcher routes the deferred effects the engines produce. Invokes
// addressed to the scheduler are applied locally as trigger registrations;
// everything else is queued in the outbox for external settlement.
type Dispatcher struct {
	scheduler *scheduler.Engine
	target    string
	logger    *slog.Logger

	mu     sync.Mutex
	outbox []types.Effect
}

// NewDispatcher wires a dispatcher against the scheduler registered under
// the given target name.
func NewDispatcher(sched *scheduler.Engine, target string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{scheduler: sched, target: target, logger: logger}
}

// Dispatch applies each effect on behalf of owner. Scheduler registrations
// are handled synchronously; failures there are returned so the caller can
// surface them.
func (d *Dispatcher) Dispatch(owner string, effects []types.Effect) error {
	for _, effect := range effects {
		if effect.Invoke != nil && effect.Invoke.Target == d.target {
			if err := d.applyTriggers(owner, effect.Invoke.Payload); err != nil {
				return err
			}
			continue
		}
		d.enqueue(effect)
	}
	return nil
}

func (d *Dispatcher) applyTriggers(owner string, payload json.RawMessage) error {
	var decoded strategy.SetTriggersPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("strategyd: decode trigger registration: %w", err)
	}
	triggers := make([]scheduler.Trigger, 0, len(decoded.SetTriggers))
	for _, spec := range decoded.SetTriggers {
		triggers = append(triggers, scheduler.Trigger{
			Owner:      owner,
			Conditions: spec.Conditions,
			Threshold:  spec.Threshold,
			To:         spec.To,
			Payload:    spec.Payload,
			Rebate:     spec.Rebate,
		})
	}
	registered, err := d.scheduler.SetTriggers(owner, triggers)
	if err != nil {
		return err
	}
	d.logger.Info("registered triggers", "owner", owner, "count", len(registered))
	return nil
}

func (d *Dispatcher) enqueue(effect types.Effect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outbox = append(d.outbox, effect)
}

// Outbox drains and returns the queued external effects.
func (d *Dispatcher) Outbox() []types.Effect {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.outbox
	d.outbox = nil
	return out
}

// Pending returns the queued effects without draining them.
func (d *Dispatcher) Pending() []types.Effect {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Effect, len(d.outbox))
	copy(out, d.outbox)
	return out
}

package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"calcchain/core/events"
	"calcchain/core/types"
	"calcchain/native/strategy"
)

var (
	ErrTriggerNotFound    = errors.New("scheduler: trigger not found")
	ErrTriggerNotDue      = errors.New("scheduler: trigger conditions not met")
	ErrInvalidTrigger     = errors.New("scheduler: invalid trigger")
	ErrNilStore           = errors.New("scheduler: store not configured")
	ErrDuplicateCondition = errors.New("scheduler: duplicate trigger for owner")
)

// Trigger is one registered callback: when the conditions clear under the
// threshold, anyone may execute it, the rebate pays the executor, and the
// payload is delivered to the target.
type Trigger struct {
	ID         uint64               `json:"id"`
	Owner      string               `json:"owner"`
	Conditions []strategy.Condition `json:"conditions"`
	Threshold  strategy.Threshold   `json:"threshold"`
	To         string               `json:"to"`
	Payload    json.RawMessage      `json:"payload"`
	Rebate     types.Coins          `json:"rebate,omitempty"`
}

func (t Trigger) validate() error {
	if strings.TrimSpace(t.Owner) == "" {
		return fmt.Errorf("%w: owner required", ErrInvalidTrigger)
	}
	if strings.TrimSpace(t.To) == "" {
		return fmt.Errorf("%w: callback target required", ErrInvalidTrigger)
	}
	if len(t.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition required", ErrInvalidTrigger)
	}
	if err := t.Threshold.Validate(); err != nil {
		return err
	}
	for _, condition := range t.Conditions {
		if err := condition.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// triggerID derives a content hash over the owner and the condition set, so
// re-registering the same trigger is idempotent.
func triggerID(owner string, conditions []strategy.Condition) (uint64, error) {
	h := fnv.New64a()
	if _, err := h.Write([]byte(owner)); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(raw); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Store persists triggers.
type Store interface {
	PutTrigger(trigger Trigger) error
	TriggerByID(id uint64) (Trigger, bool, error)
	DeleteTrigger(id uint64) error
	ListTriggers() ([]Trigger, error)
}

// Engine is the external scheduler service: strategies register condition
// sets, and a permissionless crank fires the callbacks once conditions hold.
type Engine struct {
	store   Store
	emitter events.Emitter
}

// NewEngine constructs a scheduler engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter wires an event emitter. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTriggers atomically replaces every trigger an owner has registered.
// An empty list clears the owner's registrations.
func (e *Engine) SetTriggers(owner string, triggers []Trigger) ([]Trigger, error) {
	if e.store == nil {
		return nil, ErrNilStore
	}
	existing, err := e.Owned(owner, 0, 0)
	if err != nil {
		return nil, err
	}
	registered := make([]Trigger, 0, len(triggers))
	seen := make(map[uint64]struct{})
	for _, trigger := range triggers {
		trigger.Owner = owner
		if err := trigger.validate(); err != nil {
			return nil, err
		}
		id, err := triggerID(owner, trigger.Conditions)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateCondition, id)
		}
		seen[id] = struct{}{}
		trigger.ID = id
		registered = append(registered, trigger)
	}
	for _, old := range existing {
		if err := e.store.DeleteTrigger(old.ID); err != nil {
			return nil, err
		}
	}
	for _, trigger := range registered {
		if err := e.store.PutTrigger(trigger); err != nil {
			return nil, err
		}
	}
	return registered, nil
}

// CanExecute evaluates a trigger's conditions. The returned reason is the
// aggregated failure text when the trigger is not due.
func (e *Engine) CanExecute(ctx *strategy.Context, id uint64) (bool, string, error) {
	trigger, ok, err := e.trigger(id)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", fmt.Errorf("%w: %d", ErrTriggerNotFound, id)
	}
	return e.evaluate(ctx, trigger)
}

func (e *Engine) evaluate(ctx *strategy.Context, trigger Trigger) (bool, string, error) {
	composite := strategy.Condition{Composite: &strategy.CompositeCondition{
		Conditions: trigger.Conditions,
		Threshold:  trigger.Threshold,
	}}
	err := composite.Check(ctx)
	if err == nil {
		return true, "", nil
	}
	if strategy.IsUnmet(err) {
		return false, err.Error(), nil
	}
	return false, "", err
}

// ExecuteTrigger fires a due trigger: the registration is popped, the rebate
// is paid to the executor, and the callback payload is returned for delivery
// to the target.
func (e *Engine) ExecuteTrigger(ctx *strategy.Context, id uint64, executor string) (json.RawMessage, []types.Effect, error) {
	trigger, ok, err := e.trigger(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrTriggerNotFound, id)
	}
	due, reason, err := e.evaluate(ctx, trigger)
	if err != nil {
		return nil, nil, err
	}
	if !due {
		return nil, nil, fmt.Errorf("%w: %s", ErrTriggerNotDue, reason)
	}
	if err := e.store.DeleteTrigger(id); err != nil {
		return nil, nil, err
	}
	var effects []types.Effect
	if !trigger.Rebate.IsZero() && strings.TrimSpace(executor) != "" {
		effects = append(effects, types.Effect{
			Send: &types.SendEffect{To: executor, Amount: trigger.Rebate},
		})
	}
	e.emitter.Emit(events.TriggerExecuted{TriggerID: id, Target: trigger.To})
	return trigger.Payload, effects, nil
}

// Filtered returns every registered trigger whose conditions currently hold,
// in ascending id order. Triggers whose evaluation fails with a query error
// are skipped rather than aborting the sweep.
func (e *Engine) Filtered(ctx *strategy.Context, limit int) ([]Trigger, error) {
	if e.store == nil {
		return nil, ErrNilStore
	}
	triggers, err := e.store.ListTriggers()
	if err != nil {
		return nil, err
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	due := make([]Trigger, 0, len(triggers))
	for _, trigger := range triggers {
		ok, _, err := e.evaluate(ctx, trigger)
		if err != nil || !ok {
			continue
		}
		due = append(due, trigger)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// Owned returns an owner's triggers in ascending id order with offset/limit
// pagination; a zero limit means no bound.
func (e *Engine) Owned(owner string, offset, limit int) ([]Trigger, error) {
	if e.store == nil {
		return nil, ErrNilStore
	}
	triggers, err := e.store.ListTriggers()
	if err != nil {
		return nil, err
	}
	owned := triggers[:0]
	for _, trigger := range triggers {
		if trigger.Owner == owner {
			owned = append(owned, trigger)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	if offset >= len(owned) {
		return []Trigger{}, nil
	}
	owned = owned[offset:]
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (e *Engine) trigger(id uint64) (Trigger, bool, error) {
	if e.store == nil {
		return Trigger{}, false, ErrNilStore
	}
	return e.store.TriggerByID(id)
}

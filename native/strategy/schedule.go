package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"calcchain/core/events"
	"calcchain/core/types"
)

// ScheduleAction executes its inner action on a cadence, re-arming itself
// with the external scheduler after every due execution.
type ScheduleAction struct {
	// Scheduler overrides the context's scheduler target when non-empty.
	Scheduler string      `json:"scheduler,omitempty"`
	Cadence   Cadence     `json:"cadence"`
	Rebate    types.Coins `json:"rebate,omitempty"`
	Inner     *Action     `json:"inner"`
}

func (s ScheduleAction) validate(depth int) error {
	if err := s.Cadence.Validate(); err != nil {
		return err
	}
	if s.Inner == nil {
		return fmt.Errorf("%w: schedule requires an inner action", ErrInvalidAction)
	}
	return s.Inner.validate(depth + 1)
}

func (s ScheduleAction) target(ctx *Context) string {
	if strings.TrimSpace(s.Scheduler) != "" {
		return s.Scheduler
	}
	return ctx.Scheduler
}

// TriggerSpec is the wire form of one scheduler trigger registration.
type TriggerSpec struct {
	Conditions []Condition     `json:"conditions"`
	Threshold  Threshold       `json:"threshold"`
	To         string          `json:"to"`
	Payload    json.RawMessage `json:"payload"`
	Rebate     types.Coins     `json:"rebate,omitempty"`
}

// SetTriggersPayload replaces the sender's registered triggers atomically.
// An empty list clears them.
type SetTriggersPayload struct {
	SetTriggers []TriggerSpec `json:"setTriggers"`
}

// ExecutePayload is the callback the scheduler sends back when a trigger
// fires.
type ExecutePayload struct {
	Execute struct {
		StrategyID uint64 `json:"strategyId"`
	} `json:"execute"`
}

func (s ScheduleAction) rearmEffect(ctx *Context, cadence Cadence) (types.Effect, string, error) {
	condition, err := cadence.IntoCondition(ctx)
	if err != nil {
		return types.Effect{}, "", err
	}
	var callback ExecutePayload
	callback.Execute.StrategyID = ctx.StrategyID
	callbackRaw, err := json.Marshal(callback)
	if err != nil {
		return types.Effect{}, "", err
	}
	payload, err := json.Marshal(SetTriggersPayload{SetTriggers: []TriggerSpec{{
		Conditions: []Condition{condition},
		Threshold:  ThresholdAll,
		To:         ctx.Env.Contract,
		Payload:    callbackRaw,
		Rebate:     s.Rebate,
	}}})
	if err != nil {
		return types.Effect{}, "", err
	}
	effect := types.Effect{Invoke: &types.InvokeEffect{Target: s.target(ctx), Payload: payload}}
	return effect, condition.Describe(), nil
}

// init registers the first trigger without executing the inner action or
// advancing the cadence phase.
func (s *ScheduleAction) init(ctx *Context) (Result, error) {
	inner, err := s.Inner.init(ctx)
	if err != nil {
		return Result{}, err
	}
	next := *s
	next.Inner = &inner.Action
	result := Result{Action: Action{Schedule: &next}}
	result.absorb(inner)

	effect, described, err := s.rearmEffect(ctx, s.Cadence)
	if err != nil {
		return Result{}, err
	}
	result.Effects = append(result.Effects, effect)
	result.Events = append(result.Events, events.SchedulingAttempted{
		StrategyID: ctx.StrategyID,
		Conditions: described,
	})
	return result, nil
}

// execute runs the inner action when the cadence is due, cranks the phase
// past now, and re-arms. When not due it is a no-op that leaves the phase
// untouched.
func (s *ScheduleAction) execute(ctx *Context) (Result, error) {
	due, err := s.Cadence.IsDue(ctx)
	if err != nil {
		return Result{}, err
	}
	if !due {
		return Result{Action: Action{Schedule: s}}, nil
	}

	inner, err := s.Inner.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	next := *s
	next.Inner = &inner.Action
	result := Result{}
	result.absorb(inner)

	// Re-arm failures are recoverable: the execution above stands, the
	// strategy just cannot schedule its next run and should pause.
	cranked, err := s.Cadence.Crank(ctx)
	if err != nil {
		result.Events = append(result.Events, events.SchedulingFailed{
			StrategyID: ctx.StrategyID,
			Reason:     err.Error(),
		})
		result.Action = Action{Schedule: &next}
		return result, nil
	}
	next.Cadence = cranked

	effect, described, err := s.rearmEffect(ctx, cranked)
	if err != nil {
		result.Events = append(result.Events, events.SchedulingFailed{
			StrategyID: ctx.StrategyID,
			Reason:     err.Error(),
		})
		result.Action = Action{Schedule: &next}
		return result, nil
	}
	result.Effects = append(result.Effects, effect)
	result.Events = append(result.Events, events.SchedulingAttempted{
		StrategyID: ctx.StrategyID,
		Conditions: described,
	})
	result.Action = Action{Schedule: &next}
	return result, nil
}

// cancel clears the scheduler registration and cancels the inner action.
func (s *ScheduleAction) cancel(ctx *Context) (Result, error) {
	inner, err := s.Inner.Cancel(ctx)
	if err != nil {
		return Result{}, err
	}
	next := *s
	next.Inner = &inner.Action
	result := Result{Action: Action{Schedule: &next}}
	result.absorb(inner)

	payload, err := json.Marshal(SetTriggersPayload{SetTriggers: []TriggerSpec{}})
	if err != nil {
		return Result{}, err
	}
	result.Effects = append(result.Effects, types.Effect{
		Invoke: &types.InvokeEffect{Target: s.target(ctx), Payload: payload},
	})
	return result, nil
}

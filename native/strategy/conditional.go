package strategy

import (
	"fmt"
	"strings"

	"calcchain/core/events"
)

// ConditionalAction gates its inner action behind a set of conditions under
// a threshold: All requires every condition to pass, Any requires at least
// one. An unmet threshold produces a skip event carrying every failing
// condition's reason and leaves the inner action untouched.
type ConditionalAction struct {
	Conditions []Condition `json:"conditions"`
	Threshold  Threshold   `json:"threshold"`
	Inner      *Action     `json:"inner"`
}

func (c ConditionalAction) validate(depth int) error {
	if len(c.Conditions) == 0 {
		return fmt.Errorf("%w: conditional requires conditions", ErrInvalidAction)
	}
	if err := c.Threshold.Validate(); err != nil {
		return err
	}
	for _, cond := range c.Conditions {
		if err := cond.Validate(); err != nil {
			return err
		}
	}
	if c.Inner == nil {
		return fmt.Errorf("%w: conditional requires an inner action", ErrInvalidAction)
	}
	return c.Inner.validate(depth + 1)
}

// met evaluates the threshold, returning the reasons of every unmet
// condition. Query failures abort.
func (c ConditionalAction) met(ctx *Context) (bool, []string, error) {
	var reasons []string
	passed := 0
	for _, cond := range c.Conditions {
		err := cond.Check(ctx)
		if err == nil {
			passed++
			continue
		}
		if !IsUnmet(err) {
			return false, nil, err
		}
		reasons = append(reasons, err.Error())
	}
	switch c.Threshold {
	case ThresholdAny:
		return passed > 0, reasons, nil
	default:
		return len(reasons) == 0, reasons, nil
	}
}

func (c *ConditionalAction) execute(ctx *Context) (Result, error) {
	ok, reasons, err := c.met(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{
			Action: Action{Conditional: c},
			Events: []events.Event{events.ExecutionSkipped{
				StrategyID: ctx.StrategyID,
				Reason:     strings.Join(reasons, "; "),
			}},
		}, nil
	}
	inner, err := c.Inner.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	next := *c
	next.Inner = &inner.Action
	result := Result{Action: Action{Conditional: &next}}
	result.absorb(inner)
	return result, nil
}

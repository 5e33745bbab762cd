package events

import (
	"encoding/json"
	"strconv"
	"strings"

	"calcchain/core/types"
)

const (
	// TypeStrategyCreated is emitted when a strategy finishes instantiation.
	TypeStrategyCreated = "strategy.created"
	// TypeStrategyUpdated is emitted when a strategy's action tree is replaced.
	TypeStrategyUpdated = "strategy.updated"
	// TypeStrategyExecuted is emitted after a successful execute pass.
	TypeStrategyExecuted = "strategy.executed"
	// TypeExecutionSkipped is emitted when a conditional gate is not met.
	TypeExecutionSkipped = "strategy.execution_skipped"
	// TypeExecutionFailed is emitted when an external call or child action fails.
	TypeExecutionFailed = "strategy.execution_failed"
	// TypeFundsWithdrawn is emitted when owner funds leave the strategy account.
	TypeFundsWithdrawn = "strategy.funds_withdrawn"
	// TypeFundsDistributed is emitted when a distribution pays its destinations.
	TypeFundsDistributed = "strategy.funds_distributed"
	// TypeSchedulingAttempted is emitted before a re-arm trigger is submitted.
	TypeSchedulingAttempted = "strategy.scheduling_attempted"
	// TypeSchedulingFailed is emitted when a re-arm trigger cannot be placed.
	TypeSchedulingFailed = "strategy.scheduling_failed"
	// TypeTriggerExecuted is emitted when the scheduler fires a trigger.
	TypeTriggerExecuted = "scheduler.trigger_executed"
)

// StrategyCreated records the initial configuration of a strategy.
type StrategyCreated struct {
	StrategyID uint64
	Owner      string
	Label      string
}

func (StrategyCreated) EventType() string { return TypeStrategyCreated }

// Event renders the typed payload into a generic attribute map.
func (e StrategyCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyCreated,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"owner":      strings.TrimSpace(e.Owner),
			"label":      strings.TrimSpace(e.Label),
		},
	}
}

// StrategyUpdated records a config replacement.
type StrategyUpdated struct {
	StrategyID uint64
	Owner      string
}

func (StrategyUpdated) EventType() string { return TypeStrategyUpdated }

func (e StrategyUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyUpdated,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"owner":      strings.TrimSpace(e.Owner),
		},
	}
}

// StrategyExecuted records a completed execute pass.
type StrategyExecuted struct {
	StrategyID uint64
	Effects    int
}

func (StrategyExecuted) EventType() string { return TypeStrategyExecuted }

func (e StrategyExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyExecuted,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"effects":    strconv.Itoa(e.Effects),
		},
	}
}

// ExecutionSkipped carries the aggregated reasons a conditional gate failed.
// The reason text is surfaced verbatim from the condition evaluator.
type ExecutionSkipped struct {
	StrategyID uint64
	Reason     string
}

func (ExecutionSkipped) EventType() string { return TypeExecutionSkipped }

func (e ExecutionSkipped) Event() *types.Event {
	return &types.Event{
		Type: TypeExecutionSkipped,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"reason":     e.Reason,
		},
	}
}

// ExecutionFailed records an external call failure surfaced by an action.
type ExecutionFailed struct {
	StrategyID uint64
	Reason     string
}

func (ExecutionFailed) EventType() string { return TypeExecutionFailed }

func (e ExecutionFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeExecutionFailed,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"reason":     e.Reason,
		},
	}
}

// FundsWithdrawn records coins returned to the strategy owner.
type FundsWithdrawn struct {
	StrategyID uint64
	To         string
	Funds      types.Coins
}

func (FundsWithdrawn) EventType() string { return TypeFundsWithdrawn }

func (e FundsWithdrawn) Event() *types.Event {
	funds, err := json.Marshal(e.Funds)
	if err != nil {
		funds = []byte("[]")
	}
	return &types.Event{
		Type: TypeFundsWithdrawn,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"to":         strings.TrimSpace(e.To),
			"funds":      string(funds),
		},
	}
}

// FundsDistributed records a completed payout of one distribution pass.
type FundsDistributed struct {
	StrategyID uint64
	Payouts    string
}

func (FundsDistributed) EventType() string { return TypeFundsDistributed }

func (e FundsDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsDistributed,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"payouts":    e.Payouts,
		},
	}
}

// SchedulingAttempted records the condition set submitted for a re-arm.
type SchedulingAttempted struct {
	StrategyID uint64
	Conditions string
}

func (SchedulingAttempted) EventType() string { return TypeSchedulingAttempted }

func (e SchedulingAttempted) Event() *types.Event {
	return &types.Event{
		Type: TypeSchedulingAttempted,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"conditions": e.Conditions,
		},
	}
}

// SchedulingFailed records a re-arm trigger that could not be placed. The
// owning strategy auto-pauses when it sees this.
type SchedulingFailed struct {
	StrategyID uint64
	Reason     string
}

func (SchedulingFailed) EventType() string { return TypeSchedulingFailed }

func (e SchedulingFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeSchedulingFailed,
		Attributes: map[string]string{
			"strategyId": strconv.FormatUint(e.StrategyID, 10),
			"reason":     e.Reason,
		},
	}
}

// TriggerExecuted records a scheduler trigger firing its callback.
type TriggerExecuted struct {
	TriggerID uint64
	Target    string
}

func (TriggerExecuted) EventType() string { return TypeTriggerExecuted }

func (e TriggerExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeTriggerExecuted,
		Attributes: map[string]string{
			"triggerId": strconv.FormatUint(e.TriggerID, 10),
			"target":    strings.TrimSpace(e.Target),
		},
	}
}

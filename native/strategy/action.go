package strategy

import (
	"encoding/json"
	"fmt"

	"calcchain/core/events"
	"calcchain/core/types"
)

const (
	// maxActionDepth bounds tree recursion, validated at init time.
	maxActionDepth = 10
	// maxActionSize bounds the weighted node count of one tree.
	maxActionSize = 40
)

// CallbackKind tags a pending-callback table entry with the continuation it
// resolves.
type CallbackKind string

const (
	CallbackSwap  CallbackKind = "swap"
	CallbackOrder CallbackKind = "order"
)

// PendingCallback is one entry of the pending-operation table: the envelope
// id of a deferred effect and the continuation that handles its resolution.
type PendingCallback struct {
	ID   uint64          `json:"id"`
	Kind CallbackKind    `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Result is the outcome of one interpreter operation: the rewritten action
// tree plus the deferred effects, events, and pending continuations the
// operation produced. The input tree is never mutated.
type Result struct {
	Action  Action
	Effects []types.Effect
	Events  []events.Event
	Pending []PendingCallback
}

func (r *Result) absorb(child Result) {
	r.Effects = append(r.Effects, child.Effects...)
	r.Events = append(r.Events, child.Events...)
	r.Pending = append(r.Pending, child.Pending...)
}

// Action is a composable operation tree. Exactly one variant field is set;
// every interpreter operation is a functional rewrite returning a new tree.
type Action struct {
	Swap        *SwapAction        `json:"swap,omitempty"`
	LimitOrder  *LimitOrderAction  `json:"limitOrder,omitempty"`
	Schedule    *ScheduleAction    `json:"schedule,omitempty"`
	Conditional *ConditionalAction `json:"conditional,omitempty"`
	Many        []Action           `json:"many,omitempty"`
}

// Validate checks variant exclusivity and the depth and size bounds.
func (a Action) Validate() error {
	if err := a.validate(1); err != nil {
		return err
	}
	if size := a.Size(); size > maxActionSize {
		return fmt.Errorf("%w: size %d exceeds %d", ErrTreeTooLarge, size, maxActionSize)
	}
	return nil
}

func (a Action) validate(depth int) error {
	if depth > maxActionDepth {
		return fmt.Errorf("%w: depth exceeds %d", ErrTreeTooDeep, maxActionDepth)
	}
	set := 0
	if a.Swap != nil {
		set++
		if err := a.Swap.Validate(); err != nil {
			return err
		}
	}
	if a.LimitOrder != nil {
		set++
		if err := a.LimitOrder.Validate(); err != nil {
			return err
		}
	}
	if a.Schedule != nil {
		set++
		if err := a.Schedule.validate(depth); err != nil {
			return err
		}
	}
	if a.Conditional != nil {
		set++
		if err := a.Conditional.validate(depth); err != nil {
			return err
		}
	}
	if a.Many != nil {
		set++
		if len(a.Many) == 0 {
			return fmt.Errorf("%w: empty composition", ErrInvalidAction)
		}
		for _, child := range a.Many {
			if err := child.validate(depth + 1); err != nil {
				return err
			}
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one variant must be set, got %d", ErrInvalidAction, set)
	}
	return nil
}

// Size is the weighted node count: leaves weigh one, composites add one to
// their children's total, and conditionals also count their condition trees.
func (a Action) Size() int {
	switch {
	case a.Schedule != nil:
		return 1 + a.Schedule.Inner.Size()
	case a.Conditional != nil:
		total := 1 + a.Conditional.Inner.Size()
		for _, cond := range a.Conditional.Conditions {
			total += cond.Size()
		}
		return total
	case a.Many != nil:
		total := 1
		for _, child := range a.Many {
			total += child.Size()
		}
		return total
	default:
		return 1
	}
}

// Init validates the tree and arms anything that needs a first trigger, such
// as schedule nodes registering with the external scheduler.
func (a Action) Init(ctx *Context) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, err
	}
	return a.init(ctx)
}

func (a Action) init(ctx *Context) (Result, error) {
	switch {
	case a.Swap != nil, a.LimitOrder != nil:
		return Result{Action: a}, nil
	case a.Schedule != nil:
		return a.Schedule.init(ctx)
	case a.Conditional != nil:
		inner, err := a.Conditional.Inner.init(ctx)
		if err != nil {
			return Result{}, err
		}
		next := *a.Conditional
		next.Inner = &inner.Action
		result := Result{Action: Action{Conditional: &next}}
		result.absorb(inner)
		return result, nil
	case a.Many != nil:
		return a.rewriteChildren(ctx, func(child Action, ctx *Context) (Result, error) {
			return child.init(ctx)
		})
	default:
		return Result{}, ErrInvalidAction
	}
}

// Execute runs one pass over the tree, gating on conditions and cadences and
// accumulating the deferred effects of every leaf that fires.
func (a Action) Execute(ctx *Context) (Result, error) {
	switch {
	case a.Swap != nil:
		return a.Swap.execute(ctx)
	case a.LimitOrder != nil:
		return a.LimitOrder.execute(ctx)
	case a.Schedule != nil:
		return a.Schedule.execute(ctx)
	case a.Conditional != nil:
		return a.Conditional.execute(ctx)
	case a.Many != nil:
		return a.rewriteChildren(ctx, func(child Action, ctx *Context) (Result, error) {
			return child.Execute(ctx)
		})
	default:
		return Result{}, ErrInvalidAction
	}
}

// Withdraw reclaims funds held outside the strategy account for the desired
// denoms, such as resting limit orders. Bank-held funds are the engine's
// concern.
func (a Action) Withdraw(ctx *Context, desired map[string]struct{}) (Result, error) {
	switch {
	case a.Swap != nil:
		return Result{Action: a}, nil
	case a.LimitOrder != nil:
		return a.LimitOrder.withdraw(ctx, desired)
	case a.Schedule != nil:
		inner, err := a.Schedule.Inner.Withdraw(ctx, desired)
		if err != nil {
			return Result{}, err
		}
		next := *a.Schedule
		next.Inner = &inner.Action
		result := Result{Action: Action{Schedule: &next}}
		result.absorb(inner)
		return result, nil
	case a.Conditional != nil:
		inner, err := a.Conditional.Inner.Withdraw(ctx, desired)
		if err != nil {
			return Result{}, err
		}
		next := *a.Conditional
		next.Inner = &inner.Action
		result := Result{Action: Action{Conditional: &next}}
		result.absorb(inner)
		return result, nil
	case a.Many != nil:
		return a.rewriteChildren(ctx, func(child Action, ctx *Context) (Result, error) {
			return child.Withdraw(ctx, desired)
		})
	default:
		return Result{}, ErrInvalidAction
	}
}

// Cancel tears the tree down: resting orders are retracted and scheduler
// registrations cleared. The returned tree reflects the cancelled state.
func (a Action) Cancel(ctx *Context) (Result, error) {
	switch {
	case a.Swap != nil:
		return Result{Action: a}, nil
	case a.LimitOrder != nil:
		return a.LimitOrder.cancel(ctx)
	case a.Schedule != nil:
		return a.Schedule.cancel(ctx)
	case a.Conditional != nil:
		inner, err := a.Conditional.Inner.Cancel(ctx)
		if err != nil {
			return Result{}, err
		}
		next := *a.Conditional
		next.Inner = &inner.Action
		result := Result{Action: Action{Conditional: &next}}
		result.absorb(inner)
		return result, nil
	case a.Many != nil:
		return a.rewriteChildren(ctx, func(child Action, ctx *Context) (Result, error) {
			return child.Cancel(ctx)
		})
	default:
		return Result{}, ErrInvalidAction
	}
}

// rewriteChildren applies op to every child of a Many node in order,
// threading rewritten children back into the returned tree.
func (a Action) rewriteChildren(ctx *Context, op func(Action, *Context) (Result, error)) (Result, error) {
	children := make([]Action, 0, len(a.Many))
	result := Result{}
	for _, child := range a.Many {
		childResult, err := op(child, ctx)
		if err != nil {
			return Result{}, err
		}
		children = append(children, childResult.Action)
		result.absorb(childResult)
	}
	result.Action = Action{Many: children}
	return result, nil
}

// Escrowed returns every denomination the tree needs held in reserve. It is
// deliberately conservative: a swap reserves both sides for the lifetime of
// the action so an in-flight callback can never reference an unreserved
// denom.
func (a Action) Escrowed() map[string]struct{} {
	out := make(map[string]struct{})
	a.escrowed(out)
	return out
}

func (a Action) escrowed(into map[string]struct{}) {
	switch {
	case a.Swap != nil:
		into[a.Swap.SwapAmount.Denom] = struct{}{}
		into[a.Swap.MinReceive.Denom] = struct{}{}
	case a.LimitOrder != nil:
		into[a.LimitOrder.BidDenom] = struct{}{}
		if a.LimitOrder.CurrentPrice != nil {
			into[a.LimitOrder.AskDenom] = struct{}{}
		}
	case a.Schedule != nil:
		a.Schedule.Inner.escrowed(into)
	case a.Conditional != nil:
		a.Conditional.Inner.escrowed(into)
	case a.Many != nil:
		for _, child := range a.Many {
			child.escrowed(into)
		}
	}
}

// Balances sums the funds the tree controls, restricted to denoms: the
// strategy account's balance for swap leaves, and remaining plus filled
// amounts for resting orders.
func (a Action) Balances(ctx *Context, denoms map[string]struct{}) (types.Coins, error) {
	switch {
	case a.Swap != nil:
		return a.Swap.balances(ctx, denoms)
	case a.LimitOrder != nil:
		return a.LimitOrder.balances(ctx, denoms)
	case a.Schedule != nil:
		return a.Schedule.Inner.Balances(ctx, denoms)
	case a.Conditional != nil:
		return a.Conditional.Inner.Balances(ctx, denoms)
	case a.Many != nil:
		total := types.Coins{}
		for _, child := range a.Many {
			coins, err := child.Balances(ctx, denoms)
			if err != nil {
				return types.Coins{}, err
			}
			for _, coin := range coins.Slice() {
				if err := total.Add(coin); err != nil {
					return types.Coins{}, err
				}
			}
		}
		return total, nil
	default:
		return types.Coins{}, ErrInvalidAction
	}
}

// Denoms returns every denomination the tree references at all.
func (a Action) Denoms() map[string]struct{} {
	out := make(map[string]struct{})
	a.denoms(out)
	return out
}

func (a Action) denoms(into map[string]struct{}) {
	switch {
	case a.Swap != nil:
		into[a.Swap.SwapAmount.Denom] = struct{}{}
		into[a.Swap.MinReceive.Denom] = struct{}{}
	case a.LimitOrder != nil:
		into[a.LimitOrder.BidDenom] = struct{}{}
		into[a.LimitOrder.AskDenom] = struct{}{}
	case a.Schedule != nil:
		a.Schedule.Inner.denoms(into)
	case a.Conditional != nil:
		a.Conditional.Inner.denoms(into)
	case a.Many != nil:
		for _, child := range a.Many {
			child.denoms(into)
		}
	}
}

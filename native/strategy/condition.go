package strategy

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

// Threshold is the boundary applied to a set of sub-conditions.
type Threshold string

const (
	ThresholdAll Threshold = "all"
	ThresholdAny Threshold = "any"
)

func (t Threshold) Validate() error {
	switch t {
	case ThresholdAll, ThresholdAny:
		return nil
	default:
		return fmt.Errorf("%w: unknown threshold %q", ErrInvalidCondition, string(t))
	}
}

// Direction orients a price comparison.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// maxConditionSize bounds the weighted node count of one condition tree.
const maxConditionSize = 20

// Condition is a pure predicate over a world snapshot. Exactly one variant
// field is set; Check never mutates anything.
type Condition struct {
	TimestampElapsed         *TimestampElapsedCondition `json:"timestampElapsed,omitempty"`
	BlocksCompleted          *BlocksCompletedCondition  `json:"blocksCompleted,omitempty"`
	ScheduleIsDue            *ScheduleIsDueCondition    `json:"scheduleIsDue,omitempty"`
	CanSwap                  *CanSwapCondition          `json:"canSwap,omitempty"`
	LimitOrderFilled         *LimitOrderFilledCondition `json:"limitOrderFilled,omitempty"`
	BalanceAvailable         *BalanceAvailableCondition `json:"balanceAvailable,omitempty"`
	StrategyBalanceAvailable *StrategyBalanceCondition  `json:"strategyBalanceAvailable,omitempty"`
	StrategyStatus           *StrategyStatusCondition   `json:"strategyStatus,omitempty"`
	OraclePrice              *OraclePriceCondition      `json:"oraclePrice,omitempty"`
	Not                      *Condition                 `json:"not,omitempty"`
	Composite                *CompositeCondition        `json:"composite,omitempty"`
}

// TimestampElapsedCondition passes once the snapshot time reaches Timestamp.
type TimestampElapsedCondition struct {
	Timestamp time.Time `json:"timestamp"`
}

// BlocksCompletedCondition passes once the snapshot height reaches Height.
type BlocksCompletedCondition struct {
	Height uint64 `json:"height"`
}

// ScheduleIsDueCondition passes when the wrapped cadence reports due.
type ScheduleIsDueCondition struct {
	Cadence Cadence `json:"cadence"`
}

// CanSwapCondition passes when the router can fill the swap within bounds.
type CanSwapCondition struct {
	SwapAmount     types.Coin `json:"swapAmount"`
	MinReceive     types.Coin `json:"minReceive"`
	MaxSlippageBps uint64     `json:"maxSlippageBps"`
}

// LimitOrderFilledCondition passes when the resting order has no remaining
// size. MinFilled, when set, additionally requires that much filled volume.
type LimitOrderFilledCondition struct {
	Venue     string          `json:"venue"`
	Owner     string          `json:"owner"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	MinFilled *big.Int        `json:"minFilled,omitempty"`
}

// BalanceAvailableCondition passes when an address holds at least Amount.
// A zero amount is always satisfiable.
type BalanceAvailableCondition struct {
	Address string     `json:"address"`
	Amount  types.Coin `json:"amount"`
}

// StrategyBalanceCondition is BalanceAvailable against the invoking
// strategy's own account.
type StrategyBalanceCondition struct {
	Amount types.Coin `json:"amount"`
}

// StrategyStatusCondition passes when the registry reports exactly Status.
type StrategyStatusCondition struct {
	StrategyID uint64 `json:"strategyId"`
	Status     Status `json:"status"`
}

// OraclePriceCondition compares the oracle price for Asset against Price.
type OraclePriceCondition struct {
	Asset     string          `json:"asset"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
}

// CompositeCondition combines sub-conditions under a threshold.
type CompositeCondition struct {
	Conditions []Condition `json:"conditions"`
	Threshold  Threshold   `json:"threshold"`
}

// Validate checks that exactly one variant is set and that nested trees stay
// within the size bound.
func (c Condition) Validate() error {
	set := 0
	if c.TimestampElapsed != nil {
		set++
	}
	if c.BlocksCompleted != nil {
		set++
	}
	if c.ScheduleIsDue != nil {
		set++
		if err := c.ScheduleIsDue.Cadence.Validate(); err != nil {
			return err
		}
	}
	if c.CanSwap != nil {
		set++
		if err := c.CanSwap.SwapAmount.Validate(); err != nil {
			return err
		}
		if err := c.CanSwap.MinReceive.Validate(); err != nil {
			return err
		}
	}
	if c.LimitOrderFilled != nil {
		set++
		if err := c.LimitOrderFilled.Side.Validate(); err != nil {
			return err
		}
	}
	if c.BalanceAvailable != nil {
		set++
		if strings.TrimSpace(c.BalanceAvailable.Address) == "" {
			return fmt.Errorf("%w: balance condition requires an address", ErrInvalidCondition)
		}
		if err := c.BalanceAvailable.Amount.Validate(); err != nil {
			return err
		}
	}
	if c.StrategyBalanceAvailable != nil {
		set++
		if err := c.StrategyBalanceAvailable.Amount.Validate(); err != nil {
			return err
		}
	}
	if c.StrategyStatus != nil {
		set++
		if err := c.StrategyStatus.Status.Validate(); err != nil {
			return err
		}
	}
	if c.OraclePrice != nil {
		set++
		switch c.OraclePrice.Direction {
		case DirectionAbove, DirectionBelow:
		default:
			return fmt.Errorf("%w: unknown direction %q", ErrInvalidCondition, string(c.OraclePrice.Direction))
		}
	}
	if c.Not != nil {
		set++
		if err := c.Not.Validate(); err != nil {
			return err
		}
	}
	if c.Composite != nil {
		set++
		if err := c.Composite.Threshold.Validate(); err != nil {
			return err
		}
		if len(c.Composite.Conditions) == 0 {
			return fmt.Errorf("%w: composite requires sub-conditions", ErrInvalidCondition)
		}
		for _, sub := range c.Composite.Conditions {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one variant must be set, got %d", ErrInvalidCondition, set)
	}
	if c.Size() > maxConditionSize {
		return fmt.Errorf("%w: size %d exceeds %d", ErrInvalidCondition, c.Size(), maxConditionSize)
	}
	return nil
}

// Size is the weighted node count of the condition tree. Leaves weigh one,
// Not and Composite add one to their children's total.
func (c Condition) Size() int {
	switch {
	case c.Not != nil:
		return 1 + c.Not.Size()
	case c.Composite != nil:
		total := 1
		for _, sub := range c.Composite.Conditions {
			total += sub.Size()
		}
		return total
	default:
		return 1
	}
}

// Check evaluates the condition against the context. A nil return means the
// condition is met; an unmet return (IsUnmet) carries the reason verbatim;
// any other error is a query failure.
func (c Condition) Check(ctx *Context) error {
	switch {
	case c.TimestampElapsed != nil:
		if !ctx.Env.Time.Before(c.TimestampElapsed.Timestamp) {
			return nil
		}
		return Unmetf("timestamp %d has not elapsed (current %d)",
			c.TimestampElapsed.Timestamp.Unix(), ctx.Env.Time.Unix())
	case c.BlocksCompleted != nil:
		if ctx.Env.Height >= c.BlocksCompleted.Height {
			return nil
		}
		return Unmetf("current height %d is less than required height %d",
			ctx.Env.Height, c.BlocksCompleted.Height)
	case c.ScheduleIsDue != nil:
		due, err := c.ScheduleIsDue.Cadence.IsDue(ctx)
		if err != nil {
			return err
		}
		if due {
			return nil
		}
		return Unmetf("schedule is not due: %s", c.ScheduleIsDue.Cadence.Describe())
	case c.CanSwap != nil:
		return c.CanSwap.check(ctx)
	case c.LimitOrderFilled != nil:
		return c.LimitOrderFilled.check(ctx)
	case c.BalanceAvailable != nil:
		return checkBalance(ctx, c.BalanceAvailable.Address, c.BalanceAvailable.Amount)
	case c.StrategyBalanceAvailable != nil:
		return checkBalance(ctx, ctx.Env.Contract, c.StrategyBalanceAvailable.Amount)
	case c.StrategyStatus != nil:
		status, err := ctx.Status.StrategyStatus(c.StrategyStatus.StrategyID)
		if err != nil {
			return err
		}
		if status == c.StrategyStatus.Status {
			return nil
		}
		return Unmetf("strategy %d status is %s, expected %s",
			c.StrategyStatus.StrategyID, status, c.StrategyStatus.Status)
	case c.OraclePrice != nil:
		return c.OraclePrice.check(ctx)
	case c.Not != nil:
		err := c.Not.Check(ctx)
		if err == nil {
			return Unmetf("condition unexpectedly met: %s", c.Not.Describe())
		}
		if IsUnmet(err) {
			return nil
		}
		return err
	case c.Composite != nil:
		return c.Composite.check(ctx)
	default:
		return ErrInvalidCondition
	}
}

func (c CanSwapCondition) check(ctx *Context) error {
	quote, err := ctx.Router.ExpectedReceiveAmount(c.SwapAmount, c.MinReceive)
	if err != nil {
		// A routing failure means the swap cannot happen right now, which is
		// an unmet condition rather than an invocation abort.
		return Unmetf("swap is not possible: %v", err)
	}
	if quote.ReceiveAmount.Amount.Cmp(c.MinReceive.Amount) < 0 {
		return Unmetf("expected receive %s is below minimum %s", quote.ReceiveAmount, c.MinReceive)
	}
	if quote.SlippageBps > c.MaxSlippageBps {
		return Unmetf("slippage %d bps exceeds maximum %d bps", quote.SlippageBps, c.MaxSlippageBps)
	}
	return nil
}

func (c LimitOrderFilledCondition) check(ctx *Context) error {
	order, err := ctx.Orders.Order(c.Venue, c.Owner, c.Side, c.Price)
	if err != nil {
		return err
	}
	if order.Remaining != nil && order.Remaining.Sign() > 0 {
		return Unmetf("order at %s has %s remaining", c.Price, order.Remaining)
	}
	if c.MinFilled != nil {
		filled := order.Filled
		if filled == nil {
			filled = big.NewInt(0)
		}
		if filled.Cmp(c.MinFilled) < 0 {
			return Unmetf("order filled %s is below required %s", filled, c.MinFilled)
		}
	}
	return nil
}

func checkBalance(ctx *Context, address string, amount types.Coin) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := ctx.Bank.Balance(address, amount.Denom)
	if err != nil {
		return err
	}
	held := big.NewInt(0)
	if balance.Amount != nil {
		held = balance.Amount
	}
	if held.Cmp(amount.Amount) >= 0 {
		return nil
	}
	return Unmetf("balance of %s is %s%s, below required %s", address, held, amount.Denom, amount)
}

func (c OraclePriceCondition) check(ctx *Context) error {
	price, err := ctx.Oracle.Price(c.Asset)
	if err != nil {
		return err
	}
	switch c.Direction {
	case DirectionAbove:
		if price.GreaterThan(c.Price) {
			return nil
		}
	case DirectionBelow:
		if price.LessThan(c.Price) {
			return nil
		}
	}
	return Unmetf("oracle price of %s is %s, not %s %s", c.Asset, price, c.Direction, c.Price)
}

func (c CompositeCondition) check(ctx *Context) error {
	switch c.Threshold {
	case ThresholdAll:
		for _, sub := range c.Conditions {
			if err := sub.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	case ThresholdAny:
		var reasons []string
		for _, sub := range c.Conditions {
			err := sub.Check(ctx)
			if err == nil {
				return nil
			}
			if !IsUnmet(err) {
				return err
			}
			reasons = append(reasons, err.Error())
		}
		return Unmetf("%s", strings.Join(reasons, "; "))
	default:
		return fmt.Errorf("%w: unknown threshold %q", ErrInvalidCondition, string(c.Threshold))
	}
}

// Describe renders the condition for reasons and scheduling events.
func (c Condition) Describe() string {
	switch {
	case c.TimestampElapsed != nil:
		return fmt.Sprintf("timestamp %d elapsed", c.TimestampElapsed.Timestamp.Unix())
	case c.BlocksCompleted != nil:
		return fmt.Sprintf("height %d completed", c.BlocksCompleted.Height)
	case c.ScheduleIsDue != nil:
		return fmt.Sprintf("schedule due: %s", c.ScheduleIsDue.Cadence.Describe())
	case c.CanSwap != nil:
		return fmt.Sprintf("can swap %s for at least %s within %d bps",
			c.CanSwap.SwapAmount, c.CanSwap.MinReceive, c.CanSwap.MaxSlippageBps)
	case c.LimitOrderFilled != nil:
		return fmt.Sprintf("order at %s on %s filled", c.LimitOrderFilled.Price, c.LimitOrderFilled.Venue)
	case c.BalanceAvailable != nil:
		return fmt.Sprintf("balance of %s at least %s", c.BalanceAvailable.Address, c.BalanceAvailable.Amount)
	case c.StrategyBalanceAvailable != nil:
		return fmt.Sprintf("strategy balance at least %s", c.StrategyBalanceAvailable.Amount)
	case c.StrategyStatus != nil:
		return fmt.Sprintf("strategy %d status is %s", c.StrategyStatus.StrategyID, c.StrategyStatus.Status)
	case c.OraclePrice != nil:
		return fmt.Sprintf("oracle price of %s %s %s", c.OraclePrice.Asset, c.OraclePrice.Direction, c.OraclePrice.Price)
	case c.Not != nil:
		return fmt.Sprintf("not (%s)", c.Not.Describe())
	case c.Composite != nil:
		parts := make([]string, 0, len(c.Composite.Conditions))
		for _, sub := range c.Composite.Conditions {
			parts = append(parts, sub.Describe())
		}
		return fmt.Sprintf("%s of (%s)", c.Composite.Threshold, strings.Join(parts, ", "))
	default:
		return "invalid condition"
	}
}

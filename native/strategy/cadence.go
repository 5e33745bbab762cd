package strategy

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// cronParser accepts standard five-field expressions with an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Cadence is a recurring trigger definition with phase memory. Previous
// records the last scheduled occurrence; a nil Previous means the cadence has
// never fired. Exactly one variant field is set.
type Cadence struct {
	Blocks     *BlocksCadence     `json:"blocks,omitempty"`
	Time       *TimeCadence       `json:"time,omitempty"`
	Cron       *CronCadence       `json:"cron,omitempty"`
	LimitOrder *LimitOrderCadence `json:"limitOrder,omitempty"`
}

// BlocksCadence fires every Interval blocks.
type BlocksCadence struct {
	Interval uint64  `json:"interval"`
	Previous *uint64 `json:"previous,omitempty"`
}

// TimeCadence fires every Seconds seconds. Scheduling is second-granular.
type TimeCadence struct {
	Seconds  uint64     `json:"seconds"`
	Previous *time.Time `json:"previous,omitempty"`
}

// CronCadence fires on a cron expression.
type CronCadence struct {
	Expr     string     `json:"expr"`
	Previous *time.Time `json:"previous,omitempty"`
}

// LimitOrderCadence fires when the resting order placed at the previously
// derived price has filled, or when the derived price has drifted past the
// strategy's tolerance. Previous is the price of the last placed order.
type LimitOrderCadence struct {
	Venue    string           `json:"venue"`
	BidDenom string           `json:"bidDenom"`
	AskDenom string           `json:"askDenom"`
	Side     Side             `json:"side"`
	Strategy PriceStrategy    `json:"strategy"`
	Previous *decimal.Decimal `json:"previous,omitempty"`
}

// Validate checks that exactly one variant is set and that it is well formed.
func (c Cadence) Validate() error {
	set := 0
	if c.Blocks != nil {
		set++
		if c.Blocks.Interval == 0 {
			return fmt.Errorf("%w: block interval must be positive", ErrInvalidCadence)
		}
	}
	if c.Time != nil {
		set++
		if c.Time.Seconds == 0 {
			return fmt.Errorf("%w: time interval must be positive", ErrInvalidCadence)
		}
	}
	if c.Cron != nil {
		set++
		if _, err := cronParser.Parse(c.Cron.Expr); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", ErrInvalidCadence, c.Cron.Expr, err)
		}
	}
	if c.LimitOrder != nil {
		set++
		if err := c.LimitOrder.Side.Validate(); err != nil {
			return err
		}
		if err := c.LimitOrder.Strategy.Validate(); err != nil {
			return err
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one variant must be set, got %d", ErrInvalidCadence, set)
	}
	return nil
}

// IsDue reports whether the cadence should fire at the context's snapshot.
// A never-fired interval cadence is immediately due; a never-fired limit
// order cadence is not, since there is no resting order to observe yet.
func (c Cadence) IsDue(ctx *Context) (bool, error) {
	switch {
	case c.Blocks != nil:
		if c.Blocks.Previous == nil {
			return true, nil
		}
		return ctx.Env.Height >= *c.Blocks.Previous+c.Blocks.Interval, nil
	case c.Time != nil:
		if c.Time.Previous == nil {
			return true, nil
		}
		return ctx.Env.Time.Unix() >= c.Time.Previous.Unix()+int64(c.Time.Seconds), nil
	case c.Cron != nil:
		if c.Cron.Previous == nil {
			return true, nil
		}
		sched, err := cronParser.Parse(c.Cron.Expr)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidCadence, err)
		}
		return !ctx.Env.Time.Before(sched.Next(*c.Cron.Previous)), nil
	case c.LimitOrder != nil:
		return c.LimitOrder.isDue(ctx)
	default:
		return false, ErrInvalidCadence
	}
}

func (c LimitOrderCadence) isDue(ctx *Context) (bool, error) {
	if c.Previous == nil {
		return false, nil
	}
	order, err := ctx.Orders.Order(c.Venue, ctx.Env.Contract, c.Side, *c.Previous)
	if err != nil {
		return false, err
	}
	if order.Remaining == nil || order.Remaining.Sign() == 0 {
		return true, nil
	}
	tolerance := c.Strategy.tolerance()
	if tolerance == nil {
		return false, nil
	}
	current, err := c.Strategy.derivePrice(ctx, c.BidDenom, c.AskDenom)
	if err != nil {
		return false, err
	}
	return current.Sub(*c.Previous).Abs().GreaterThan(*tolerance), nil
}

// nextHeight computes the next firing height at or after now, preserving
// phase. Missed periods snap forward by whole intervals rather than
// resetting the phase to now.
func (c BlocksCadence) nextHeight(now uint64) uint64 {
	if c.Previous == nil {
		return now
	}
	target := *c.Previous + c.Interval
	if target > now {
		return target
	}
	r := (now - *c.Previous) % c.Interval
	if r == 0 {
		return now + c.Interval
	}
	return now + c.Interval - r
}

// nextTime is nextHeight on unix seconds.
func (c TimeCadence) nextTime(now time.Time) time.Time {
	if c.Previous == nil {
		return now
	}
	prev := c.Previous.Unix()
	interval := int64(c.Seconds)
	target := prev + interval
	if target > now.Unix() {
		return time.Unix(target, 0).UTC()
	}
	r := (now.Unix() - prev) % interval
	if r == 0 {
		return time.Unix(now.Unix()+interval, 0).UTC()
	}
	return time.Unix(now.Unix()+interval-r, 0).UTC()
}

// Crank advances the phase memory past the context's snapshot and returns
// the updated cadence. The receiver is never mutated.
func (c Cadence) Crank(ctx *Context) (Cadence, error) {
	switch {
	case c.Blocks != nil:
		previous := ctx.Env.Height
		if c.Blocks.Previous != nil {
			previous = c.Blocks.nextHeight(ctx.Env.Height) - c.Blocks.Interval
		}
		return Cadence{Blocks: &BlocksCadence{Interval: c.Blocks.Interval, Previous: &previous}}, nil
	case c.Time != nil:
		var previous time.Time
		if c.Time.Previous != nil {
			previous = c.Time.nextTime(ctx.Env.Time).Add(-time.Duration(c.Time.Seconds) * time.Second)
		} else {
			previous = ctx.Env.Time.UTC()
		}
		return Cadence{Time: &TimeCadence{Seconds: c.Time.Seconds, Previous: &previous}}, nil
	case c.Cron != nil:
		previous := ctx.Env.Time.UTC()
		return Cadence{Cron: &CronCadence{Expr: c.Cron.Expr, Previous: &previous}}, nil
	case c.LimitOrder != nil:
		price, err := c.LimitOrder.Strategy.derivePrice(ctx, c.LimitOrder.BidDenom, c.LimitOrder.AskDenom)
		if err != nil {
			return Cadence{}, err
		}
		next := *c.LimitOrder
		next.Previous = &price
		return Cadence{LimitOrder: &next}, nil
	default:
		return Cadence{}, ErrInvalidCadence
	}
}

// IntoCondition maps the cadence onto the primitive condition an external
// scheduler can watch for its next occurrence.
func (c Cadence) IntoCondition(ctx *Context) (Condition, error) {
	switch {
	case c.Blocks != nil:
		height := ctx.Env.Height
		if c.Blocks.Previous != nil {
			height = *c.Blocks.Previous + c.Blocks.Interval
		}
		return Condition{BlocksCompleted: &BlocksCompletedCondition{Height: height}}, nil
	case c.Time != nil:
		ts := ctx.Env.Time.UTC()
		if c.Time.Previous != nil {
			ts = time.Unix(c.Time.Previous.Unix()+int64(c.Time.Seconds), 0).UTC()
		}
		return Condition{TimestampElapsed: &TimestampElapsedCondition{Timestamp: ts}}, nil
	case c.Cron != nil:
		sched, err := cronParser.Parse(c.Cron.Expr)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %v", ErrInvalidCadence, err)
		}
		from := ctx.Env.Time
		if c.Cron.Previous != nil {
			from = *c.Cron.Previous
		}
		return Condition{TimestampElapsed: &TimestampElapsedCondition{Timestamp: sched.Next(from).UTC()}}, nil
	case c.LimitOrder != nil:
		price := decimal.Zero
		if c.LimitOrder.Previous != nil {
			price = *c.LimitOrder.Previous
		} else {
			derived, err := c.LimitOrder.Strategy.derivePrice(ctx, c.LimitOrder.BidDenom, c.LimitOrder.AskDenom)
			if err != nil {
				return Condition{}, err
			}
			price = derived
		}
		return Condition{LimitOrderFilled: &LimitOrderFilledCondition{
			Venue: c.LimitOrder.Venue,
			Owner: ctx.Env.Contract,
			Side:  c.LimitOrder.Side,
			Price: price,
		}}, nil
	default:
		return Condition{}, ErrInvalidCadence
	}
}

// Describe renders the cadence for reasons and events.
func (c Cadence) Describe() string {
	switch {
	case c.Blocks != nil:
		return fmt.Sprintf("every %d blocks", c.Blocks.Interval)
	case c.Time != nil:
		return fmt.Sprintf("every %d seconds", c.Time.Seconds)
	case c.Cron != nil:
		return fmt.Sprintf("cron %q", c.Cron.Expr)
	case c.LimitOrder != nil:
		return fmt.Sprintf("limit order on %s", c.LimitOrder.Venue)
	default:
		return "invalid cadence"
	}
}

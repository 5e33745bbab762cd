package strategy

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"calcchain/core/events"
	"calcchain/core/types"
)

// Side is the book side a resting order occupies.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidAction, string(s))
	}
}

// PriceStrategy derives the price a resting order is placed at. Exactly one
// variant field is set.
type PriceStrategy struct {
	Fixed  *decimal.Decimal `json:"fixed,omitempty"`
	Offset *OffsetPrice     `json:"offset,omitempty"`
}

// OffsetPrice prices the order relative to the current spot: an exact price
// distance or a basis-point distance, above or below. Tolerance, when set,
// is how far spot may drift from the placed price before the order is
// re-derived and re-placed.
type OffsetPrice struct {
	Direction Direction        `json:"direction"`
	Exact     *decimal.Decimal `json:"exact,omitempty"`
	Bps       *uint64          `json:"bps,omitempty"`
	Tolerance *decimal.Decimal `json:"tolerance,omitempty"`
}

func (p PriceStrategy) Validate() error {
	switch {
	case p.Fixed != nil && p.Offset == nil:
		if p.Fixed.Sign() <= 0 {
			return fmt.Errorf("%w: fixed price must be positive", ErrInvalidAction)
		}
		return nil
	case p.Offset != nil && p.Fixed == nil:
		o := p.Offset
		if o.Direction != DirectionAbove && o.Direction != DirectionBelow {
			return fmt.Errorf("%w: unknown offset direction %q", ErrInvalidAction, string(o.Direction))
		}
		if (o.Exact == nil) == (o.Bps == nil) {
			return fmt.Errorf("%w: offset requires exactly one of exact or bps", ErrInvalidAction)
		}
		return nil
	default:
		return fmt.Errorf("%w: price strategy requires exactly one of fixed or offset", ErrInvalidAction)
	}
}

func (p PriceStrategy) tolerance() *decimal.Decimal {
	if p.Offset == nil {
		return nil
	}
	return p.Offset.Tolerance
}

// derivePrice resolves the strategy into a concrete price. Offset pricing
// reads the router's current spot for the pair.
func (p PriceStrategy) derivePrice(ctx *Context, bidDenom, askDenom string) (decimal.Decimal, error) {
	if p.Fixed != nil {
		return *p.Fixed, nil
	}
	if p.Offset == nil {
		return decimal.Zero, fmt.Errorf("%w: price strategy unset", ErrInvalidAction)
	}
	spot, err := ctx.Router.SpotPrice(bidDenom, askDenom)
	if err != nil {
		return decimal.Zero, err
	}
	var distance decimal.Decimal
	switch {
	case p.Offset.Exact != nil:
		distance = *p.Offset.Exact
	case p.Offset.Bps != nil:
		distance = spot.Mul(decimal.New(int64(*p.Offset.Bps), -4))
	}
	if p.Offset.Direction == DirectionBelow {
		return spot.Sub(distance), nil
	}
	return spot.Add(distance), nil
}

// LimitOrderAction maintains one resting order at a venue. CurrentPrice is
// the price of the order currently resting, nil when none is placed; it is
// re-derived before placing whenever the action resumes.
type LimitOrderAction struct {
	Venue        string           `json:"venue"`
	Side         Side             `json:"side"`
	BidDenom     string           `json:"bidDenom"`
	AskDenom     string           `json:"askDenom"`
	BidAmount    *big.Int         `json:"bidAmount"`
	Strategy     PriceStrategy    `json:"strategy"`
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
}

func (l LimitOrderAction) Validate() error {
	if strings.TrimSpace(l.Venue) == "" {
		return fmt.Errorf("%w: limit order requires a venue", ErrInvalidAction)
	}
	if err := l.Side.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(l.BidDenom) == "" || strings.TrimSpace(l.AskDenom) == "" {
		return fmt.Errorf("%w: limit order requires bid and ask denoms", ErrInvalidAction)
	}
	if l.BidDenom == l.AskDenom {
		return fmt.Errorf("%w: bid and ask denom are both %s", ErrInvalidAction, l.BidDenom)
	}
	if l.BidAmount == nil || l.BidAmount.Sign() <= 0 {
		return fmt.Errorf("%w: bid amount must be positive", ErrInvalidAction)
	}
	return l.Strategy.Validate()
}

type orderPayload struct {
	SetOrder *struct {
		Side  Side   `json:"side"`
		Price string `json:"price"`
	} `json:"setOrder,omitempty"`
	RetractOrder *struct {
		Side  Side   `json:"side"`
		Price string `json:"price"`
	} `json:"retractOrder,omitempty"`
	ClaimOrder *struct {
		Side  Side   `json:"side"`
		Price string `json:"price"`
	} `json:"claimOrder,omitempty"`
}

func orderMsg(kind string, side Side, price decimal.Decimal) (json.RawMessage, error) {
	body := &struct {
		Side  Side   `json:"side"`
		Price string `json:"price"`
	}{Side: side, Price: price.String()}
	var payload orderPayload
	switch kind {
	case "set":
		payload.SetOrder = body
	case "retract":
		payload.RetractOrder = body
	case "claim":
		payload.ClaimOrder = body
	}
	return json.Marshal(payload)
}

// execute derives the target price and places or re-places the resting
// order. An order already resting within tolerance is left alone.
func (l *LimitOrderAction) execute(ctx *Context) (Result, error) {
	price, err := l.Strategy.derivePrice(ctx, l.BidDenom, l.AskDenom)
	if err != nil {
		return Result{}, err
	}
	if price.Sign() <= 0 {
		unchanged := Result{Action: Action{LimitOrder: l}}
		unchanged.Events = append(unchanged.Events, events.ExecutionSkipped{
			StrategyID: ctx.StrategyID,
			Reason:     fmt.Sprintf("derived order price %s is not positive", price),
		})
		return unchanged, nil
	}

	if l.CurrentPrice != nil {
		tolerance := l.Strategy.tolerance()
		if l.CurrentPrice.Equal(price) ||
			(tolerance != nil && price.Sub(*l.CurrentPrice).Abs().LessThanOrEqual(*tolerance)) {
			return Result{Action: Action{LimitOrder: l}}, nil
		}
	}

	result := Result{}
	if l.CurrentPrice != nil {
		retract, err := orderMsg("retract", l.Side, *l.CurrentPrice)
		if err != nil {
			return Result{}, err
		}
		result.Effects = append(result.Effects, types.Effect{
			Invoke: &types.InvokeEffect{Target: l.Venue, Payload: retract},
		})
	}

	balance, err := ctx.contractBalance(l.BidDenom)
	if err != nil {
		return Result{}, err
	}
	amount := new(big.Int).Set(l.BidAmount)
	if balance.Cmp(amount) < 0 {
		amount.Set(balance)
	}
	if amount.Sign() == 0 {
		unchanged := Result{Action: Action{LimitOrder: l}}
		unchanged.Events = append(unchanged.Events, events.ExecutionSkipped{
			StrategyID: ctx.StrategyID,
			Reason:     fmt.Sprintf("no %s balance available to place order", l.BidDenom),
		})
		return unchanged, nil
	}

	set, err := orderMsg("set", l.Side, price)
	if err != nil {
		return Result{}, err
	}
	funds, err := types.NewCoins(types.NewCoin(l.BidDenom, amount))
	if err != nil {
		return Result{}, err
	}
	id, err := ctx.allocateCallbackID()
	if err != nil {
		return Result{}, err
	}
	result.Effects = append(result.Effects, types.Effect{
		Invoke:     &types.InvokeEffect{Target: l.Venue, Payload: set, Funds: funds},
		CallbackID: id,
	})
	if id != 0 {
		result.Pending = append(result.Pending, PendingCallback{ID: id, Kind: CallbackOrder})
	}

	next := *l
	next.CurrentPrice = &price
	result.Action = Action{LimitOrder: &next}
	return result, nil
}

// withdraw claims the filled side of the resting order when the ask denom is
// among the desired denoms.
func (l *LimitOrderAction) withdraw(ctx *Context, desired map[string]struct{}) (Result, error) {
	if l.CurrentPrice == nil {
		return Result{Action: Action{LimitOrder: l}}, nil
	}
	if _, ok := desired[l.AskDenom]; !ok {
		return Result{Action: Action{LimitOrder: l}}, nil
	}
	claim, err := orderMsg("claim", l.Side, *l.CurrentPrice)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: Action{LimitOrder: l},
		Effects: []types.Effect{{
			Invoke: &types.InvokeEffect{Target: l.Venue, Payload: claim},
		}},
	}, nil
}

// cancel retracts the resting order, returning remaining and filled funds to
// the strategy account.
func (l *LimitOrderAction) cancel(ctx *Context) (Result, error) {
	if l.CurrentPrice == nil {
		return Result{Action: Action{LimitOrder: l}}, nil
	}
	retract, err := orderMsg("retract", l.Side, *l.CurrentPrice)
	if err != nil {
		return Result{}, err
	}
	next := *l
	next.CurrentPrice = nil
	return Result{
		Action: Action{LimitOrder: &next},
		Effects: []types.Effect{{
			Invoke: &types.InvokeEffect{Target: l.Venue, Payload: retract},
		}},
	}, nil
}

// balances reports the resting order's remaining bid and filled ask amounts,
// restricted to denoms.
func (l *LimitOrderAction) balances(ctx *Context, denoms map[string]struct{}) (types.Coins, error) {
	out := types.Coins{}
	if l.CurrentPrice == nil {
		return out, nil
	}
	order, err := ctx.Orders.Order(l.Venue, ctx.Env.Contract, l.Side, *l.CurrentPrice)
	if err != nil {
		return types.Coins{}, err
	}
	if _, ok := denoms[l.BidDenom]; ok && order.Remaining != nil {
		if err := out.Add(types.NewCoin(l.BidDenom, order.Remaining)); err != nil {
			return types.Coins{}, err
		}
	}
	if _, ok := denoms[l.AskDenom]; ok && order.Filled != nil {
		if err := out.Add(types.NewCoin(l.AskDenom, order.Filled)); err != nil {
			return types.Coins{}, err
		}
	}
	return out, nil
}

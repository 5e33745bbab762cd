package strategy

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"calcchain/core/events"
	"calcchain/core/types"
)

// SwapAmountAdjustment rescales a swap before routing. The zero value is a
// fixed swap (no rescaling beyond clamping to the live balance).
type SwapAmountAdjustment struct {
	LinearScalar *LinearScalarAdjustment `json:"linearScalar,omitempty"`
}

// LinearScalarAdjustment scales the swap amount with the price delta against
// a base price implied by BaseReceiveAmount: when the market pays more than
// the base, swap more, and vice versa. MinSwapAmount floors the scaled
// amount; a result below the floor skips the swap entirely.
type LinearScalarAdjustment struct {
	BaseReceiveAmount types.Coin      `json:"baseReceiveAmount"`
	MinSwapAmount     *types.Coin     `json:"minSwapAmount,omitempty"`
	Scalar            decimal.Decimal `json:"scalar"`
}

// SwapAction routes a swap through the exchange router with a slippage
// ceiling, wrapping the resulting effects in a reliable-delivery envelope.
type SwapAction struct {
	SwapAmount     types.Coin           `json:"swapAmount"`
	MinReceive     types.Coin           `json:"minReceive"`
	MaxSlippageBps uint64               `json:"maxSlippageBps"`
	Adjustment     SwapAmountAdjustment `json:"adjustment,omitempty"`
}

func (s SwapAction) Validate() error {
	if err := s.SwapAmount.Validate(); err != nil {
		return err
	}
	if err := s.MinReceive.Validate(); err != nil {
		return err
	}
	if s.SwapAmount.IsZero() {
		return fmt.Errorf("%w: swap amount must be positive", ErrInvalidAction)
	}
	if s.SwapAmount.Denom == s.MinReceive.Denom {
		return fmt.Errorf("%w: swap and receive denom are both %s", ErrInvalidAction, s.SwapAmount.Denom)
	}
	if adj := s.Adjustment.LinearScalar; adj != nil {
		if err := adj.BaseReceiveAmount.Validate(); err != nil {
			return err
		}
		if adj.BaseReceiveAmount.IsZero() {
			return fmt.Errorf("%w: linear scalar base receive amount must be positive", ErrInvalidAction)
		}
		if adj.Scalar.Sign() < 0 {
			return fmt.Errorf("%w: linear scalar must be non-negative", ErrInvalidAction)
		}
	}
	return nil
}

// swapCallbackData is the continuation payload recorded alongside a swap's
// envelope id, enough to update statistics when the callback lands.
type swapCallbackData struct {
	SwapAmount   types.Coin `json:"swapAmount"`
	ReceiveDenom string     `json:"receiveDenom"`
}

func (s *SwapAction) execute(ctx *Context) (Result, error) {
	unchanged := Result{Action: Action{Swap: s}}

	balance, err := ctx.contractBalance(s.SwapAmount.Denom)
	if err != nil {
		return Result{}, err
	}
	amount := new(big.Int).Set(s.SwapAmount.Amount)
	if balance.Cmp(amount) < 0 {
		amount.Set(balance)
	}
	if amount.Sign() == 0 {
		unchanged.Events = append(unchanged.Events, events.ExecutionSkipped{
			StrategyID: ctx.StrategyID,
			Reason:     fmt.Sprintf("no %s balance available to swap", s.SwapAmount.Denom),
		})
		return unchanged, nil
	}

	amount, skip, err := s.adjusted(ctx, amount)
	if err != nil {
		return Result{}, err
	}
	if skip != "" {
		unchanged.Events = append(unchanged.Events, events.ExecutionSkipped{
			StrategyID: ctx.StrategyID,
			Reason:     skip,
		})
		return unchanged, nil
	}
	if balance.Cmp(amount) < 0 {
		amount = balance
	}

	swapAmount := types.NewCoin(s.SwapAmount.Denom, amount)
	minReceive := types.NewCoin(s.MinReceive.Denom, s.scaledMinReceive(amount))
	effects, _, err := ctx.Router.Swap(swapAmount, minReceive, ctx.Env.Contract, s.MaxSlippageBps)
	if err != nil {
		unchanged.Events = append(unchanged.Events, events.ExecutionFailed{
			StrategyID: ctx.StrategyID,
			Reason:     err.Error(),
		})
		return unchanged, nil
	}

	id, err := ctx.allocateCallbackID()
	if err != nil {
		return Result{}, err
	}
	result := Result{Action: Action{Swap: s}}
	for _, effect := range effects {
		effect.CallbackID = id
		result.Effects = append(result.Effects, effect)
	}
	if id != 0 {
		data, err := json.Marshal(swapCallbackData{SwapAmount: swapAmount, ReceiveDenom: minReceive.Denom})
		if err != nil {
			return Result{}, err
		}
		result.Pending = append(result.Pending, PendingCallback{ID: id, Kind: CallbackSwap, Data: data})
	}
	return result, nil
}

// adjusted applies the configured adjustment to the clamped swap amount. The
// returned skip reason is non-empty when the adjustment decides the swap
// should not happen at all.
func (s *SwapAction) adjusted(ctx *Context, amount *big.Int) (*big.Int, string, error) {
	adj := s.Adjustment.LinearScalar
	if adj == nil {
		return amount, "", nil
	}
	spot, err := ctx.Router.SpotPrice(s.SwapAmount.Denom, s.MinReceive.Denom)
	if err != nil {
		return nil, "", err
	}
	if spot.Sign() <= 0 {
		return nil, "", fmt.Errorf("%w: non-positive spot price", ErrInvalidAction)
	}
	// Base price in swap units per receive unit, from the configured amounts.
	base := decimal.NewFromBigInt(s.SwapAmount.Amount, 0).
		Div(decimal.NewFromBigInt(adj.BaseReceiveAmount.Amount, 0))
	delta := base.Sub(spot).Div(base)
	scaled := decimal.NewFromBigInt(amount, 0).
		Mul(decimal.NewFromInt(1).Add(delta.Mul(adj.Scalar))).
		Floor().BigInt()
	if scaled.Sign() <= 0 {
		return nil, "swap amount scaled to zero by price adjustment", nil
	}
	if adj.MinSwapAmount != nil && scaled.Cmp(adj.MinSwapAmount.Amount) < 0 {
		return nil, fmt.Sprintf("adjusted swap amount %s%s is below minimum %s",
			scaled, s.SwapAmount.Denom, adj.MinSwapAmount), nil
	}
	return scaled, "", nil
}

// scaledMinReceive scales the configured floor proportionally to the amount
// actually swapped, rounding down.
func (s *SwapAction) scaledMinReceive(amount *big.Int) *big.Int {
	if amount.Cmp(s.SwapAmount.Amount) >= 0 {
		return new(big.Int).Set(s.MinReceive.Amount)
	}
	scaled := new(big.Int).Mul(s.MinReceive.Amount, amount)
	return scaled.Div(scaled, s.SwapAmount.Amount)
}

func (s *SwapAction) balances(ctx *Context, denoms map[string]struct{}) (types.Coins, error) {
	out := types.Coins{}
	if _, ok := denoms[s.SwapAmount.Denom]; !ok {
		return out, nil
	}
	balance, err := ctx.contractBalance(s.SwapAmount.Denom)
	if err != nil {
		return types.Coins{}, err
	}
	if err := out.Add(types.NewCoin(s.SwapAmount.Denom, balance)); err != nil {
		return types.Coins{}, err
	}
	return out, nil
}

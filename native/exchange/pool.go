package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

// Pool is a snapshot of one constant-product pool pairing an asset against
// the hub denom.
type Pool struct {
	Asset        string
	AssetBalance *big.Int
	HubBalance   *big.Int
}

// PoolQuerier resolves pool snapshots by asset denom.
type PoolQuerier interface {
	Pool(asset string) (Pool, error)
}

// PoolVenue quotes swaps against constant-product pools. Every pool pairs an
// asset with the hub denom, so a swap between two non-hub assets routes
// through the hub in two hops.
type PoolVenue struct {
	name     string
	hub      string
	contract string
	pools    PoolQuerier
}

// NewPoolVenue constructs a pool venue. hub is the denom every pool pairs
// against; contract is the address swap effects invoke.
func NewPoolVenue(name, hub, contract string, pools PoolQuerier) *PoolVenue {
	return &PoolVenue{name: name, hub: hub, contract: contract, pools: pools}
}

func (v *PoolVenue) Name() string { return v.name }

// Path returns the hop sequence for the pair, inserting the hub denom
// between two non-hub assets.
func (v *PoolVenue) Path(swapDenom, targetDenom string) ([]string, error) {
	if swapDenom == targetDenom {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, swapDenom, targetDenom)
	}
	if swapDenom == v.hub || targetDenom == v.hub {
		return []string{swapDenom, targetDenom}, nil
	}
	return []string{swapDenom, v.hub, targetDenom}, nil
}

// CanSwap reports whether the pools along the path can produce at least one
// unit of output for the amount.
func (v *PoolVenue) CanSwap(swapAmount, minReceive types.Coin) (bool, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return false, err
	}
	q, err := v.ExpectedReceiveAmount(swapAmount, minReceive.Denom)
	if err != nil {
		return false, err
	}
	return q.ReceiveAmount.Amount.Sign() > 0, nil
}

// ExpectedReceiveAmount folds the constant-product formula across each hop
// of the path and reports slippage against the aggregate spot price.
func (v *PoolVenue) ExpectedReceiveAmount(swapAmount types.Coin, targetDenom string) (Quote, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return Quote{}, err
	}
	path, err := v.Path(swapAmount.Denom, targetDenom)
	if err != nil {
		return Quote{}, err
	}
	amount := new(big.Int).Set(swapAmount.Amount)
	for i := 0; i+1 < len(path); i++ {
		amount, err = v.hopReceive(amount, path[i], path[i+1])
		if err != nil {
			return Quote{}, err
		}
	}
	if amount.Sign() <= 0 {
		return Quote{}, ErrZeroReceive
	}
	spot, err := v.SpotPrice(swapAmount.Denom, targetDenom)
	if err != nil {
		return Quote{}, err
	}
	optimal, err := optimalReceive(swapAmount.Amount, spot)
	if err != nil {
		return Quote{}, err
	}
	receive := types.NewCoin(targetDenom, amount)
	return Quote{ReceiveAmount: receive, SlippageBps: SlippageBps(amount, optimal)}, nil
}

// hopReceive computes the output of one hop. With asset balance A and hub
// balance H, an input x on the hub side yields x*A*H/(x+H)^2 and an input on
// the asset side yields x*A*H/(x+A)^2.
func (v *PoolVenue) hopReceive(in *big.Int, fromDenom, toDenom string) (*big.Int, error) {
	pool, err := v.hopPool(fromDenom, toDenom)
	if err != nil {
		return nil, err
	}
	if pool.AssetBalance == nil || pool.HubBalance == nil ||
		pool.AssetBalance.Sign() <= 0 || pool.HubBalance.Sign() <= 0 {
		return nil, fmt.Errorf("exchange: pool %s has no liquidity", pool.Asset)
	}
	inputBalance := pool.AssetBalance
	if fromDenom == v.hub {
		inputBalance = pool.HubBalance
	}
	numerator := new(big.Int).Mul(in, pool.AssetBalance)
	numerator.Mul(numerator, pool.HubBalance)
	denominator := new(big.Int).Add(in, inputBalance)
	denominator.Mul(denominator, denominator)
	return numerator.Div(numerator, denominator), nil
}

func (v *PoolVenue) hopPool(fromDenom, toDenom string) (Pool, error) {
	asset := fromDenom
	if asset == v.hub {
		asset = toDenom
	}
	if asset == v.hub {
		return Pool{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, fromDenom, toDenom)
	}
	return v.pools.Pool(asset)
}

// SpotPrice multiplies per-hop marginal prices along the path. For a pool
// with asset balance A and hub balance H the price of the asset in hub units
// is H/A.
func (v *PoolVenue) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	path, err := v.Path(swapDenom, targetDenom)
	if err != nil {
		return decimal.Zero, err
	}
	price := decimal.NewFromInt(1)
	for i := 0; i+1 < len(path); i++ {
		pool, err := v.hopPool(path[i], path[i+1])
		if err != nil {
			return decimal.Zero, err
		}
		if pool.AssetBalance == nil || pool.HubBalance == nil ||
			pool.AssetBalance.Sign() <= 0 || pool.HubBalance.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("exchange: pool %s has no liquidity", pool.Asset)
		}
		asset := decimal.NewFromBigInt(pool.AssetBalance, 0)
		hub := decimal.NewFromBigInt(pool.HubBalance, 0)
		if path[i] == v.hub {
			// buying the asset: hub units per asset unit
			price = price.Mul(hub.Div(asset))
		} else {
			price = price.Mul(asset.Div(hub))
		}
	}
	return price, nil
}

type poolSwapPayload struct {
	Swap struct {
		TargetDenom string `json:"targetDenom"`
		MinReceive  string `json:"minReceive"`
		Recipient   string `json:"recipient,omitempty"`
	} `json:"swap"`
}

// Swap returns an invoke effect against the pool contract with the swap
// amount attached as funds.
func (v *PoolVenue) Swap(swapAmount, minReceive types.Coin, recipient string) ([]types.Effect, error) {
	ok, err := v.CanSwap(swapAmount, minReceive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrZeroReceive
	}
	var payload poolSwapPayload
	payload.Swap.TargetDenom = minReceive.Denom
	payload.Swap.MinReceive = minReceive.Amount.String()
	payload.Swap.Recipient = recipient
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	funds, err := types.NewCoins(swapAmount)
	if err != nil {
		return nil, err
	}
	return []types.Effect{{
		Invoke: &types.InvokeEffect{Target: v.contract, Payload: raw, Funds: funds},
	}}, nil
}

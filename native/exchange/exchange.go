package exchange

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

var (
	ErrNoVenues            = errors.New("exchange: no venues registered")
	ErrDuplicateVenue      = errors.New("exchange: venue already registered")
	ErrNoRoute             = errors.New("exchange: no venue can execute swap")
	ErrUnsupportedPair     = errors.New("exchange: unsupported pair")
	ErrSpotUnavailable     = errors.New("exchange: spot price unavailable")
	ErrEmptyBookSide       = errors.New("exchange: order book side is empty")
	ErrZeroReceive         = errors.New("exchange: swap would return zero")
	ErrReceiveBelowMinimum = errors.New("exchange: receive amount below minimum")
	ErrSlippageExceeded    = errors.New("exchange: slippage exceeds maximum")
	ErrInvalidAmount       = errors.New("exchange: swap amount must be positive")
)

// Quote is a venue's answer for a prospective swap. SlippageBps measures the
// shortfall of the quoted amount against the zero-impact amount implied by
// the venue's spot price, in basis points, rounded up.
type Quote struct {
	ReceiveAmount types.Coin `json:"receiveAmount"`
	SlippageBps   uint64     `json:"slippageBps"`
}

// Venue is a single liquidity source the router can swap against. Spot
// prices follow one convention everywhere: SpotPrice(swap, target) is the
// number of swap-denom units one target-denom unit costs, so the zero-impact
// receive amount is swapAmount divided by the spot price.
//
// Adapters answer quotes from a snapshot of venue state; Swap never moves
// funds itself, it returns effects for the host to dispatch.
type Venue interface {
	Name() string
	CanSwap(swapAmount, minReceive types.Coin) (bool, error)
	Path(swapDenom, targetDenom string) ([]string, error)
	ExpectedReceiveAmount(swapAmount types.Coin, targetDenom string) (Quote, error)
	SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error)
	Swap(swapAmount, minReceive types.Coin, recipient string) ([]types.Effect, error)
}

// SlippageBps returns ceil(10000 * (1 - actual/optimal)) clamped to zero.
// A fill at or above the zero-impact amount reports zero slippage, never a
// negative value.
func SlippageBps(actual, optimal *big.Int) uint64 {
	if optimal == nil || optimal.Sign() <= 0 || actual == nil {
		return 0
	}
	if actual.Cmp(optimal) >= 0 {
		return 0
	}
	shortfall := new(big.Int).Sub(optimal, actual)
	shortfall.Mul(shortfall, big.NewInt(10_000))
	// ceil division
	shortfall.Add(shortfall, new(big.Int).Sub(optimal, big.NewInt(1)))
	shortfall.Div(shortfall, optimal)
	if !shortfall.IsUint64() {
		return 10_000
	}
	bps := shortfall.Uint64()
	if bps > 10_000 {
		return 10_000
	}
	return bps
}

// optimalReceive converts a swap amount and a spot price into the
// zero-impact receive amount, rounding down.
func optimalReceive(swapAmount *big.Int, spot decimal.Decimal) (*big.Int, error) {
	if spot.Sign() <= 0 {
		return nil, ErrSpotUnavailable
	}
	out := decimal.NewFromBigInt(swapAmount, 0).Div(spot).Floor()
	return out.BigInt(), nil
}

func validateSwapAmount(swapAmount types.Coin) error {
	if err := swapAmount.Validate(); err != nil {
		return err
	}
	if swapAmount.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

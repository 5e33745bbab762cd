package exchange

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

// SwapQuote is the bridge quote service's answer for a prospective deposit
// swap.
type SwapQuote struct {
	ExpectedAmountOut *big.Int
	SlippageBps       uint64
}

// QuoteQuerier answers deposit-swap quotes from the bridge's quote service.
type QuoteQuerier interface {
	QuoteSwap(swapAmount types.Coin, targetDenom, destination string) (SwapQuote, error)
}

// DepositVenue swaps through the native bridge: execution is a memo-addressed
// deposit, and pricing comes from the bridge's quote service rather than a
// local model. SpotPrice is unavailable here, so the router skips this venue
// when comparing spot prices.
type DepositVenue struct {
	name   string
	quotes QuoteQuerier

	affiliate    string
	affiliateBps uint64
}

// NewDepositVenue constructs a deposit venue. When affiliate is non-empty,
// swap memos carry the affiliate collector and its basis-point cut.
func NewDepositVenue(name string, quotes QuoteQuerier, affiliate string, affiliateBps uint64) *DepositVenue {
	return &DepositVenue{name: name, quotes: quotes, affiliate: strings.TrimSpace(affiliate), affiliateBps: affiliateBps}
}

func (v *DepositVenue) Name() string { return v.name }

// Path is always a single hop; routing happens on the far side of the bridge.
func (v *DepositVenue) Path(swapDenom, targetDenom string) ([]string, error) {
	if swapDenom == targetDenom {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, swapDenom, targetDenom)
	}
	return []string{swapDenom, targetDenom}, nil
}

// CanSwap asks the quote service whether the deposit would clear the floor.
func (v *DepositVenue) CanSwap(swapAmount, minReceive types.Coin) (bool, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return false, err
	}
	quote, err := v.quotes.QuoteSwap(swapAmount, minReceive.Denom, "")
	if err != nil {
		return false, err
	}
	if quote.ExpectedAmountOut == nil || quote.ExpectedAmountOut.Sign() <= 0 {
		return false, nil
	}
	return quote.ExpectedAmountOut.Cmp(minReceive.Amount) >= 0, nil
}

// ExpectedReceiveAmount relays the quote service's answer, including the
// slippage it already accounts for.
func (v *DepositVenue) ExpectedReceiveAmount(swapAmount types.Coin, targetDenom string) (Quote, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return Quote{}, err
	}
	quote, err := v.quotes.QuoteSwap(swapAmount, targetDenom, "")
	if err != nil {
		return Quote{}, err
	}
	if quote.ExpectedAmountOut == nil || quote.ExpectedAmountOut.Sign() <= 0 {
		return Quote{}, ErrZeroReceive
	}
	return Quote{
		ReceiveAmount: types.NewCoin(targetDenom, quote.ExpectedAmountOut),
		SlippageBps:   quote.SlippageBps,
	}, nil
}

// SpotPrice is not supported; the bridge only quotes whole swaps.
func (v *DepositVenue) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	return decimal.Zero, ErrSpotUnavailable
}

// Swap returns a memo-addressed deposit effect. The memo encodes the target
// asset, the recipient, the receive floor, and the affiliate cut when one is
// configured: "=:ASSET:recipient:limit[:affiliate:bps]".
func (v *DepositVenue) Swap(swapAmount, minReceive types.Coin, recipient string) ([]types.Effect, error) {
	ok, err := v.CanSwap(swapAmount, minReceive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: want at least %s", ErrReceiveBelowMinimum, minReceive)
	}
	memo := fmt.Sprintf("=:%s:%s:%s", strings.ToUpper(minReceive.Denom), recipient, minReceive.Amount.String())
	if v.affiliate != "" && v.affiliateBps > 0 {
		memo = fmt.Sprintf("%s:%s:%d", memo, v.affiliate, v.affiliateBps)
	}
	coins, err := types.NewCoins(swapAmount)
	if err != nil {
		return nil, err
	}
	return []types.Effect{{
		Deposit: &types.DepositEffect{Memo: memo, Coins: coins},
	}}, nil
}

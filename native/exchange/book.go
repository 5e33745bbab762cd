package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

// BookLevel is one aggregated price level of an order book side. Price is
// always expressed in quote-denom units per base-denom unit.
type BookLevel struct {
	Price decimal.Decimal
	Total *big.Int
}

// OrderBook is a depth snapshot of one trading pair. Asks sell the base
// denom, bids buy it; both sides are ordered best level first.
type OrderBook struct {
	Asks []BookLevel
	Bids []BookLevel
}

// BookQuerier answers order-book snapshots and fill simulations for a pair
// contract address.
type BookQuerier interface {
	Book(pair string, depth int) (OrderBook, error)
	Simulate(pair string, swapAmount types.Coin) (*big.Int, error)
}

// Pair binds a book contract address to the denoms it trades.
type Pair struct {
	Address    string
	BaseDenom  string
	QuoteDenom string
}

// BookVenue quotes swaps against limit order books. Each registered pair
// maps to one book contract; pairs the venue does not know are refused with
// ErrUnsupportedPair.
type BookVenue struct {
	name  string
	pairs []Pair
	books BookQuerier

	// quoteDepth is how many levels a spot-price lookup requests.
	quoteDepth int
}

// NewBookVenue constructs an order-book venue over the given pairs.
func NewBookVenue(name string, pairs []Pair, books BookQuerier) *BookVenue {
	return &BookVenue{name: name, pairs: pairs, books: books, quoteDepth: 1}
}

func (v *BookVenue) Name() string { return v.name }

// pair resolves the registered pair trading the two denoms, in either
// direction.
func (v *BookVenue) pair(swapDenom, targetDenom string) (Pair, error) {
	for _, p := range v.pairs {
		if (p.BaseDenom == swapDenom && p.QuoteDenom == targetDenom) ||
			(p.BaseDenom == targetDenom && p.QuoteDenom == swapDenom) {
			return p, nil
		}
	}
	return Pair{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, swapDenom, targetDenom)
}

// Path is always a single hop on a book venue.
func (v *BookVenue) Path(swapDenom, targetDenom string) ([]string, error) {
	if _, err := v.pair(swapDenom, targetDenom); err != nil {
		return nil, err
	}
	return []string{swapDenom, targetDenom}, nil
}

// SpotPrice reads the best resting level on the side the swap would take.
// Entering a pair (swapping the quote denom for the base) takes the best ask
// as-is; exiting takes the reciprocal of the best bid, keeping the
// swap-units-per-target-unit convention.
func (v *BookVenue) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	pair, err := v.pair(swapDenom, targetDenom)
	if err != nil {
		return decimal.Zero, err
	}
	book, err := v.books.Book(pair.Address, v.quoteDepth)
	if err != nil {
		return decimal.Zero, err
	}
	if swapDenom == pair.QuoteDenom {
		if len(book.Asks) == 0 {
			return decimal.Zero, fmt.Errorf("%w: %s asks", ErrEmptyBookSide, pair.Address)
		}
		return book.Asks[0].Price, nil
	}
	if len(book.Bids) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s bids", ErrEmptyBookSide, pair.Address)
	}
	if book.Bids[0].Price.Sign() <= 0 {
		return decimal.Zero, ErrSpotUnavailable
	}
	return decimal.NewFromInt(1).Div(book.Bids[0].Price), nil
}

// MidPrice returns the midpoint of the best bid and ask in quote-denom
// units. Both sides must have resting depth.
func (v *BookVenue) MidPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	pair, err := v.pair(swapDenom, targetDenom)
	if err != nil {
		return decimal.Zero, err
	}
	book, err := v.books.Book(pair.Address, v.quoteDepth)
	if err != nil {
		return decimal.Zero, err
	}
	if len(book.Asks) == 0 || len(book.Bids) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrEmptyBookSide, pair.Address)
	}
	return book.Asks[0].Price.Add(book.Bids[0].Price).Div(decimal.NewFromInt(2)), nil
}

// CanSwap reports whether a simulated fill meets the caller's floor.
func (v *BookVenue) CanSwap(swapAmount, minReceive types.Coin) (bool, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return false, err
	}
	q, err := v.ExpectedReceiveAmount(swapAmount, minReceive.Denom)
	if err != nil {
		return false, err
	}
	return q.ReceiveAmount.Amount.Cmp(minReceive.Amount) >= 0, nil
}

// ExpectedReceiveAmount simulates the fill against the current book and
// reports slippage against the best resting level.
func (v *BookVenue) ExpectedReceiveAmount(swapAmount types.Coin, targetDenom string) (Quote, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return Quote{}, err
	}
	pair, err := v.pair(swapAmount.Denom, targetDenom)
	if err != nil {
		return Quote{}, err
	}
	returned, err := v.books.Simulate(pair.Address, swapAmount)
	if err != nil {
		return Quote{}, err
	}
	if returned == nil || returned.Sign() <= 0 {
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
	return Quote{
		ReceiveAmount: types.NewCoin(targetDenom, returned),
		SlippageBps:   SlippageBps(returned, optimal),
	}, nil
}

type bookSwapPayload struct {
	Swap struct {
		MinReturn string `json:"minReturn"`
		To        string `json:"to,omitempty"`
	} `json:"swap"`
}

// Swap returns an invoke effect against the pair contract with the swap
// amount attached as funds.
func (v *BookVenue) Swap(swapAmount, minReceive types.Coin, recipient string) ([]types.Effect, error) {
	pair, err := v.pair(swapAmount.Denom, minReceive.Denom)
	if err != nil {
		return nil, err
	}
	ok, err := v.CanSwap(swapAmount, minReceive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: want at least %s", ErrReceiveBelowMinimum, minReceive)
	}
	var payload bookSwapPayload
	payload.Swap.MinReturn = minReceive.Amount.String()
	payload.Swap.To = recipient
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	funds, err := types.NewCoins(swapAmount)
	if err != nil {
		return nil, err
	}
	return []types.Effect{{
		Invoke: &types.InvokeEffect{Target: pair.Address, Payload: raw, Funds: funds},
	}}, nil
}

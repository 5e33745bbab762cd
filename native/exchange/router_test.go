package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

type stubVenue struct {
	name     string
	quote    Quote
	quoteErr error
	canSwap  bool
	spot     decimal.Decimal
	spotErr  error
	path     []string
	pathErr  error
	swapped  int
}

func (s *stubVenue) Name() string { return s.name }

func (s *stubVenue) CanSwap(swapAmount, minReceive types.Coin) (bool, error) {
	if s.quoteErr != nil {
		return false, s.quoteErr
	}
	return s.canSwap, nil
}

func (s *stubVenue) Path(swapDenom, targetDenom string) ([]string, error) {
	if s.pathErr != nil {
		return nil, s.pathErr
	}
	if len(s.path) > 0 {
		return s.path, nil
	}
	return []string{swapDenom, targetDenom}, nil
}

func (s *stubVenue) ExpectedReceiveAmount(swapAmount types.Coin, targetDenom string) (Quote, error) {
	if s.quoteErr != nil {
		return Quote{}, s.quoteErr
	}
	return s.quote, nil
}

func (s *stubVenue) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	if s.spotErr != nil {
		return decimal.Zero, s.spotErr
	}
	return s.spot, nil
}

func (s *stubVenue) Swap(swapAmount, minReceive types.Coin, recipient string) ([]types.Effect, error) {
	s.swapped++
	return []types.Effect{{Send: &types.SendEffect{To: recipient}}}, nil
}

func quoting(name string, amount uint64, slippage uint64) *stubVenue {
	return &stubVenue{
		name:    name,
		canSwap: true,
		quote: Quote{
			ReceiveAmount: types.NewCoinFromUint64("uatom", amount),
			SlippageBps:   slippage,
		},
	}
}

func TestRouterSelectsHighestReceive(t *testing.T) {
	low := quoting("book", 98, 10)
	high := quoting("pool", 130, 40)
	router, err := NewRouter(low, high)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	venue, quote, err := router.BestQuote(types.NewCoinFromUint64("urune", 100), types.NewCoinFromUint64("uatom", 90))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	if venue.Name() != "pool" {
		t.Fatalf("selected %s, want pool", venue.Name())
	}
	if quote.ReceiveAmount.Amount.Uint64() != 130 {
		t.Fatalf("quote %s, want 130uatom", quote.ReceiveAmount)
	}
}

func TestRouterTieBreaksByRegistrationOrder(t *testing.T) {
	first := quoting("book", 100, 0)
	second := quoting("pool", 100, 0)
	router, err := NewRouter(first, second)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	venue, _, err := router.BestQuote(types.NewCoinFromUint64("urune", 100), types.NewCoinFromUint64("uatom", 1))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	if venue.Name() != "book" {
		t.Fatalf("selected %s, want first-registered book", venue.Name())
	}
}

func TestRouterAggregatesFailures(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "book", quoteErr: errors.New("book is empty")},
		&stubVenue{name: "pool", canSwap: false},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	_, _, err = router.BestQuote(types.NewCoinFromUint64("urune", 100), types.NewCoinFromUint64("uatom", 1))
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("error = %v, want ErrNoRoute", err)
	}
	for _, fragment := range []string{"book: book is empty", "pool: cannot satisfy swap"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %q", err.Error(), fragment)
		}
	}
}

func TestRouterRejectsDuplicateVenue(t *testing.T) {
	router, err := NewRouter(quoting("book", 1, 0))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := router.Register(quoting("book", 2, 0)); !errors.Is(err, ErrDuplicateVenue) {
		t.Fatalf("error = %v, want ErrDuplicateVenue", err)
	}
}

func TestRouterSwapValidatesFloorAndSlippage(t *testing.T) {
	tests := []struct {
		name    string
		quote   Quote
		min     uint64
		maxBps  uint64
		wantErr error
	}{
		{
			name:    "receive below floor",
			quote:   Quote{ReceiveAmount: types.NewCoinFromUint64("uatom", 80), SlippageBps: 0},
			min:     90,
			maxBps:  100,
			wantErr: ErrReceiveBelowMinimum,
		},
		{
			name:    "slippage above ceiling",
			quote:   Quote{ReceiveAmount: types.NewCoinFromUint64("uatom", 120), SlippageBps: 250},
			min:     90,
			maxBps:  100,
			wantErr: ErrSlippageExceeded,
		},
		{
			name:   "within bounds",
			quote:  Quote{ReceiveAmount: types.NewCoinFromUint64("uatom", 120), SlippageBps: 50},
			min:    90,
			maxBps: 100,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			venue := &stubVenue{name: "pool", canSwap: true, quote: tc.quote}
			router, err := NewRouter(venue)
			if err != nil {
				t.Fatalf("new router: %v", err)
			}
			effects, _, err := router.Swap(
				types.NewCoinFromUint64("urune", 100),
				types.NewCoinFromUint64("uatom", tc.min),
				"owner", tc.maxBps,
			)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				if venue.swapped != 0 {
					t.Fatalf("venue swapped %d times after validation failure", venue.swapped)
				}
				return
			}
			if err != nil {
				t.Fatalf("swap: %v", err)
			}
			if len(effects) != 1 || venue.swapped != 1 {
				t.Fatalf("effects = %d, swapped = %d, want 1 and 1", len(effects), venue.swapped)
			}
		})
	}
}

func TestRouterSpotPriceTakesMinimum(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "bridge", canSwap: true, spotErr: ErrSpotUnavailable},
		&stubVenue{name: "book", canSwap: true, spot: decimal.NewFromInt(6)},
		&stubVenue{name: "pool", canSwap: true, spot: decimal.NewFromInt(5)},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	spot, err := router.SpotPrice("urune", "uatom")
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if !spot.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("spot = %s, want 5", spot)
	}
}

func TestRouterPathPicksCheapestSpot(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "book", spot: decimal.NewFromInt(6), path: []string{"urune", "uatom"}},
		&stubVenue{name: "pool", spot: decimal.NewFromInt(5), path: []string{"urune", "pool", "uatom"}},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	hops, err := router.Path("urune", "uatom")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(hops) != 3 || hops[1] != "pool" {
		t.Fatalf("hops = %v, want the pool route", hops)
	}
}

func TestRouterPathTieBreaksByRegistrationOrder(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "book", spot: decimal.NewFromInt(5), path: []string{"urune", "book", "uatom"}},
		&stubVenue{name: "pool", spot: decimal.NewFromInt(5), path: []string{"urune", "pool", "uatom"}},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	hops, err := router.Path("urune", "uatom")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if hops[1] != "book" {
		t.Fatalf("hops = %v, want the first-registered book route", hops)
	}
}

func TestRouterPathAggregatesFailures(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "bridge", spotErr: errors.New("no pool for uatom")},
		&stubVenue{name: "book", spot: decimal.NewFromInt(5), pathErr: errors.New("pair not listed")},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	_, err = router.Path("urune", "uatom")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("error = %v, want ErrNoRoute", err)
	}
	for _, fragment := range []string{"bridge: no pool for uatom", "book: pair not listed"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %q", err.Error(), fragment)
		}
	}
}

func TestRouterRefusalObserverCountsPerVenue(t *testing.T) {
	router, err := NewRouter(
		&stubVenue{name: "book", quoteErr: errors.New("book is empty")},
		&stubVenue{name: "pool", canSwap: false},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	refusals := make(map[string]int)
	router.SetRefusalObserver(func(venue string) { refusals[venue]++ })

	_, _, err = router.BestQuote(types.NewCoinFromUint64("urune", 100), types.NewCoinFromUint64("uatom", 1))
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("error = %v, want ErrNoRoute", err)
	}
	if refusals["book"] != 1 || refusals["pool"] != 1 {
		t.Fatalf("refusals = %v, want one per venue", refusals)
	}
}

func TestRouterSpotPriceAggregatesFailures(t *testing.T) {
	router, err := NewRouter(&stubVenue{name: "bridge", spotErr: ErrSpotUnavailable})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if _, err := router.SpotPrice("urune", "uatom"); !errors.Is(err, ErrSpotUnavailable) {
		t.Fatalf("error = %v, want ErrSpotUnavailable", err)
	}
}

func TestSlippageBps(t *testing.T) {
	tests := []struct {
		actual  int64
		optimal int64
		want    uint64
	}{
		{actual: 100, optimal: 100, want: 0},
		{actual: 130, optimal: 100, want: 0},
		{actual: 99, optimal: 100, want: 100},
		{actual: 82, optimal: 100, want: 1800},
		{actual: 999, optimal: 1000, want: 10},
		{actual: 0, optimal: 100, want: 10_000},
		{actual: 100, optimal: 0, want: 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tc.actual, tc.optimal), func(t *testing.T) {
			got := SlippageBps(big.NewInt(tc.actual), big.NewInt(tc.optimal))
			if got != tc.want {
				t.Fatalf("slippage = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSlippageBpsRoundsUp(t *testing.T) {
	// 1 unit short of 3000 is 3.33... bps and must round to 4.
	got := SlippageBps(big.NewInt(2999), big.NewInt(3000))
	if got != 4 {
		t.Fatalf("slippage = %d, want 4", got)
	}
}

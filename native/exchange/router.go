package exchange

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
)

// Router fans a swap request out to every registered venue and executes on
// the one quoting the highest receive amount. Venues are consulted in
// registration order and a later venue must quote strictly more to displace
// an earlier one, so selection is deterministic for equal quotes.
type Router struct {
	venues         []Venue
	byName         map[string]Venue
	observeRefusal func(venue string)
}

// NewRouter constructs a router over the given venues. Registration order is
// the tie-break order.
func NewRouter(venues ...Venue) (*Router, error) {
	r := &Router{byName: make(map[string]Venue)}
	for _, v := range venues {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a venue. Names must be unique.
func (r *Router) Register(v Venue) error {
	if v == nil {
		return fmt.Errorf("%w: nil venue", ErrNoVenues)
	}
	name := strings.TrimSpace(v.Name())
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrDuplicateVenue)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVenue, name)
	}
	r.byName[name] = v
	r.venues = append(r.venues, v)
	return nil
}

// SetRefusalObserver installs a hook invoked once per venue refusal during
// quote and spot selection. Hosts use it to feed metrics.
func (r *Router) SetRefusalObserver(fn func(venue string)) {
	r.observeRefusal = fn
}

func (r *Router) refuse(failures []string, venue, format string, args ...any) []string {
	if r.observeRefusal != nil {
		r.observeRefusal(venue)
	}
	return append(failures, fmt.Sprintf("%s: %s", venue, fmt.Sprintf(format, args...)))
}

// Venue returns the registered venue with the given name.
func (r *Router) Venue(name string) (Venue, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Venues returns the venues in registration order.
func (r *Router) Venues() []Venue {
	out := make([]Venue, len(r.venues))
	copy(out, r.venues)
	return out
}

// CanSwap reports whether at least one venue can satisfy the swap. Venue
// errors are treated as "cannot swap" rather than aborting the scan.
func (r *Router) CanSwap(swapAmount, minReceive types.Coin) bool {
	for _, v := range r.venues {
		ok, err := v.CanSwap(swapAmount, minReceive)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// BestQuote selects the venue quoting the highest receive amount for the
// swap. When no venue can serve it, the error aggregates each venue's
// individual refusal so the caller sees the whole picture.
func (r *Router) BestQuote(swapAmount, minReceive types.Coin) (Venue, Quote, error) {
	if err := validateSwapAmount(swapAmount); err != nil {
		return nil, Quote{}, err
	}
	if len(r.venues) == 0 {
		return nil, Quote{}, ErrNoVenues
	}

	var (
		best     Venue
		bestQ    Quote
		failures []string
	)
	for _, v := range r.venues {
		ok, err := v.CanSwap(swapAmount, minReceive)
		if err != nil {
			failures = r.refuse(failures, v.Name(), "%v", err)
			continue
		}
		if !ok {
			failures = r.refuse(failures, v.Name(), "cannot satisfy swap")
			continue
		}
		q, err := v.ExpectedReceiveAmount(swapAmount, minReceive.Denom)
		if err != nil {
			failures = r.refuse(failures, v.Name(), "%v", err)
			continue
		}
		if best == nil || q.ReceiveAmount.Amount.Cmp(bestQ.ReceiveAmount.Amount) > 0 {
			best, bestQ = v, q
		}
	}
	if best == nil {
		return nil, Quote{}, fmt.Errorf("%w: %s", ErrNoRoute, strings.Join(failures, "; "))
	}
	return best, bestQ, nil
}

// ExpectedReceiveAmount returns the best quote across all venues.
func (r *Router) ExpectedReceiveAmount(swapAmount, minReceive types.Coin) (Quote, error) {
	_, q, err := r.BestQuote(swapAmount, minReceive)
	return q, err
}

// SpotPrice returns the lowest spot price any venue offers for the pair.
// Venues that cannot price the pair are skipped.
func (r *Router) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	if len(r.venues) == 0 {
		return decimal.Zero, ErrNoVenues
	}
	var (
		found    bool
		min      decimal.Decimal
		failures []string
	)
	for _, v := range r.venues {
		p, err := v.SpotPrice(swapDenom, targetDenom)
		if err != nil {
			failures = r.refuse(failures, v.Name(), "%v", err)
			continue
		}
		if !found || p.LessThan(min) {
			found, min = true, p
		}
	}
	if !found {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrSpotUnavailable, strings.Join(failures, "; "))
	}
	return min, nil
}

// Path returns the hop sequence of the venue pricing the pair best. A lower
// spot means fewer swap-denom units per target unit, and a later venue must
// price strictly lower to displace an earlier one, mirroring BestQuote's
// tie-break. Venues that cannot route the pair contribute to the aggregated
// failure text instead of aborting the scan.
func (r *Router) Path(swapDenom, targetDenom string) ([]string, error) {
	if len(r.venues) == 0 {
		return nil, ErrNoVenues
	}
	var (
		found    bool
		best     []string
		bestSpot decimal.Decimal
		failures []string
	)
	for _, v := range r.venues {
		spot, err := v.SpotPrice(swapDenom, targetDenom)
		if err != nil {
			failures = r.refuse(failures, v.Name(), "%v", err)
			continue
		}
		hops, err := v.Path(swapDenom, targetDenom)
		if err != nil {
			failures = r.refuse(failures, v.Name(), "%v", err)
			continue
		}
		if !found || spot.LessThan(bestSpot) {
			found, best, bestSpot = true, hops, spot
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, strings.Join(failures, "; "))
	}
	return best, nil
}

// Swap selects the best venue, re-validates the quote against the caller's
// floor and slippage ceiling, and returns the winning venue's effects. The
// quote used for validation is returned so callers can record it.
func (r *Router) Swap(swapAmount, minReceive types.Coin, recipient string, maxSlippageBps uint64) ([]types.Effect, Quote, error) {
	venue, quote, err := r.BestQuote(swapAmount, minReceive)
	if err != nil {
		return nil, Quote{}, err
	}
	if quote.ReceiveAmount.Amount.Cmp(minReceive.Amount) < 0 {
		return nil, quote, fmt.Errorf("%w: %s quoted %s, want at least %s",
			ErrReceiveBelowMinimum, venue.Name(), quote.ReceiveAmount, minReceive)
	}
	if quote.SlippageBps > maxSlippageBps {
		return nil, quote, fmt.Errorf("%w: %s quoted %d bps, ceiling %d bps",
			ErrSlippageExceeded, venue.Name(), quote.SlippageBps, maxSlippageBps)
	}
	effects, err := venue.Swap(swapAmount, minReceive, recipient)
	if err != nil {
		return nil, quote, fmt.Errorf("exchange: %s: %w", venue.Name(), err)
	}
	return effects, quote, nil
}

package strategyd

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
	"calcchain/native/exchange"
	"calcchain/native/strategy"
)

// PaperState is the daemon's local market and account state. It backs every
// querier the engines depend on, so strategies can run end to end without a
// chain connection. Pools are seeded from configuration; balances, books,
// and orders mutate as effects settle.
type PaperState struct {
	mu       sync.RWMutex
	balances map[string]map[string]*big.Int
	pools    map[string]exchange.Pool
	books    map[string]paperBook
	orders   map[string]strategy.Order
	prices   map[string]decimal.Decimal
	hub      string
}

// paperBook carries the pair denoms alongside the levels so simulated fills
// know which side of the book a swap crosses.
type paperBook struct {
	base  string
	quote string
	book  exchange.OrderBook
}

// NewPaperState constructs an empty state with the given hub denom.
func NewPaperState(hub string) *PaperState {
	return &PaperState{
		balances: make(map[string]map[string]*big.Int),
		pools:    make(map[string]exchange.Pool),
		books:    make(map[string]paperBook),
		orders:   make(map[string]strategy.Order),
		prices:   make(map[string]decimal.Decimal),
		hub:      hub,
	}
}

// SeedPool registers a constant-product pool.
func (p *PaperState) SeedPool(pool exchange.Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[pool.Asset] = pool
}

// SeedBook installs an order book for a market address trading base against
// quote.
func (p *PaperState) SeedBook(address, baseDenom, quoteDenom string, book exchange.OrderBook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[address] = paperBook{base: baseDenom, quote: quoteDenom, book: book}
}

// SetBalance overwrites an account's balance of denom.
func (p *PaperState) SetBalance(address, denom string, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account := p.balances[address]
	if account == nil {
		account = make(map[string]*big.Int)
		p.balances[address] = account
	}
	account[denom] = new(big.Int).Set(amount)
}

// SetPrice sets the oracle reference price for an asset.
func (p *PaperState) SetPrice(asset string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[asset] = price
}

// Balance implements strategy.BankQuerier. Unknown accounts read as zero.
func (p *PaperState) Balance(address, denom string) (types.Coin, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	amount := big.NewInt(0)
	if account := p.balances[address]; account != nil {
		if held := account[denom]; held != nil {
			amount = new(big.Int).Set(held)
		}
	}
	return types.NewCoin(denom, amount), nil
}

// Pool implements exchange.PoolQuerier.
func (p *PaperState) Pool(asset string) (exchange.Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pool, ok := p.pools[asset]
	if !ok {
		return exchange.Pool{}, fmt.Errorf("paper: no pool for %s", asset)
	}
	return pool, nil
}

// Book implements the read half of exchange.BookQuerier.
func (p *PaperState) Book(pair string, depth int) (exchange.OrderBook, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.books[pair]
	if !ok {
		return exchange.OrderBook{}, fmt.Errorf("paper: no book for %s", pair)
	}
	book := entry.book
	if depth > 0 {
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
	}
	return book, nil
}

// Simulate implements the fill half of exchange.BookQuerier by walking the
// opposing side of the book. Quote-denom input buys base off the asks;
// base-denom input sells into the bids.
func (p *PaperState) Simulate(pair string, swapAmount types.Coin) (*big.Int, error) {
	p.mu.RLock()
	entry, ok := p.books[pair]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("paper: no book for %s", pair)
	}
	switch swapAmount.Denom {
	case entry.quote:
		return walkAsks(pair, entry.book.Asks, swapAmount.Amount)
	case entry.base:
		return walkBids(pair, entry.book.Bids, swapAmount.Amount)
	default:
		return nil, fmt.Errorf("paper: book %s does not trade %s", pair, swapAmount.Denom)
	}
}

// walkAsks spends quote units across ask levels and returns the base bought.
func walkAsks(pair string, asks []exchange.BookLevel, amount *big.Int) (*big.Int, error) {
	if len(asks) == 0 {
		return nil, fmt.Errorf("paper: book %s has no asks", pair)
	}
	remaining := decimal.NewFromBigInt(amount, 0)
	received := decimal.Zero
	for _, level := range asks {
		if remaining.Sign() <= 0 {
			break
		}
		if level.Price.Sign() <= 0 {
			return nil, fmt.Errorf("paper: book %s has a non-positive price level", pair)
		}
		levelCost := decimal.NewFromBigInt(level.Total, 0).Mul(level.Price)
		spend := decimal.Min(remaining, levelCost)
		received = received.Add(spend.Div(level.Price))
		remaining = remaining.Sub(spend)
	}
	return received.Floor().BigInt(), nil
}

// walkBids sells base units across bid levels and returns the quote raised.
func walkBids(pair string, bids []exchange.BookLevel, amount *big.Int) (*big.Int, error) {
	if len(bids) == 0 {
		return nil, fmt.Errorf("paper: book %s has no bids", pair)
	}
	remaining := decimal.NewFromBigInt(amount, 0)
	received := decimal.Zero
	for _, level := range bids {
		if remaining.Sign() <= 0 {
			break
		}
		if level.Price.Sign() <= 0 {
			return nil, fmt.Errorf("paper: book %s has a non-positive price level", pair)
		}
		fill := decimal.Min(remaining, decimal.NewFromBigInt(level.Total, 0))
		received = received.Add(fill.Mul(level.Price))
		remaining = remaining.Sub(fill)
	}
	return received.Floor().BigInt(), nil
}

// QuoteSwap implements exchange.QuoteQuerier from pool spot prices.
func (p *PaperState) QuoteSwap(swapAmount types.Coin, targetDenom, destination string) (exchange.SwapQuote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	spot, err := p.spotLocked(swapAmount.Denom, targetDenom)
	if err != nil {
		return exchange.SwapQuote{}, err
	}
	expected := decimal.NewFromBigInt(swapAmount.Amount, 0).Div(spot).Floor().BigInt()
	return exchange.SwapQuote{ExpectedAmountOut: expected}, nil
}

// Order implements strategy.OrderQuerier. Unknown orders read as empty.
func (p *PaperState) Order(venue, owner string, side strategy.Side, price decimal.Decimal) (strategy.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key := orderKey(venue, owner, side, price)
	order, ok := p.orders[key]
	if !ok {
		return strategy.Order{Remaining: big.NewInt(0), Filled: big.NewInt(0), Price: price}, nil
	}
	return order, nil
}

// SetOrder installs an order's fill state, for settlement feeds and tests.
func (p *PaperState) SetOrder(venue, owner string, side strategy.Side, price decimal.Decimal, order strategy.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[orderKey(venue, owner, side, price)] = order
}

func orderKey(venue, owner string, side strategy.Side, price decimal.Decimal) string {
	return fmt.Sprintf("%s/%s/%s/%s", venue, owner, side, price.String())
}

// Price implements strategy.OracleQuerier. Explicit prices win; otherwise the
// asset's pool spot against the hub denom is used.
func (p *PaperState) Price(asset string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if price, ok := p.prices[asset]; ok {
		return price, nil
	}
	return p.spotLocked(p.hub, asset)
}

// spotLocked returns swap-denom units per target-denom unit from pool
// reserves. Callers hold at least the read lock.
func (p *PaperState) spotLocked(swapDenom, targetDenom string) (decimal.Decimal, error) {
	if swapDenom == targetDenom {
		return decimal.Decimal{}, fmt.Errorf("paper: same-denom spot %s", swapDenom)
	}
	hubPer := func(asset string) (decimal.Decimal, error) {
		pool, ok := p.pools[asset]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("paper: no pool for %s", asset)
		}
		if pool.AssetBalance.Sign() <= 0 {
			return decimal.Decimal{}, fmt.Errorf("paper: pool %s is empty", asset)
		}
		return decimal.NewFromBigInt(pool.HubBalance, 0).Div(decimal.NewFromBigInt(pool.AssetBalance, 0)), nil
	}
	switch {
	case swapDenom == p.hub:
		spot, err := hubPer(targetDenom)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return spot, nil
	case targetDenom == p.hub:
		spot, err := hubPer(swapDenom)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromInt(1).Div(spot), nil
	default:
		in, err := hubPer(swapDenom)
		if err != nil {
			return decimal.Decimal{}, err
		}
		out, err := hubPer(targetDenom)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return out.Div(in), nil
	}
}

var (
	_ strategy.BankQuerier   = (*PaperState)(nil)
	_ strategy.OrderQuerier  = (*PaperState)(nil)
	_ strategy.OracleQuerier = (*PaperState)(nil)
	_ exchange.PoolQuerier   = (*PaperState)(nil)
	_ exchange.BookQuerier   = (*PaperState)(nil)
	_ exchange.QuoteQuerier  = (*PaperState)(nil)
)

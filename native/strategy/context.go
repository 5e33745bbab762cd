package strategy

import (
	"math/big"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
	"calcchain/native/exchange"
)

// BankQuerier reads live balances consistent with the current invocation.
type BankQuerier interface {
	Balance(address, denom string) (types.Coin, error)
}

// Order is a resting limit order's fill state at a venue.
type Order struct {
	Remaining *big.Int
	Filled    *big.Int
	Price     decimal.Decimal
}

// OrderQuerier reads resting order state from a venue.
type OrderQuerier interface {
	Order(venue, owner string, side Side, price decimal.Decimal) (Order, error)
}

// StatusQuerier reads another strategy's lifecycle status from the registry.
type StatusQuerier interface {
	StrategyStatus(strategyID uint64) (Status, error)
}

// OracleQuerier reads a reference price for an asset.
type OracleQuerier interface {
	Price(asset string) (decimal.Decimal, error)
}

// Router is the slice of the exchange router the interpreter depends on.
// *exchange.Router satisfies it.
type Router interface {
	CanSwap(swapAmount, minReceive types.Coin) bool
	ExpectedReceiveAmount(swapAmount, minReceive types.Coin) (exchange.Quote, error)
	SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error)
	Swap(swapAmount, minReceive types.Coin, recipient string, maxSlippageBps uint64) ([]types.Effect, exchange.Quote, error)
}

// Context carries the world snapshot and collaborators for one invocation.
// Everything the evaluator and interpreter touch comes through here; there
// is no ambient state.
type Context struct {
	Env types.Env

	// StrategyID attributes events produced during the invocation.
	StrategyID uint64

	Bank   BankQuerier
	Router Router
	Orders OrderQuerier
	Status StatusQuerier
	Oracle OracleQuerier

	// Scheduler is the target re-arm triggers are submitted to.
	Scheduler string

	// NextCallbackID allocates reliable-delivery envelope ids for deferred
	// effects. Nil disables envelopes (effects go out fire-and-forget).
	NextCallbackID func() (uint64, error)
}

func (c *Context) allocateCallbackID() (uint64, error) {
	if c.NextCallbackID == nil {
		return 0, nil
	}
	return c.NextCallbackID()
}

// contractBalance reads the invoking strategy account's balance of denom,
// treating a missing account as zero.
func (c *Context) contractBalance(denom string) (*big.Int, error) {
	coin, err := c.Bank.Balance(c.Env.Contract, denom)
	if err != nil {
		return nil, err
	}
	if coin.Amount == nil {
		return big.NewInt(0), nil
	}
	return coin.Amount, nil
}

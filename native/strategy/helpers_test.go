package strategy

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"calcchain/core/events"
	"calcchain/core/types"
	"calcchain/native/exchange"
)

type mockBank struct {
	balances map[string]map[string]*big.Int
	err      error
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[string]map[string]*big.Int)}
}

func (m *mockBank) set(address, denom string, amount int64) {
	if m.balances[address] == nil {
		m.balances[address] = make(map[string]*big.Int)
	}
	m.balances[address][denom] = big.NewInt(amount)
}

func (m *mockBank) Balance(address, denom string) (types.Coin, error) {
	if m.err != nil {
		return types.Coin{}, m.err
	}
	held := m.balances[address][denom]
	if held == nil {
		held = big.NewInt(0)
	}
	return types.NewCoin(denom, held), nil
}

type stubRouter struct {
	quote    exchange.Quote
	quoteErr error
	spot     decimal.Decimal
	spotErr  error
	swapErr  error
	swaps    int
}

func (s *stubRouter) CanSwap(swapAmount, minReceive types.Coin) bool {
	return s.quoteErr == nil
}

func (s *stubRouter) ExpectedReceiveAmount(swapAmount, minReceive types.Coin) (exchange.Quote, error) {
	if s.quoteErr != nil {
		return exchange.Quote{}, s.quoteErr
	}
	return s.quote, nil
}

func (s *stubRouter) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	if s.spotErr != nil {
		return decimal.Zero, s.spotErr
	}
	return s.spot, nil
}

func (s *stubRouter) Swap(swapAmount, minReceive types.Coin, recipient string, maxSlippageBps uint64) ([]types.Effect, exchange.Quote, error) {
	if s.swapErr != nil {
		return nil, exchange.Quote{}, s.swapErr
	}
	s.swaps++
	funds, _ := types.NewCoins(swapAmount)
	return []types.Effect{{
		Invoke: &types.InvokeEffect{Target: "venue", Funds: funds},
	}}, s.quote, nil
}

type mockOrders struct {
	orders map[string]Order
	err    error
}

func newMockOrders() *mockOrders {
	return &mockOrders{orders: make(map[string]Order)}
}

func orderKey(venue string, side Side, price decimal.Decimal) string {
	return fmt.Sprintf("%s/%s/%s", venue, side, price)
}

func (m *mockOrders) set(venue string, side Side, price decimal.Decimal, remaining, filled int64) {
	m.orders[orderKey(venue, side, price)] = Order{
		Remaining: big.NewInt(remaining),
		Filled:    big.NewInt(filled),
		Price:     price,
	}
}

func (m *mockOrders) Order(venue, owner string, side Side, price decimal.Decimal) (Order, error) {
	if m.err != nil {
		return Order{}, m.err
	}
	order, ok := m.orders[orderKey(venue, side, price)]
	if !ok {
		return Order{Remaining: big.NewInt(0), Filled: big.NewInt(0), Price: price}, nil
	}
	return order, nil
}

type mockOracle struct {
	prices map[string]decimal.Decimal
	err    error
}

func (m *mockOracle) Price(asset string) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	price, ok := m.prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", asset)
	}
	return price, nil
}

type statusMap map[uint64]Status

func (m statusMap) StrategyStatus(id uint64) (Status, error) {
	status, ok := m[id]
	if !ok {
		return "", fmt.Errorf("strategy %d not found", id)
	}
	return status, nil
}

func testContext(height uint64, at time.Time) *Context {
	ids := uint64(0)
	return &Context{
		Env:        types.Env{Height: height, Time: at, Contract: "strategy/1"},
		StrategyID: 1,
		Bank:       newMockBank(),
		Router:     &stubRouter{spot: decimal.NewFromInt(1)},
		Orders:     newMockOrders(),
		Status:     statusMap{},
		Oracle:     &mockOracle{prices: map[string]decimal.Decimal{}},
		Scheduler:  "scheduler",
		NextCallbackID: func() (uint64, error) {
			ids++
			return ids, nil
		},
	}
}

type mockStore struct {
	strategies map[uint64]*Strategy
	pendings   map[uint64]PendingCallback
	owners     map[uint64]uint64 // callback id -> strategy id
	nextID     uint64
	nextCB     uint64
}

func newMockStore() *mockStore {
	return &mockStore{
		strategies: make(map[uint64]*Strategy),
		pendings:   make(map[uint64]PendingCallback),
		owners:     make(map[uint64]uint64),
	}
}

func (m *mockStore) NextStrategyID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockStore) PutStrategy(strategy *Strategy) error {
	clone := *strategy
	m.strategies[strategy.ID] = &clone
	return nil
}

func (m *mockStore) StrategyByID(id uint64) (*Strategy, bool, error) {
	strategy, ok := m.strategies[id]
	if !ok {
		return nil, false, nil
	}
	clone := *strategy
	return &clone, true, nil
}

func (m *mockStore) ListStrategies() ([]*Strategy, error) {
	out := make([]*Strategy, 0, len(m.strategies))
	for _, strategy := range m.strategies {
		clone := *strategy
		out = append(out, &clone)
	}
	return out, nil
}

func (m *mockStore) NextCallbackID() (uint64, error) {
	m.nextCB++
	return m.nextCB, nil
}

func (m *mockStore) PutPendingCallback(strategyID uint64, cb PendingCallback) error {
	m.pendings[cb.ID] = cb
	m.owners[cb.ID] = strategyID
	return nil
}

func (m *mockStore) PendingCallback(id uint64) (uint64, PendingCallback, bool, error) {
	cb, ok := m.pendings[id]
	if !ok {
		return 0, PendingCallback{}, false, nil
	}
	return m.owners[id], cb, true, nil
}

func (m *mockStore) DeletePendingCallback(id uint64) error {
	delete(m.pendings, id)
	delete(m.owners, id)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(event events.Event) {
	c.events = append(c.events, event)
}

package strategy

import (
	"encoding/json"
	"fmt"
	"time"

	"calcchain/core/events"
	"calcchain/core/types"
)

// Store is the persistence interface the engine drives. Implementations keep
// strategies and the pending-callback table; values are opaque to the store.
type Store interface {
	NextStrategyID() (uint64, error)
	PutStrategy(strategy *Strategy) error
	StrategyByID(id uint64) (*Strategy, bool, error)
	ListStrategies() ([]*Strategy, error)

	NextCallbackID() (uint64, error)
	PutPendingCallback(strategyID uint64, cb PendingCallback) error
	PendingCallback(id uint64) (uint64, PendingCallback, bool, error)
	DeletePendingCallback(id uint64) error
}

// Engine coordinates strategy lifecycles over a store. Each call runs one
// invocation to completion: load, transform the action tree functionally,
// persist, and hand the deferred effects back to the caller for dispatch.
type Engine struct {
	store   Store
	emitter events.Emitter

	router Router
	bank   BankQuerier
	orders OrderQuerier
	status StatusQuerier
	oracle OracleQuerier

	scheduler string

	nowFn    func() time.Time
	heightFn func() uint64
}

// NewEngine constructs an engine over the given store.
func NewEngine(store Store) *Engine {
	e := &Engine{
		store:    store,
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		heightFn: func() uint64 { return 0 },
	}
	e.status = e
	return e
}

// SetEmitter wires an event emitter. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRouter wires the exchange router used by swaps and conditions.
func (e *Engine) SetRouter(router Router) { e.router = router }

// SetBank wires the balance querier.
func (e *Engine) SetBank(bank BankQuerier) { e.bank = bank }

// SetOrders wires the resting-order querier.
func (e *Engine) SetOrders(orders OrderQuerier) { e.orders = orders }

// SetStatusQuerier overrides the registry used by status conditions. The
// engine itself serves statuses from its own store by default.
func (e *Engine) SetStatusQuerier(status StatusQuerier) { e.status = status }

// SetOracle wires the price oracle used by oracle conditions.
func (e *Engine) SetOracle(oracle OracleQuerier) { e.oracle = oracle }

// SetScheduler sets the target re-arm triggers are submitted to.
func (e *Engine) SetScheduler(target string) { e.scheduler = target }

// SetNowFunc overrides the time source. Nil restores the default.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.nowFn = now
}

// SetHeightFunc overrides the block height source. Nil restores the default.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		height = func() uint64 { return 0 }
	}
	e.heightFn = height
}

// StrategyStatus implements StatusQuerier against the engine's own store.
func (e *Engine) StrategyStatus(id uint64) (Status, error) {
	strategy, ok, err := e.store.StrategyByID(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrStrategyNotFound, id)
	}
	return strategy.Status, nil
}

func (e *Engine) context(strategy *Strategy) *Context {
	return &Context{
		Env: types.Env{
			Height:   e.heightFn(),
			Time:     e.nowFn(),
			Contract: strategy.Contract,
		},
		StrategyID:     strategy.ID,
		Bank:           e.bank,
		Router:         e.router,
		Orders:         e.orders,
		Status:         e.status,
		Oracle:         e.oracle,
		Scheduler:      e.scheduler,
		NextCallbackID: e.store.NextCallbackID,
	}
}

func (e *Engine) load(id uint64) (*Strategy, error) {
	if e.store == nil {
		return nil, ErrNilStore
	}
	strategy, ok, err := e.store.StrategyByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrStrategyNotFound, id)
	}
	return strategy, nil
}

func (e *Engine) owned(id uint64, sender string) (*Strategy, error) {
	strategy, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if strategy.Owner != sender {
		return nil, fmt.Errorf("%w: %s does not own strategy %d", ErrUnauthorized, sender, id)
	}
	return strategy, nil
}

// commit persists the strategy with the rewritten tree, records pending
// callbacks, emits the invocation's events, and auto-pauses on a failed
// re-arm.
func (e *Engine) commit(strategy *Strategy, result Result) error {
	strategy.Action = result.Action
	strategy.UpdatedAt = e.nowFn()
	for _, event := range result.Events {
		if _, failed := event.(events.SchedulingFailed); failed && strategy.Status == StatusActive {
			strategy.Status = StatusPaused
		}
	}
	if err := e.store.PutStrategy(strategy); err != nil {
		return err
	}
	for _, pending := range result.Pending {
		if err := e.store.PutPendingCallback(strategy.ID, pending); err != nil {
			return err
		}
	}
	for _, event := range result.Events {
		e.emitter.Emit(event)
	}
	return nil
}

// Create validates and instantiates a strategy, arming its schedules. The
// returned effects are the scheduler registrations the host must dispatch.
func (e *Engine) Create(owner, label string, affiliates []Affiliate, action Action) (*Strategy, []types.Effect, error) {
	if e.store == nil {
		return nil, nil, ErrNilStore
	}
	if err := ValidateAffiliates(affiliates); err != nil {
		return nil, nil, err
	}
	id, err := e.store.NextStrategyID()
	if err != nil {
		return nil, nil, err
	}
	now := e.nowFn()
	strategy := &Strategy{
		ID:         id,
		Owner:      owner,
		Label:      label,
		Contract:   fmt.Sprintf("strategy/%d", id),
		Status:     StatusActive,
		Action:     action,
		Affiliates: affiliates,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := strategy.Validate(); err != nil {
		return nil, nil, err
	}
	result, err := action.Init(e.context(strategy))
	if err != nil {
		return nil, nil, err
	}
	if err := e.commit(strategy, result); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(events.StrategyCreated{StrategyID: id, Owner: owner, Label: label})
	return strategy, result.Effects, nil
}

// Execute runs one pass of the strategy's tree. Anyone may crank an active
// strategy; paused and archived strategies refuse.
func (e *Engine) Execute(id uint64) ([]types.Effect, error) {
	strategy, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if strategy.Status != StatusActive {
		return nil, fmt.Errorf("%w: strategy %d is %s", ErrNotActive, id, strategy.Status)
	}
	result, err := strategy.Action.Execute(e.context(strategy))
	if err != nil {
		return nil, err
	}
	if err := e.commit(strategy, result); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StrategyExecuted{StrategyID: id, Effects: len(result.Effects)})
	return result.Effects, nil
}

// Update replaces the action tree. The old tree is cancelled first so no
// resting orders or trigger registrations leak.
func (e *Engine) Update(id uint64, sender string, action Action) ([]types.Effect, error) {
	strategy, err := e.owned(id, sender)
	if err != nil {
		return nil, err
	}
	if strategy.Status == StatusArchived {
		return nil, fmt.Errorf("%w: strategy %d is archived", ErrInvalidTransition, id)
	}
	ctx := e.context(strategy)
	cancelled, err := strategy.Action.Cancel(ctx)
	if err != nil {
		return nil, err
	}
	initialized, err := action.Init(ctx)
	if err != nil {
		return nil, err
	}
	combined := Result{Action: initialized.Action}
	combined.Effects = append(combined.Effects, cancelled.Effects...)
	combined.Effects = append(combined.Effects, initialized.Effects...)
	combined.Events = append(combined.Events, cancelled.Events...)
	combined.Events = append(combined.Events, initialized.Events...)
	combined.Pending = append(combined.Pending, initialized.Pending...)
	if err := e.commit(strategy, combined); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StrategyUpdated{StrategyID: id, Owner: sender})
	return combined.Effects, nil
}

func (e *Engine) transition(id uint64, sender string, next Status) (*Strategy, error) {
	strategy, err := e.owned(id, sender)
	if err != nil {
		return nil, err
	}
	if !strategy.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, strategy.Status, next)
	}
	strategy.Status = next
	strategy.UpdatedAt = e.nowFn()
	if err := e.store.PutStrategy(strategy); err != nil {
		return nil, err
	}
	return strategy, nil
}

// Pause stops execution until resumed.
func (e *Engine) Pause(id uint64, sender string) error {
	_, err := e.transition(id, sender, StatusPaused)
	return err
}

// Resume reactivates a paused strategy and re-arms its schedules, since any
// resting registrations may have fired or gone stale while paused.
func (e *Engine) Resume(id uint64, sender string) ([]types.Effect, error) {
	strategy, err := e.transition(id, sender, StatusActive)
	if err != nil {
		return nil, err
	}
	result, err := strategy.Action.Init(e.context(strategy))
	if err != nil {
		return nil, err
	}
	if err := e.commit(strategy, result); err != nil {
		return nil, err
	}
	return result.Effects, nil
}

// Archive soft-deletes the strategy. It refuses while escrowed funds remain,
// so a strategy can never strand balances behind a terminal status.
func (e *Engine) Archive(id uint64, sender string) error {
	strategy, err := e.owned(id, sender)
	if err != nil {
		return err
	}
	if !strategy.Status.CanTransitionTo(StatusArchived) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, strategy.Status, StatusArchived)
	}
	ctx := e.context(strategy)
	for denom := range strategy.Action.Escrowed() {
		balance, err := ctx.contractBalance(denom)
		if err != nil {
			return err
		}
		if balance.Sign() > 0 {
			return fmt.Errorf("%w: %s funds remain", ErrEscrowedWithdrawal, denom)
		}
	}
	strategy.Status = StatusArchived
	strategy.UpdatedAt = e.nowFn()
	return e.store.PutStrategy(strategy)
}

// Withdraw returns the owner's funds for the desired denoms, refusing any
// denom an in-flight action has escrowed.
func (e *Engine) Withdraw(id uint64, sender string, denoms []string) ([]types.Effect, error) {
	strategy, err := e.owned(id, sender)
	if err != nil {
		return nil, err
	}
	escrowed := strategy.Action.Escrowed()
	for _, denom := range denoms {
		if _, ok := escrowed[denom]; ok {
			return nil, fmt.Errorf("%w: %s", ErrEscrowedWithdrawal, denom)
		}
	}
	ctx := e.context(strategy)
	withdrawal := types.Coins{}
	for _, denom := range denoms {
		balance, err := ctx.contractBalance(denom)
		if err != nil {
			return nil, err
		}
		if err := withdrawal.Add(types.NewCoin(denom, balance)); err != nil {
			return nil, err
		}
	}
	if withdrawal.IsZero() {
		return nil, nil
	}
	for _, coin := range withdrawal.Slice() {
		if err := strategy.Statistics.Credit(strategy.Owner, coin); err != nil {
			return nil, err
		}
	}
	strategy.UpdatedAt = e.nowFn()
	if err := e.store.PutStrategy(strategy); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.FundsWithdrawn{StrategyID: id, To: strategy.Owner, Funds: withdrawal})
	return []types.Effect{{Send: &types.SendEffect{To: strategy.Owner, Amount: withdrawal}}}, nil
}

// Cancel tears down the action tree: orders retracted, triggers cleared.
// The strategy stays addressable for withdrawal and archival.
func (e *Engine) Cancel(id uint64, sender string) ([]types.Effect, error) {
	strategy, err := e.owned(id, sender)
	if err != nil {
		return nil, err
	}
	result, err := strategy.Action.Cancel(e.context(strategy))
	if err != nil {
		return nil, err
	}
	if err := e.commit(strategy, result); err != nil {
		return nil, err
	}
	return result.Effects, nil
}

// HandleCallback resolves a reliable-delivery envelope: the host reports
// whether the deferred effect succeeded, and for swaps the coins received.
func (e *Engine) HandleCallback(callbackID uint64, success bool, reason string, received *types.Coin) error {
	strategyID, pending, ok, err := e.store.PendingCallback(callbackID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrCallbackNotFound, callbackID)
	}
	strategy, err := e.load(strategyID)
	if err != nil {
		return err
	}
	if err := e.store.DeletePendingCallback(callbackID); err != nil {
		return err
	}
	if !success {
		e.emitter.Emit(events.ExecutionFailed{StrategyID: strategyID, Reason: reason})
		strategy.UpdatedAt = e.nowFn()
		return e.store.PutStrategy(strategy)
	}
	if pending.Kind == CallbackSwap && len(pending.Data) > 0 {
		var data swapCallbackData
		if err := json.Unmarshal(pending.Data, &data); err != nil {
			return err
		}
		if err := strategy.Statistics.Debit(data.SwapAmount); err != nil {
			return err
		}
		if received != nil {
			if err := strategy.Statistics.Credit(strategy.Contract, *received); err != nil {
				return err
			}
		}
	}
	strategy.UpdatedAt = e.nowFn()
	return e.store.PutStrategy(strategy)
}

// Get returns the strategy by id.
func (e *Engine) Get(id uint64) (*Strategy, error) {
	return e.load(id)
}

// List returns every strategy in the store.
func (e *Engine) List() ([]*Strategy, error) {
	if e.store == nil {
		return nil, ErrNilStore
	}
	return e.store.ListStrategies()
}

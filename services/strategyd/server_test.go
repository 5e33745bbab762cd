package strategyd

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"calcchain/core/types"
	"calcchain/native/exchange"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
	"calcchain/storage"
)

type stubBank struct{ amount int64 }

func (s stubBank) Balance(address, denom string) (types.Coin, error) {
	return types.NewCoin(denom, big.NewInt(s.amount)), nil
}

type stubRouter struct {
	receive int64
}

func (s stubRouter) CanSwap(swapAmount, minReceive types.Coin) bool { return true }

func (s stubRouter) ExpectedReceiveAmount(swapAmount, minReceive types.Coin) (exchange.Quote, error) {
	return exchange.Quote{ReceiveAmount: types.NewCoin(minReceive.Denom, big.NewInt(s.receive))}, nil
}

func (s stubRouter) SpotPrice(swapDenom, targetDenom string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

func (s stubRouter) Swap(swapAmount, minReceive types.Coin, recipient string, maxSlippageBps uint64) ([]types.Effect, exchange.Quote, error) {
	received, _ := types.NewCoins(types.NewCoin(minReceive.Denom, big.NewInt(s.receive)))
	effect := types.Effect{Send: &types.SendEffect{To: recipient, Amount: received}}
	return []types.Effect{effect}, exchange.Quote{ReceiveAmount: types.NewCoin(minReceive.Denom, big.NewInt(s.receive))}, nil
}

type testHarness struct {
	server    *Server
	engine    *strategy.Engine
	scheduler *scheduler.Engine
	height    *uint64
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	store := storage.NewStore(storage.NewMemDB())

	height := uint64(100)
	engine := strategy.NewEngine(store)
	engine.SetScheduler("scheduler")
	engine.SetBank(stubBank{amount: 1_000})
	engine.SetRouter(stubRouter{receive: 95})
	engine.SetNowFunc(func() time.Time { return time.Unix(1_000, 0).UTC() })
	engine.SetHeightFunc(func() uint64 { return height })

	sched := scheduler.NewEngine(store)
	dispatcher := NewDispatcher(sched, "scheduler", nil)
	evalCtx := func() *strategy.Context {
		return &strategy.Context{
			Env:  types.Env{Height: height, Time: time.Unix(1_000, 0).UTC()},
			Bank: stubBank{amount: 1_000},
		}
	}

	server := New(Config{
		Engine:      engine,
		Scheduler:   sched,
		Dispatcher:  dispatcher,
		EvalContext: evalCtx,
	})
	return &testHarness{server: server, engine: engine, scheduler: sched, height: &height}
}

func (h *testHarness) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func scheduledSwapAction() strategy.Action {
	return strategy.Action{Schedule: &strategy.ScheduleAction{
		Cadence: strategy.Cadence{Blocks: &strategy.BlocksCadence{Interval: 10}},
		Inner: &strategy.Action{Swap: &strategy.SwapAction{
			SwapAmount: types.NewCoinFromUint64("urune", 100),
			MinReceive: types.NewCoinFromUint64("uatom", 90),
		}},
	}}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.request(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateRegistersTrigger(t *testing.T) {
	h := newHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Label:  "dca",
		Action: scheduledSwapAction(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var created strategyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Strategy == nil || created.Strategy.ID != 1 {
		t.Fatalf("created = %+v", created.Strategy)
	}

	triggers, err := h.scheduler.Owned(created.Strategy.Contract, 0, 0)
	if err != nil || len(triggers) != 1 {
		t.Fatalf("triggers = %d, %v, want registration on create", len(triggers), err)
	}
}

func TestCreateRejectsInvalidAction(t *testing.T) {
	h := newHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: strategy.Action{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteQueuesEffectsAndRearms(t *testing.T) {
	h := newHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: scheduledSwapAction(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = h.request(t, http.MethodPost, "/v1/strategies/1/execute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = h.request(t, http.MethodGet, "/v1/effects", nil)
	var pending struct {
		Effects []types.Effect `json:"effects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pending.Effects) == 0 || pending.Effects[0].Send == nil {
		t.Fatalf("outbox = %+v, want queued swap effect", pending.Effects)
	}

	// The re-arm was applied to the scheduler, not queued.
	triggers, err := h.scheduler.Owned("strategy/1", 0, 0)
	if err != nil || len(triggers) != 1 {
		t.Fatalf("triggers = %d, %v, want one re-armed trigger", len(triggers), err)
	}
}

func TestExecuteUnknownStrategyIs404(t *testing.T) {
	h := newHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/strategies/42/execute", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPauseAuthorization(t *testing.T) {
	h := newHarness(t)
	h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: scheduledSwapAction(),
	})

	rec := h.request(t, http.MethodPost, "/v1/strategies/1/pause", senderRequest{Sender: "mallory"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	rec = h.request(t, http.MethodPost, "/v1/strategies/1/pause", senderRequest{Sender: "owner"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = h.request(t, http.MethodPost, "/v1/strategies/1/execute", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want refusal while paused", rec.Code)
	}
}

func TestWithdrawRefusesEscrowedDenom(t *testing.T) {
	h := newHarness(t)
	h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: scheduledSwapAction(),
	})

	rec := h.request(t, http.MethodPost, "/v1/strategies/1/withdraw", withdrawRequest{
		Sender: "owner",
		Denoms: []string{"urune"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want escrow refusal", rec.Code)
	}
}

func TestSweepExecutesDueTriggers(t *testing.T) {
	h := newHarness(t)
	h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: scheduledSwapAction(),
	})

	sweeper := NewSweeper(h.scheduler, h.engine, h.server.dispatcher, h.server.evalCtx, "keeper", time.Second, 10, nil)
	sweeper.sweep()

	found, err := h.engine.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	prev := found.Action.Schedule.Cadence.Blocks.Previous
	if prev == nil || *prev != 100 {
		t.Fatalf("previous = %v, want crank at sweep height", prev)
	}
}

func TestListTriggersDueFilter(t *testing.T) {
	h := newHarness(t)
	h.request(t, http.MethodPost, "/v1/strategies", createStrategyRequest{
		Owner:  "owner",
		Action: scheduledSwapAction(),
	})

	rec := h.request(t, http.MethodGet, "/v1/triggers?due=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Triggers []scheduler.Trigger `json:"triggers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Triggers) != 1 {
		t.Fatalf("due = %d, want the freshly registered trigger", len(body.Triggers))
	}
}

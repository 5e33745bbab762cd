package manager

import (
	"errors"
	"testing"
	"time"

	"calcchain/native/strategy"
)

type memStore struct {
	handles map[uint64]Handle
	nextID  uint64
}

func newMemStore() *memStore {
	return &memStore{handles: make(map[uint64]Handle)}
}

func (m *memStore) NextHandleID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *memStore) PutHandle(handle Handle) error {
	m.handles[handle.ID] = handle
	return nil
}

func (m *memStore) HandleByID(id uint64) (Handle, bool, error) {
	handle, ok := m.handles[id]
	return handle, ok, nil
}

func (m *memStore) ListHandles() ([]Handle, error) {
	out := make([]Handle, 0, len(m.handles))
	for _, handle := range m.handles {
		out = append(out, handle)
	}
	return out, nil
}

func newTestManager() *Manager {
	m := NewManager(newMemStore())
	m.SetNowFunc(func() time.Time { return time.Unix(1_000, 0).UTC() })
	return m
}

func TestRegisterAndGet(t *testing.T) {
	m := newTestManager()
	handle, err := m.Register("owner", "strategy/1", "dca", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if handle.ID != 1 || handle.Status != strategy.StatusActive {
		t.Fatalf("handle = %+v", handle)
	}
	got, err := m.Get(handle.ID)
	if err != nil || got.Contract != "strategy/1" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := m.Get(99); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("error = %v, want ErrHandleNotFound", err)
	}
}

func TestRegisterValidatesAffiliates(t *testing.T) {
	m := newTestManager()
	affiliates := []strategy.Affiliate{
		{Address: "a", Bps: 200},
		{Address: "b", Bps: 100},
	}
	if _, err := m.Register("owner", "strategy/1", "", affiliates); err == nil {
		t.Fatal("expected affiliate bps bound error")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	m := newTestManager()
	handle, err := m.Register("owner", "strategy/1", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := m.SetStatus(handle.ID, "mallory", strategy.StatusPaused); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}

	paused, err := m.SetStatus(handle.ID, "owner", strategy.StatusPaused)
	if err != nil || paused.Status != strategy.StatusPaused {
		t.Fatalf("pause = %+v, %v", paused, err)
	}
	archived, err := m.SetStatus(handle.ID, "owner", strategy.StatusArchived)
	if err != nil || archived.Status != strategy.StatusArchived {
		t.Fatalf("archive = %+v, %v", archived, err)
	}

	// Archived is terminal.
	if _, err := m.SetStatus(handle.ID, "owner", strategy.StatusPaused); !errors.Is(err, strategy.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestStrategyStatusQuerier(t *testing.T) {
	m := newTestManager()
	handle, err := m.Register("owner", "strategy/1", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	status, err := m.StrategyStatus(handle.ID)
	if err != nil || status != strategy.StatusActive {
		t.Fatalf("status = %s, %v", status, err)
	}
}

func TestOwnedAndWithStatus(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 3; i++ {
		if _, err := m.Register("owner", "strategy/x", "", nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := m.Register("other", "strategy/y", "", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.SetStatus(2, "owner", strategy.StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	owned, err := m.Owned("owner", 0, 0)
	if err != nil || len(owned) != 3 {
		t.Fatalf("owned = %d, %v, want 3", len(owned), err)
	}
	page, err := m.Owned("owner", 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != 2 {
		t.Fatalf("page = %+v, %v", page, err)
	}
	paused, err := m.WithStatus(strategy.StatusPaused, 0, 0)
	if err != nil || len(paused) != 1 || paused[0].ID != 2 {
		t.Fatalf("paused = %+v, %v", paused, err)
	}
}

package manager

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"calcchain/native/strategy"
)

var (
	ErrHandleNotFound = errors.New("manager: handle not found")
	ErrInvalidHandle  = errors.New("manager: invalid handle")
	ErrUnauthorized   = errors.New("manager: unauthorized")
	ErrNilStore       = errors.New("manager: store not configured")
)

// Handle is the registry record for one deployed strategy: who owns it,
// where it lives, its lifecycle status, and the affiliate metadata attached
// at creation. The registry is the source of truth for StrategyStatus
// conditions and for affiliate fee routing.
type Handle struct {
	ID         uint64               `json:"id"`
	Owner      string               `json:"owner"`
	Contract   string               `json:"contract"`
	Status     strategy.Status      `json:"status"`
	Label      string               `json:"label,omitempty"`
	Affiliates []strategy.Affiliate `json:"affiliates,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

func (h Handle) validate() error {
	if strings.TrimSpace(h.Owner) == "" {
		return fmt.Errorf("%w: owner required", ErrInvalidHandle)
	}
	if strings.TrimSpace(h.Contract) == "" {
		return fmt.Errorf("%w: contract required", ErrInvalidHandle)
	}
	if err := h.Status.Validate(); err != nil {
		return err
	}
	return strategy.ValidateAffiliates(h.Affiliates)
}

// Store persists registry handles.
type Store interface {
	NextHandleID() (uint64, error)
	PutHandle(handle Handle) error
	HandleByID(id uint64) (Handle, bool, error)
	ListHandles() ([]Handle, error)
}

// Manager is the strategy registry.
type Manager struct {
	store Store
	nowFn func() time.Time
}

// NewManager constructs a registry over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the time source. Nil restores the default.
func (m *Manager) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m.nowFn = now
}

// Register records a newly deployed strategy as Active.
func (m *Manager) Register(owner, contract, label string, affiliates []strategy.Affiliate) (Handle, error) {
	if m.store == nil {
		return Handle{}, ErrNilStore
	}
	id, err := m.store.NextHandleID()
	if err != nil {
		return Handle{}, err
	}
	now := m.nowFn()
	handle := Handle{
		ID:         id,
		Owner:      owner,
		Contract:   contract,
		Status:     strategy.StatusActive,
		Label:      label,
		Affiliates: affiliates,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := handle.validate(); err != nil {
		return Handle{}, err
	}
	if err := m.store.PutHandle(handle); err != nil {
		return Handle{}, err
	}
	return handle, nil
}

// Get returns a handle by id.
func (m *Manager) Get(id uint64) (Handle, error) {
	if m.store == nil {
		return Handle{}, ErrNilStore
	}
	handle, ok, err := m.store.HandleByID(id)
	if err != nil {
		return Handle{}, err
	}
	if !ok {
		return Handle{}, fmt.Errorf("%w: %d", ErrHandleNotFound, id)
	}
	return handle, nil
}

// SetStatus transitions a handle's lifecycle status under the owner's
// authority, enforcing that Archived is terminal.
func (m *Manager) SetStatus(id uint64, sender string, next strategy.Status) (Handle, error) {
	handle, err := m.Get(id)
	if err != nil {
		return Handle{}, err
	}
	if handle.Owner != sender {
		return Handle{}, fmt.Errorf("%w: %s does not own handle %d", ErrUnauthorized, sender, id)
	}
	if !handle.Status.CanTransitionTo(next) {
		return Handle{}, fmt.Errorf("%w: %s -> %s", strategy.ErrInvalidTransition, handle.Status, next)
	}
	handle.Status = next
	handle.UpdatedAt = m.nowFn()
	if err := m.store.PutHandle(handle); err != nil {
		return Handle{}, err
	}
	return handle, nil
}

// StrategyStatus implements strategy.StatusQuerier for condition evaluation.
func (m *Manager) StrategyStatus(id uint64) (strategy.Status, error) {
	handle, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return handle.Status, nil
}

// Owned returns an owner's handles in ascending id order with offset/limit
// pagination; a zero limit means no bound.
func (m *Manager) Owned(owner string, offset, limit int) ([]Handle, error) {
	return m.filtered(func(h Handle) bool { return h.Owner == owner }, offset, limit)
}

// WithStatus returns every handle in the given status, paginated.
func (m *Manager) WithStatus(status strategy.Status, offset, limit int) ([]Handle, error) {
	return m.filtered(func(h Handle) bool { return h.Status == status }, offset, limit)
}

func (m *Manager) filtered(keep func(Handle) bool, offset, limit int) ([]Handle, error) {
	if m.store == nil {
		return nil, ErrNilStore
	}
	handles, err := m.store.ListHandles()
	if err != nil {
		return nil, err
	}
	matched := make([]Handle, 0, len(handles))
	for _, handle := range handles {
		if keep(handle) {
			matched = append(matched, handle)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if offset >= len(matched) {
		return []Handle{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

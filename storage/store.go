package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"calcchain/native/manager"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
)

var (
	strategyPrefix = []byte("s/")
	callbackPrefix = []byte("c/")
	triggerPrefix  = []byte("t/")
	handlePrefix   = []byte("h/")
	sequencePrefix = []byte("q/")
)

// Store persists strategies, pending callbacks, triggers, and registry
// handles over a single Database. Ids are encoded big-endian so prefix scans
// return records in ascending id order.
type Store struct {
	db Database
}

// NewStore wraps a database.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

func prefixed(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// nextSequence atomically-enough bumps a named counter. Callers serialize
// writes at the engine layer, so read-modify-write is sufficient here.
func (s *Store) nextSequence(name string) (uint64, error) {
	key := append(append([]byte{}, sequencePrefix...), name...)
	var next uint64 = 1
	raw, err := s.db.Get(key)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("storage: corrupt sequence %q", name)
		}
		next = binary.BigEndian.Uint64(raw) + 1
	case errors.Is(err, ErrKeyNotFound):
	default:
		return 0, err
	}
	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, next)
	if err := s.db.Put(key, encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// --- strategy.Store ---

func (s *Store) NextStrategyID() (uint64, error) {
	return s.nextSequence("strategy")
}

func (s *Store) PutStrategy(st *strategy.Strategy) error {
	if st == nil {
		return fmt.Errorf("storage: nil strategy")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Put(prefixed(strategyPrefix, st.ID), raw)
}

func (s *Store) StrategyByID(id uint64) (*strategy.Strategy, bool, error) {
	raw, err := s.db.Get(prefixed(strategyPrefix, id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st strategy.Strategy
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

func (s *Store) ListStrategies() ([]*strategy.Strategy, error) {
	var out []*strategy.Strategy
	err := s.db.IteratePrefix(strategyPrefix, func(_, value []byte) error {
		var st strategy.Strategy
		if err := json.Unmarshal(value, &st); err != nil {
			return err
		}
		out = append(out, &st)
		return nil
	})
	return out, err
}

// callbackRecord binds a pending callback to the strategy awaiting it.
type callbackRecord struct {
	StrategyID uint64                   `json:"strategyId"`
	Callback   strategy.PendingCallback `json:"callback"`
}

func (s *Store) NextCallbackID() (uint64, error) {
	return s.nextSequence("callback")
}

func (s *Store) PutPendingCallback(strategyID uint64, cb strategy.PendingCallback) error {
	raw, err := json.Marshal(callbackRecord{StrategyID: strategyID, Callback: cb})
	if err != nil {
		return err
	}
	return s.db.Put(prefixed(callbackPrefix, cb.ID), raw)
}

func (s *Store) PendingCallback(id uint64) (uint64, strategy.PendingCallback, bool, error) {
	raw, err := s.db.Get(prefixed(callbackPrefix, id))
	if errors.Is(err, ErrKeyNotFound) {
		return 0, strategy.PendingCallback{}, false, nil
	}
	if err != nil {
		return 0, strategy.PendingCallback{}, false, err
	}
	var record callbackRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return 0, strategy.PendingCallback{}, false, err
	}
	return record.StrategyID, record.Callback, true, nil
}

func (s *Store) DeletePendingCallback(id uint64) error {
	return s.db.Delete(prefixed(callbackPrefix, id))
}

// PendingCallbackCount returns the number of unresolved callback envelopes.
func (s *Store) PendingCallbackCount() (int, error) {
	count := 0
	err := s.db.IteratePrefix(callbackPrefix, func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

// --- scheduler.Store ---

func (s *Store) PutTrigger(trigger scheduler.Trigger) error {
	raw, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	return s.db.Put(prefixed(triggerPrefix, trigger.ID), raw)
}

func (s *Store) TriggerByID(id uint64) (scheduler.Trigger, bool, error) {
	raw, err := s.db.Get(prefixed(triggerPrefix, id))
	if errors.Is(err, ErrKeyNotFound) {
		return scheduler.Trigger{}, false, nil
	}
	if err != nil {
		return scheduler.Trigger{}, false, err
	}
	var trigger scheduler.Trigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		return scheduler.Trigger{}, false, err
	}
	return trigger, true, nil
}

func (s *Store) DeleteTrigger(id uint64) error {
	return s.db.Delete(prefixed(triggerPrefix, id))
}

func (s *Store) ListTriggers() ([]scheduler.Trigger, error) {
	var out []scheduler.Trigger
	err := s.db.IteratePrefix(triggerPrefix, func(_, value []byte) error {
		var trigger scheduler.Trigger
		if err := json.Unmarshal(value, &trigger); err != nil {
			return err
		}
		out = append(out, trigger)
		return nil
	})
	return out, err
}

// --- manager.Store ---

func (s *Store) NextHandleID() (uint64, error) {
	return s.nextSequence("handle")
}

func (s *Store) PutHandle(handle manager.Handle) error {
	raw, err := json.Marshal(handle)
	if err != nil {
		return err
	}
	return s.db.Put(prefixed(handlePrefix, handle.ID), raw)
}

func (s *Store) HandleByID(id uint64) (manager.Handle, bool, error) {
	raw, err := s.db.Get(prefixed(handlePrefix, id))
	if errors.Is(err, ErrKeyNotFound) {
		return manager.Handle{}, false, nil
	}
	if err != nil {
		return manager.Handle{}, false, err
	}
	var handle manager.Handle
	if err := json.Unmarshal(raw, &handle); err != nil {
		return manager.Handle{}, false, err
	}
	return handle, true, nil
}

func (s *Store) ListHandles() ([]manager.Handle, error) {
	var out []manager.Handle
	err := s.db.IteratePrefix(handlePrefix, func(_, value []byte) error {
		var handle manager.Handle
		if err := json.Unmarshal(value, &handle); err != nil {
			return err
		}
		out = append(out, handle)
		return nil
	})
	return out, err
}

var (
	_ strategy.Store  = (*Store)(nil)
	_ scheduler.Store = (*Store)(nil)
	_ manager.Store   = (*Store)(nil)
)

package strategy

import "calcchain/core/types"

// Statistics accumulates the lifetime flows of one strategy: coins debited
// from its account by swaps and orders, and coins credited per recipient by
// fills and distributions.
type Statistics struct {
	Debited  types.Coins            `json:"debited"`
	Credited map[string]types.Coins `json:"credited,omitempty"`
}

// Debit records coins leaving the strategy account.
func (s *Statistics) Debit(coin types.Coin) error {
	return s.Debited.Add(coin)
}

// Credit records coins arriving at a recipient.
func (s *Statistics) Credit(recipient string, coin types.Coin) error {
	if coin.IsZero() {
		return nil
	}
	if s.Credited == nil {
		s.Credited = make(map[string]types.Coins)
	}
	coins := s.Credited[recipient]
	if err := coins.Add(coin); err != nil {
		return err
	}
	s.Credited[recipient] = coins
	return nil
}

// Merge folds another statistics record into this one.
func (s *Statistics) Merge(other Statistics) error {
	for _, coin := range other.Debited.Slice() {
		if err := s.Debit(coin); err != nil {
			return err
		}
	}
	for recipient, coins := range other.Credited {
		for _, coin := range coins.Slice() {
			if err := s.Credit(recipient, coin); err != nil {
				return err
			}
		}
	}
	return nil
}

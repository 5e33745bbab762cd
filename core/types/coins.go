package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Coins is a denom-sorted collection with at most one entry per denom and no
// zero-amount entries. The zero value is an empty, usable collection.
type Coins struct {
	coins []Coin
}

// NewCoins builds a collection from the supplied coins, merging duplicates.
func NewCoins(coins ...Coin) (Coins, error) {
	out := Coins{}
	for _, coin := range coins {
		if err := out.Add(coin); err != nil {
			return Coins{}, err
		}
	}
	return out, nil
}

// Add merges a coin into the collection.
func (cs *Coins) Add(coin Coin) error {
	if err := coin.Validate(); err != nil {
		return err
	}
	if coin.IsZero() {
		return nil
	}
	for i := range cs.coins {
		if cs.coins[i].Denom == coin.Denom {
			cs.coins[i].Amount = new(big.Int).Add(cs.coins[i].Amount, coin.Amount)
			return nil
		}
	}
	cs.coins = append(cs.coins, coin.Clone())
	sort.Slice(cs.coins, func(i, j int) bool { return cs.coins[i].Denom < cs.coins[j].Denom })
	return nil
}

// Sub removes a coin from the collection, erroring on underflow.
func (cs *Coins) Sub(coin Coin) error {
	if err := coin.Validate(); err != nil {
		return err
	}
	if coin.IsZero() {
		return nil
	}
	for i := range cs.coins {
		if cs.coins[i].Denom != coin.Denom {
			continue
		}
		if cs.coins[i].Amount.Cmp(coin.Amount) < 0 {
			return fmt.Errorf("types: subtracting %s exceeds balance %s", coin, cs.coins[i])
		}
		cs.coins[i].Amount = new(big.Int).Sub(cs.coins[i].Amount, coin.Amount)
		if cs.coins[i].Amount.Sign() == 0 {
			cs.coins = append(cs.coins[:i], cs.coins[i+1:]...)
		}
		return nil
	}
	return fmt.Errorf("types: subtracting %s from empty balance", coin)
}

// AmountOf returns the held amount of denom, zero when absent.
func (cs Coins) AmountOf(denom string) *big.Int {
	for _, coin := range cs.coins {
		if coin.Denom == denom {
			return new(big.Int).Set(coin.Amount)
		}
	}
	return big.NewInt(0)
}

// IsZero reports whether the collection holds no coins.
func (cs Coins) IsZero() bool { return len(cs.coins) == 0 }

// Len returns the number of distinct denominations held.
func (cs Coins) Len() int { return len(cs.coins) }

// Slice returns a defensive copy of the underlying coins in denom order.
func (cs Coins) Slice() []Coin {
	out := make([]Coin, 0, len(cs.coins))
	for _, coin := range cs.coins {
		out = append(out, coin.Clone())
	}
	return out
}

// Filter returns the subset of the collection restricted to the given denoms.
func (cs Coins) Filter(denoms map[string]struct{}) Coins {
	out := Coins{}
	for _, coin := range cs.coins {
		if _, ok := denoms[coin.Denom]; ok {
			_ = out.Add(coin)
		}
	}
	return out
}

// String renders the collection as a comma-separated coin list.
func (cs Coins) String() string {
	if len(cs.coins) == 0 {
		return ""
	}
	out := cs.coins[0].String()
	for _, coin := range cs.coins[1:] {
		out += "," + coin.String()
	}
	return out
}

// MarshalJSON encodes the collection as a plain coin array.
func (cs Coins) MarshalJSON() ([]byte, error) {
	coins := cs.coins
	if coins == nil {
		coins = []Coin{}
	}
	return json.Marshal(coins)
}

// UnmarshalJSON rebuilds the collection from a coin array, re-applying the
// merge and ordering invariants.
func (cs *Coins) UnmarshalJSON(data []byte) error {
	var coins []Coin
	if err := json.Unmarshal(data, &coins); err != nil {
		return err
	}
	rebuilt, err := NewCoins(coins...)
	if err != nil {
		return err
	}
	*cs = rebuilt
	return nil
}

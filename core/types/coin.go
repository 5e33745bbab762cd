package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInvalidDenom indicates a coin was constructed with an empty denomination.
	ErrInvalidDenom = errors.New("types: invalid denom")
	// ErrNegativeAmount indicates a coin amount dropped below zero.
	ErrNegativeAmount = errors.New("types: negative amount")
)

// Coin is an amount of a single denomination. Amounts are arbitrary-precision
// integers in the chain's base units.
type Coin struct {
	Denom  string
	Amount *big.Int
}

// NewCoin returns a coin for the given denom and amount.
func NewCoin(denom string, amount *big.Int) Coin {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return Coin{Denom: denom, Amount: new(big.Int).Set(amount)}
}

// NewCoinFromUint64 is a convenience constructor for test fixtures and
// configuration defaults.
func NewCoinFromUint64(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: new(big.Int).SetUint64(amount)}
}

// Clone returns a deep copy of the coin.
func (c Coin) Clone() Coin {
	return NewCoin(c.Denom, c.Amount)
}

// IsZero reports whether the amount is zero (or unset).
func (c Coin) IsZero() bool {
	return c.Amount == nil || c.Amount.Sign() == 0
}

// Validate checks the structural invariants of the coin.
func (c Coin) Validate() error {
	if strings.TrimSpace(c.Denom) == "" {
		return ErrInvalidDenom
	}
	if c.Amount != nil && c.Amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// String renders the coin as "<amount><denom>".
func (c Coin) String() string {
	amount := big.NewInt(0)
	if c.Amount != nil {
		amount = c.Amount
	}
	return fmt.Sprintf("%s%s", amount.String(), c.Denom)
}

type coinJSON struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// MarshalJSON encodes the amount as a decimal string so values survive
// round-trips through JSON without precision loss.
func (c Coin) MarshalJSON() ([]byte, error) {
	amount := big.NewInt(0)
	if c.Amount != nil {
		amount = c.Amount
	}
	return json.Marshal(coinJSON{Denom: c.Denom, Amount: amount.String()})
}

// UnmarshalJSON decodes the string-amount form produced by MarshalJSON.
func (c *Coin) UnmarshalJSON(data []byte) error {
	var raw coinJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw.Amount), 10)
	if !ok {
		return fmt.Errorf("types: invalid coin amount %q", raw.Amount)
	}
	decoded := Coin{Denom: raw.Denom, Amount: amount}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}

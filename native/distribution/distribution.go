package distribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"calcchain/core/types"
	"calcchain/native/strategy"
)

var (
	ErrNoDestinations    = errors.New("distribution: no destinations")
	ErrInvalidShares     = errors.New("distribution: invalid shares")
	ErrInvalidRecipient  = errors.New("distribution: invalid recipient")
	ErrInsufficientTotal = errors.New("distribution: total shares below minimum")
)

// MinimumTotalShares keeps share arithmetic meaningful: with fewer total
// shares the floor division loses too much to rounding.
const MinimumTotalShares = 10_000

// Recipient is where one destination's cut goes. Exactly one variant field
// is set: a bank transfer, a contract call carrying the payout as funds, or
// a memo-addressed bridge deposit.
type Recipient struct {
	Bank     *BankRecipient     `json:"bank,omitempty"`
	Contract *ContractRecipient `json:"contract,omitempty"`
	Deposit  *DepositRecipient  `json:"deposit,omitempty"`
}

type BankRecipient struct {
	Address string `json:"address"`
}

type ContractRecipient struct {
	Address string          `json:"address"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type DepositRecipient struct {
	Memo string `json:"memo"`
}

func (r Recipient) validate() error {
	set := 0
	if r.Bank != nil {
		set++
		if strings.TrimSpace(r.Bank.Address) == "" {
			return fmt.Errorf("%w: bank recipient requires an address", ErrInvalidRecipient)
		}
	}
	if r.Contract != nil {
		set++
		if strings.TrimSpace(r.Contract.Address) == "" {
			return fmt.Errorf("%w: contract recipient requires an address", ErrInvalidRecipient)
		}
	}
	if r.Deposit != nil {
		set++
		if strings.TrimSpace(r.Deposit.Memo) == "" {
			return fmt.Errorf("%w: deposit recipient requires a memo", ErrInvalidRecipient)
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one variant must be set, got %d", ErrInvalidRecipient, set)
	}
	return nil
}

// key identifies the recipient for statistics bookkeeping.
func (r Recipient) key() string {
	switch {
	case r.Bank != nil:
		return r.Bank.Address
	case r.Contract != nil:
		return r.Contract.Address
	case r.Deposit != nil:
		return "deposit:" + r.Deposit.Memo
	default:
		return ""
	}
}

// Destination is one proportional payout target.
type Destination struct {
	Shares    *big.Int  `json:"shares"`
	Recipient Recipient `json:"recipient"`
	Label     string    `json:"label,omitempty"`
}

// ValidateDestinations checks recipients, share positivity, and the minimum
// total share requirement.
func ValidateDestinations(destinations []Destination) error {
	if len(destinations) == 0 {
		return ErrNoDestinations
	}
	total := big.NewInt(0)
	for _, dest := range destinations {
		if dest.Shares == nil || dest.Shares.Sign() <= 0 {
			return fmt.Errorf("%w: shares must be positive", ErrInvalidShares)
		}
		if err := dest.Recipient.validate(); err != nil {
			return err
		}
		total.Add(total, dest.Shares)
	}
	if total.Cmp(big.NewInt(MinimumTotalShares)) < 0 {
		return fmt.Errorf("%w: %s < %d", ErrInsufficientTotal, total, MinimumTotalShares)
	}
	return nil
}

// Payout is one destination's allocated coins.
type Payout struct {
	Destination Destination `json:"destination"`
	Coins       types.Coins `json:"coins"`
}

// Allocate splits balances across destinations proportionally to shares.
// Each denom is floor-divided and the rounding remainder goes to the last
// destination, so the split always conserves the input exactly. Zero-amount
// payouts are filtered before emission.
func Allocate(balances types.Coins, destinations []Destination) ([]Payout, error) {
	if err := ValidateDestinations(destinations); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, dest := range destinations {
		total.Add(total, dest.Shares)
	}

	allocated := make([]types.Coins, len(destinations))
	for _, coin := range balances.Slice() {
		remainder := new(big.Int).Set(coin.Amount)
		for i, dest := range destinations {
			var cut *big.Int
			if i == len(destinations)-1 {
				cut = remainder
			} else {
				cut = new(big.Int).Mul(coin.Amount, dest.Shares)
				cut.Div(cut, total)
				remainder.Sub(remainder, cut)
			}
			if cut.Sign() == 0 {
				continue
			}
			if err := allocated[i].Add(types.NewCoin(coin.Denom, cut)); err != nil {
				return nil, err
			}
		}
	}

	payouts := make([]Payout, 0, len(destinations))
	for i, dest := range destinations {
		if allocated[i].IsZero() {
			continue
		}
		payouts = append(payouts, Payout{Destination: dest, Coins: allocated[i]})
	}
	return payouts, nil
}

// WithAffiliates appends affiliate destinations taking ceil(bps) shares of
// the existing total, so the affiliates' cut is measured against the payout
// the owner configured rather than diluting each other.
func WithAffiliates(destinations []Destination, affiliates []strategy.Affiliate) ([]Destination, error) {
	if err := ValidateDestinations(destinations); err != nil {
		return nil, err
	}
	if err := strategy.ValidateAffiliates(affiliates); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, dest := range destinations {
		total.Add(total, dest.Shares)
	}
	out := make([]Destination, 0, len(destinations)+len(affiliates))
	out = append(out, destinations...)
	for _, affiliate := range affiliates {
		shares := new(big.Int).Mul(total, new(big.Int).SetUint64(affiliate.Bps))
		// ceil division by 10000
		shares.Add(shares, big.NewInt(9_999))
		shares.Div(shares, big.NewInt(10_000))
		out = append(out, Destination{
			Shares:    shares,
			Recipient: Recipient{Bank: &BankRecipient{Address: affiliate.Address}},
			Label:     affiliate.Label,
		})
	}
	return out, nil
}

// Effects converts payouts into deferred effects for the host to dispatch.
func Effects(payouts []Payout) []types.Effect {
	effects := make([]types.Effect, 0, len(payouts))
	for _, payout := range payouts {
		recipient := payout.Destination.Recipient
		switch {
		case recipient.Bank != nil:
			effects = append(effects, types.Effect{
				Send: &types.SendEffect{To: recipient.Bank.Address, Amount: payout.Coins},
			})
		case recipient.Contract != nil:
			effects = append(effects, types.Effect{
				Invoke: &types.InvokeEffect{
					Target:  recipient.Contract.Address,
					Payload: recipient.Contract.Payload,
					Funds:   payout.Coins,
				},
			})
		case recipient.Deposit != nil:
			effects = append(effects, types.Effect{
				Deposit: &types.DepositEffect{Memo: recipient.Deposit.Memo, Coins: payout.Coins},
			})
		}
	}
	return effects
}

// Record folds payouts into a strategy's statistics.
func Record(stats *strategy.Statistics, payouts []Payout) error {
	for _, payout := range payouts {
		for _, coin := range payout.Coins.Slice() {
			if err := stats.Credit(payout.Destination.Recipient.key(), coin); err != nil {
				return err
			}
		}
	}
	return nil
}

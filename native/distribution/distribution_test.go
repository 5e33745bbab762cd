package distribution

import (
	"errors"
	"math/big"
	"testing"

	"calcchain/core/types"
	"calcchain/native/strategy"
)

func bankDest(address string, shares int64) Destination {
	return Destination{
		Shares:    big.NewInt(shares),
		Recipient: Recipient{Bank: &BankRecipient{Address: address}},
	}
}

func mustCoins(t *testing.T, coins ...types.Coin) types.Coins {
	t.Helper()
	out, err := types.NewCoins(coins...)
	if err != nil {
		t.Fatalf("coins: %v", err)
	}
	return out
}

func TestValidateDestinations(t *testing.T) {
	tests := []struct {
		name         string
		destinations []Destination
		wantErr      error
	}{
		{
			name:    "empty",
			wantErr: ErrNoDestinations,
		},
		{
			name:         "below minimum total",
			destinations: []Destination{bankDest("a", 5_000), bankDest("b", 4_999)},
			wantErr:      ErrInsufficientTotal,
		},
		{
			name:         "at minimum total",
			destinations: []Destination{bankDest("a", 5_000), bankDest("b", 5_000)},
		},
		{
			name:         "zero shares",
			destinations: []Destination{bankDest("a", 0), bankDest("b", 10_000)},
			wantErr:      ErrInvalidShares,
		},
		{
			name:         "nil shares",
			destinations: []Destination{{Recipient: Recipient{Bank: &BankRecipient{Address: "a"}}}},
			wantErr:      ErrInvalidShares,
		},
		{
			name: "no recipient variant",
			destinations: []Destination{
				{Shares: big.NewInt(10_000), Recipient: Recipient{}},
			},
			wantErr: ErrInvalidRecipient,
		},
		{
			name: "two recipient variants",
			destinations: []Destination{
				{Shares: big.NewInt(10_000), Recipient: Recipient{
					Bank:    &BankRecipient{Address: "a"},
					Deposit: &DepositRecipient{Memo: "=:BTC:addr"},
				}},
			},
			wantErr: ErrInvalidRecipient,
		},
		{
			name: "blank bank address",
			destinations: []Destination{
				{Shares: big.NewInt(10_000), Recipient: Recipient{Bank: &BankRecipient{Address: "  "}}},
			},
			wantErr: ErrInvalidRecipient,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDestinations(tc.destinations)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAllocateProportionalSplit(t *testing.T) {
	destinations := []Destination{
		bankDest("a", 6_000),
		bankDest("b", 3_000),
		bankDest("c", 1_000),
	}
	balances := mustCoins(t, types.NewCoinFromUint64("urune", 1_000))

	payouts, err := Allocate(balances, destinations)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(payouts) != 3 {
		t.Fatalf("payouts = %d, want 3", len(payouts))
	}
	want := []int64{600, 300, 100}
	for i, payout := range payouts {
		if got := payout.Coins.AmountOf("urune"); got.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("payout[%d] = %s, want %d", i, got, want[i])
		}
	}
}

func TestAllocateRemainderGoesToLast(t *testing.T) {
	destinations := []Destination{
		bankDest("a", 3_333),
		bankDest("b", 3_333),
		bankDest("c", 3_334),
	}
	balances := mustCoins(t, types.NewCoinFromUint64("urune", 100))

	payouts, err := Allocate(balances, destinations)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// floor(100*3333/10000) = 33 twice, last takes 100-66 = 34.
	want := []int64{33, 33, 34}
	total := big.NewInt(0)
	for i, payout := range payouts {
		got := payout.Coins.AmountOf("urune")
		if got.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("payout[%d] = %s, want %d", i, got, want[i])
		}
		total.Add(total, got)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("total = %s, want 100", total)
	}
}

func TestAllocateFiltersZeroPayouts(t *testing.T) {
	destinations := []Destination{
		bankDest("a", 9_999),
		bankDest("b", 1),
	}
	balances := mustCoins(t, types.NewCoinFromUint64("urune", 3))

	payouts, err := Allocate(balances, destinations)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// floor(3*9999/10000) = 2 to "a", remainder 1 to the last, nothing dropped.
	if len(payouts) != 2 {
		t.Fatalf("payouts = %d, want 2", len(payouts))
	}

	// With the tiny destination first its floor share is zero and it is
	// filtered from the result.
	reversed := []Destination{destinations[1], destinations[0]}
	payouts, err = Allocate(balances, reversed)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Destination.Recipient.Bank.Address != "a" {
		t.Fatalf("payouts = %+v, want only a", payouts)
	}
	if got := payouts[0].Coins.AmountOf("urune"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("amount = %s, want 3", got)
	}
}

func TestAllocateMultipleDenoms(t *testing.T) {
	destinations := []Destination{
		bankDest("a", 5_000),
		bankDest("b", 5_000),
	}
	balances := mustCoins(t,
		types.NewCoinFromUint64("uatom", 7),
		types.NewCoinFromUint64("urune", 100),
	)

	payouts, err := Allocate(balances, destinations)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("payouts = %d, want 2", len(payouts))
	}
	if got := payouts[0].Coins.AmountOf("uatom"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("a uatom = %s, want floor 3", got)
	}
	if got := payouts[1].Coins.AmountOf("uatom"); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("b uatom = %s, want remainder 4", got)
	}
	if got := payouts[0].Coins.AmountOf("urune"); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("a urune = %s, want 50", got)
	}
}

func TestWithAffiliatesAppendsCeilShares(t *testing.T) {
	destinations := []Destination{bankDest("owner", 10_001)}
	affiliates := []strategy.Affiliate{{Address: "partner", Bps: 50, Label: "referrer"}}

	out, err := WithAffiliates(destinations, affiliates)
	if err != nil {
		t.Fatalf("with affiliates: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("destinations = %d, want 2", len(out))
	}
	// ceil(10001 * 50 / 10000) = 51.
	appended := out[1]
	if appended.Shares.Cmp(big.NewInt(51)) != 0 {
		t.Fatalf("shares = %s, want 51", appended.Shares)
	}
	if appended.Recipient.Bank == nil || appended.Recipient.Bank.Address != "partner" {
		t.Fatalf("recipient = %+v, want bank partner", appended.Recipient)
	}
	if appended.Label != "referrer" {
		t.Fatalf("label = %q", appended.Label)
	}
}

func TestWithAffiliatesRejectsOverBound(t *testing.T) {
	destinations := []Destination{bankDest("owner", 10_000)}
	affiliates := []strategy.Affiliate{
		{Address: "a", Bps: 200},
		{Address: "b", Bps: 100},
	}
	if _, err := WithAffiliates(destinations, affiliates); err == nil {
		t.Fatal("expected aggregate bps bound error")
	}
}

func TestEffects(t *testing.T) {
	coins := mustCoins(t, types.NewCoinFromUint64("urune", 10))
	payouts := []Payout{
		{Destination: bankDest("a", 10_000), Coins: coins},
		{Destination: Destination{
			Shares:    big.NewInt(10_000),
			Recipient: Recipient{Contract: &ContractRecipient{Address: "pool", Payload: []byte(`{"deposit":{}}`)}},
		}, Coins: coins},
		{Destination: Destination{
			Shares:    big.NewInt(10_000),
			Recipient: Recipient{Deposit: &DepositRecipient{Memo: "=:BTC:addr"}},
		}, Coins: coins},
	}

	effects := Effects(payouts)
	if len(effects) != 3 {
		t.Fatalf("effects = %d, want 3", len(effects))
	}
	if effects[0].Send == nil || effects[0].Send.To != "a" {
		t.Fatalf("effect 0 = %+v, want send", effects[0])
	}
	if effects[1].Invoke == nil || effects[1].Invoke.Target != "pool" {
		t.Fatalf("effect 1 = %+v, want invoke", effects[1])
	}
	if effects[2].Deposit == nil || effects[2].Deposit.Memo != "=:BTC:addr" {
		t.Fatalf("effect 2 = %+v, want deposit", effects[2])
	}
}

func TestRecordCreditsRecipients(t *testing.T) {
	destinations := []Destination{
		bankDest("a", 6_000),
		bankDest("b", 4_000),
	}
	balances := mustCoins(t, types.NewCoinFromUint64("urune", 100))
	payouts, err := Allocate(balances, destinations)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	var stats strategy.Statistics
	if err := Record(&stats, payouts); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := stats.Credited["a"].AmountOf("urune"); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("a credited = %s, want 60", got)
	}
	if got := stats.Credited["b"].AmountOf("urune"); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("b credited = %s, want 40", got)
	}
}

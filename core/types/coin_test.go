package types

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestCoinUnmarshalDecodesStringAmount(t *testing.T) {
	var coin Coin
	if err := json.Unmarshal([]byte(`{"denom":"uatom","amount":"12345678901234567890"}`), &coin); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want, _ := new(big.Int).SetString("12345678901234567890", 10)
	if coin.Denom != "uatom" || coin.Amount.Cmp(want) != 0 {
		t.Fatalf("coin = %s, want 12345678901234567890uatom", coin)
	}
}

func TestCoinUnmarshalRejectsInvalidCoins(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "negative amount", input: `{"denom":"uatom","amount":"-5"}`, wantErr: ErrNegativeAmount},
		{name: "empty denom", input: `{"denom":"","amount":"5"}`, wantErr: ErrInvalidDenom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coin := NewCoinFromUint64("urune", 7)
			err := json.Unmarshal([]byte(tc.input), &coin)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			// A rejected payload must not clobber the receiver.
			if coin.Denom != "urune" || coin.Amount.Cmp(big.NewInt(7)) != 0 {
				t.Fatalf("coin mutated to %s after failed decode", coin)
			}
		})
	}
}

func TestCoinAndCoinsDecodersAgree(t *testing.T) {
	payload := `{"denom":"uatom","amount":"-5"}`
	var coin Coin
	coinErr := json.Unmarshal([]byte(payload), &coin)
	var coins Coins
	coinsErr := json.Unmarshal([]byte("["+payload+"]"), &coins)
	if !errors.Is(coinErr, ErrNegativeAmount) || !errors.Is(coinsErr, ErrNegativeAmount) {
		t.Fatalf("coin err = %v, coins err = %v, want ErrNegativeAmount from both", coinErr, coinsErr)
	}
}

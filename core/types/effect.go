package types

import "encoding/json"

// Effect is a deferred side effect produced by an interpreter pass. Effects
// are data: the engine never performs external calls in-line, it returns the
// list of effects for the host to dispatch after the invocation commits.
// Exactly one of the payload fields is set.
type Effect struct {
	Send    *SendEffect    `json:"send,omitempty"`
	Invoke  *InvokeEffect  `json:"invoke,omitempty"`
	Deposit *DepositEffect `json:"deposit,omitempty"`

	// CallbackID identifies the reliable-delivery envelope for this effect.
	// A non-zero id means the dispatcher must report success or failure back
	// through the pending-callback table; zero means fire-and-forget.
	CallbackID uint64 `json:"callbackId,omitempty"`
}

// SendEffect transfers coins to a bank address.
type SendEffect struct {
	To     string `json:"to"`
	Amount Coins  `json:"amount"`
}

// InvokeEffect calls another contract/service with an opaque payload and
// optional attached funds.
type InvokeEffect struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
	Funds   Coins           `json:"funds"`
}

// DepositEffect performs a memo-addressed deposit against the native bridge.
type DepositEffect struct {
	Memo  string `json:"memo"`
	Coins Coins  `json:"coins"`
}

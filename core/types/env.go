package types

import "time"

// Env is the world-state identity for one invocation: the block height and
// time the engine evaluates against, and the strategy account the invocation
// runs as. Every query made during the invocation is consistent with it.
type Env struct {
	Height   uint64
	Time     time.Time
	Contract string
}

// Package clock provides an injectable wall-clock source so every
// TTL/expiry computation in the system (KV entries, device codes, token
// claims) can be driven deterministically from tests instead of sleeping.
package clock

import "github.com/jonboulle/clockwork"

// Clock is the time source every component that deals in TTLs or token
// expiry depends on, instead of calling time.Now directly.
type Clock = clockwork.Clock

// New returns the real, monotonic wall-clock source used in production.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a controllable clock for tests, starting at clockwork's
// default fake-clock instant.
func NewFake() clockwork.FakeClock {
	return clockwork.NewFakeClock()
}

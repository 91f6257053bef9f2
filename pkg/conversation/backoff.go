package conversation

import (
	"math/rand"
	"time"
)

// Backoff produces reconnect delays: exponential from Initial to Cap,
// plus uniform jitter in [0, Jitter). There is no attempt ceiling; a
// permanent appliance retries forever.
type Backoff struct {
	// Initial is the first delay.
	Initial time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
	// Jitter is the exclusive upper bound of the random component.
	Jitter time.Duration

	current time.Duration
}

// NewBackoff returns the reconnect policy used for backend sessions:
// 1 s doubling to a 10 s cap with up to 250 ms of jitter.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial: time.Second,
		Cap:     10 * time.Second,
		Jitter:  250 * time.Millisecond,
	}
}

// Next returns the delay for the next attempt and advances the policy.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current
	b.current *= 2
	if b.current > b.Cap {
		b.current = b.Cap
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Reset restores the initial delay after a successful connection.
func (b *Backoff) Reset() {
	b.current = 0
}

package turn

import "sync/atomic"

// Flags carries the cross-goroutine booleans shared between the turn
// logic and the hardware collaborators. It is passed explicitly to
// every component that needs it; there is no package-level state.
type Flags struct {
	muted atomic.Bool
	stop  atomic.Bool
}

// NewFlags returns flags in the unmuted, running state.
func NewFlags() *Flags {
	return &Flags{}
}

// SetMuted updates the microphone mute state.
func (f *Flags) SetMuted(muted bool) {
	f.muted.Store(muted)
}

// Muted reports whether the microphone is muted.
func (f *Flags) Muted() bool {
	return f.muted.Load()
}

// RequestStop asks every long-running loop to wind down. It is set by
// the termination signal handler and never cleared.
func (f *Flags) RequestStop() {
	f.stop.Store(true)
}

// Stopping reports whether shutdown has been requested.
func (f *Flags) Stopping() bool {
	return f.stop.Load()
}

package turn

// ForcedEnd is a single-slot signal any collaborator may raise to cut
// the current user turn short. At most one end is pending at a time;
// raising it again before the controller consumes it is a no-op.
type ForcedEnd struct {
	ch chan struct{}
}

// NewForcedEnd creates an unraised signal.
func NewForcedEnd() *ForcedEnd {
	return &ForcedEnd{ch: make(chan struct{}, 1)}
}

// Set raises the signal. Safe to call from any goroutine; never blocks.
func (f *ForcedEnd) Set() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Consume clears the signal and reports whether it was raised.
func (f *ForcedEnd) Consume() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Pending reports whether a forced end is waiting without clearing it.
func (f *ForcedEnd) Pending() bool {
	return len(f.ch) > 0
}

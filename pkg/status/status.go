// Package status drives the device's single-character animation
// protocol. Codes are fire-and-forget: a broken display must never
// take the conversation down with it.
package status

import "sync"

// Code is one animation state understood by the display firmware.
type Code byte

const (
	// Splash is the idle attract animation shown before any session.
	Splash Code = 'S'
	// Loading is the generic "working" animation.
	Loading Code = 'L'
	// Listening shows the microphone is live.
	Listening Code = 'U'
	// Muted shows the microphone is muted.
	Muted Code = 'M'
	// ScanMuted shows capture suppressed by a tag scan or VAD mute.
	ScanMuted Code = 'N'
	// Speaking shows the agent is talking.
	Speaking Code = 'O'
	// Shutdown locks the display for power-off. It is the final code
	// sent on every exit path.
	Shutdown Code = 'B'
)

// Sink receives animation codes. Implementations must be safe for
// concurrent use and must swallow their own failures.
type Sink interface {
	Write(code Code)
	Close() error
}

// Nop discards every code. Used when no display is attached.
type Nop struct{}

func (Nop) Write(Code) {}

func (Nop) Close() error { return nil }

// Recorder captures codes for test assertions.
type Recorder struct {
	mu    sync.Mutex
	codes []Code
}

// Write records one code.
func (r *Recorder) Write(code Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Codes returns a copy of everything written so far.
func (r *Recorder) Codes() []Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Code, len(r.codes))
	copy(out, r.codes)
	return out
}

// Last returns the most recent code, or 0 if none.
func (r *Recorder) Last() Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return 0
	}
	return r.codes[len(r.codes)-1]
}

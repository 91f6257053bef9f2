// Package button folds mute-button edges into the shared mute flag.
// The hardware watcher debounces and duration-filters presses before
// they get here; this package sees only clean transitions.
package button

import (
	"context"
	"log/slog"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
)

// Edge is one clean press or release transition.
type Edge struct {
	Pressed bool
	At      time.Time
}

// Tracker applies button edges to the mute flag. Press unmutes so
// speech starts instantly; release mutes. Outside the active state
// (set by the orchestrator) edges are ignored entirely.
type Tracker struct {
	flags  *turn.Flags
	stat   status.Sink
	active func() bool
	logger *slog.Logger

	pressedAt time.Time
}

// NewTracker creates a tracker. active may be nil, meaning the button
// is always live; stat may be nil.
func NewTracker(flags *turn.Flags, stat status.Sink, active func() bool, logger *slog.Logger) *Tracker {
	if stat == nil {
		stat = status.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{flags: flags, stat: stat, active: active, logger: logger}
}

// Run folds edges until ctx is cancelled or the channel closes.
func (t *Tracker) Run(ctx context.Context, edges <-chan Edge) {
	for {
		select {
		case <-ctx.Done():
			return
		case edge, ok := <-edges:
			if !ok {
				return
			}
			t.Handle(edge)
		}
	}
}

// Handle applies one edge.
func (t *Tracker) Handle(edge Edge) {
	if t.active != nil && !t.active() {
		return
	}

	at := edge.At
	if at.IsZero() {
		at = time.Now()
	}

	if edge.Pressed {
		t.pressedAt = at
		t.flags.SetMuted(false)
		t.stat.Write(status.Listening)
		t.logger.Debug("button pressed, unmuted")
		return
	}

	held := time.Duration(0)
	if !t.pressedAt.IsZero() {
		held = at.Sub(t.pressedAt)
		t.pressedAt = time.Time{}
	}
	t.flags.SetMuted(true)
	t.stat.Write(status.Muted)
	t.logger.Debug("button released, muted", "held_ms", held.Milliseconds())
}

package tags

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/conversation"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
)

// Control phrases understood by the session state machine. Every
// other mapped phrase is forwarded to the agent verbatim.
const (
	phraseBegin  = "AGENT_START"
	phraseReload = "TEST"
)

// Control is a tag-triggered request to the orchestrator.
type Control int

const (
	// ControlBegin asks to start a conversation session.
	ControlBegin Control = iota
	// ControlReload asks for a configuration hot reload.
	ControlReload
)

// Event is one scanned tag, as delivered by the hardware reader.
type Event struct {
	TagID string
	At    time.Time
}

// DefaultDebounce suppresses re-reads of a tag still resting on the
// antenna.
const DefaultDebounce = 1500 * time.Millisecond

// Router consumes scanned tag events. Control tags surface on
// Controls(); phrase tags force the current turn to end and inject
// the phrase into the conversation, buffering it while offline.
//
// Router implements the scan gate the turn controller uses to
// suppress tags during recording.
type Router struct {
	tagMap   *Map
	forced   *turn.ForcedEnd
	queue    *conversation.PendingQueue
	logger   *slog.Logger
	debounce time.Duration

	// OnScan, when set, runs for every matched tag before routing.
	// The appliance hooks audible beep feedback here.
	OnScan func(phrase string)

	// Conversing, when set, gates phrase tags: outside an active
	// conversation there is no turn to force-end and nobody to answer
	// the phrase, so it is dropped. Control tags always route.
	Conversing func() bool

	enabled  atomic.Bool
	controls chan Control

	mu       sync.Mutex
	sender   conversation.TextSender
	lastUID  string
	lastSeen time.Time
}

// NewRouter creates a tag router. Scanning starts enabled.
func NewRouter(tagMap *Map, forced *turn.ForcedEnd, queue *conversation.PendingQueue, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		tagMap:   tagMap,
		forced:   forced,
		queue:    queue,
		logger:   logger,
		debounce: DefaultDebounce,
		controls: make(chan Control, 4),
	}
	r.enabled.Store(true)
	return r
}

// Controls returns the control-tag stream.
func (r *Router) Controls() <-chan Control {
	return r.controls
}

// Enable resumes tag routing. Part of the scan gate contract.
func (r *Router) Enable() {
	r.enabled.Store(true)
}

// Disable suppresses tag routing while a turn records.
func (r *Router) Disable() {
	r.enabled.Store(false)
}

// SetSender wires the live connection and flushes anything buffered
// while offline. Call with nil on disconnect.
func (r *Router) SetSender(sender conversation.TextSender) {
	r.mu.Lock()
	r.sender = sender
	r.mu.Unlock()

	if sender != nil {
		if err := r.queue.DrainInOrder(sender); err != nil {
			r.logger.Warn("pending tag flush failed", "error", err)
		}
	}
}

// Run consumes events until ctx is cancelled or events closes.
func (r *Router) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Router) handle(ev Event) {
	if !r.enabled.Load() {
		return
	}

	uid := normalizeUID(ev.TagID)
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	r.mu.Lock()
	if uid == r.lastUID && at.Sub(r.lastSeen) < r.debounce {
		r.mu.Unlock()
		return
	}
	r.lastUID = uid
	r.lastSeen = at
	r.mu.Unlock()

	phrase, ok := r.tagMap.Lookup(uid)
	if !ok {
		return
	}

	if r.OnScan != nil {
		r.OnScan(phrase)
	}

	switch phrase {
	case phraseBegin:
		r.logger.Info("begin-conversation tag scanned")
		r.emit(ControlBegin)
	case phraseReload:
		r.logger.Info("reload tag scanned")
		r.emit(ControlReload)
	default:
		if r.Conversing != nil && !r.Conversing() {
			r.logger.Info("tag phrase ignored outside conversation", "phrase", phrase)
			return
		}
		r.routePhrase(phrase)
	}
}

// routePhrase ends the current turn and injects the phrase. Scanning
// is self-suppressed until the next turn boundary re-enables it.
func (r *Router) routePhrase(phrase string) {
	r.logger.Info("tag phrase routed", "phrase", phrase)
	r.forced.Set()
	r.Disable()

	r.queue.Enqueue(phrase)

	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender == nil {
		r.logger.Info("no live connection, tag phrase queued")
		return
	}
	if err := r.queue.DrainInOrder(sender); err != nil {
		r.logger.Warn("tag phrase send failed, will retry on reconnect", "error", err)
	}
}

func (r *Router) emit(c Control) {
	select {
	case r.controls <- c:
	default:
		r.logger.Warn("control channel full, dropping", "control", c)
	}
}

// Package player plays one agent response turn: it drains backend
// events to the speaker and decides when the agent has finished
// talking.
//
// End-of-turn detection is timer based. The backend streams a response
// as a burst of audio and text chunks with no terminator, so the
// player watches for the burst to start (bounded by a first-content
// timeout) and then for it to go quiet (a short idle window), always
// finishing with one grace sweep for stragglers.
package player

import (
	"log/slog"
	"strings"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/conversation"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
)

// Config holds response-turn tuning.
type Config struct {
	// Audio describes the frame format shared with the speaker.
	Audio audioio.Config

	// FirstContentMax bounds the wait for the first agent payload.
	FirstContentMax time.Duration

	// ShortTurnAdaptiveMax replaces FirstContentMax when the prior
	// user turn was short; a half-second mumble rarely earns a reply.
	ShortTurnAdaptiveMax time.Duration

	// ContentIdle is the quiet window that ends a started response.
	ContentIdle time.Duration

	// GraceDrain is the final sweep for in-flight payloads.
	GraceDrain time.Duration

	// ShortTurnMs is the effective spoken duration below which the
	// response wait is skipped entirely.
	ShortTurnMs float64

	// BargeAfter is the first-turn window after first content at which
	// playback is abandoned so the user can interrupt the greeting.
	BargeAfter time.Duration

	// PollInterval is the receive-wait granularity.
	PollInterval time.Duration
}

// DefaultConfig returns tuning matched to the deployed appliance.
func DefaultConfig() Config {
	return Config{
		Audio:                audioio.DefaultConfig(),
		FirstContentMax:      5 * time.Second,
		ShortTurnAdaptiveMax: time.Second,
		ContentIdle:          150 * time.Millisecond,
		GraceDrain:           150 * time.Millisecond,
		ShortTurnMs:          800,
		BargeAfter:           500 * time.Millisecond,
		PollInterval:         250 * time.Millisecond,
	}
}

// Options describes the turn being answered.
type Options struct {
	// FirstTurn marks the greeting turn, the only one with barge-in.
	FirstTurn bool

	// Metrics is the current turn's counters; the player adds the
	// agent-side numbers. May be nil.
	Metrics *turn.Metrics

	// ExternallyTriggered means the user turn was cut short by an
	// external event, so the short-turn skip must not apply: the
	// forced phrase deserves its answer.
	ExternallyTriggered bool
}

// Result is what one response turn produced.
type Result struct {
	// Text is the agent's accumulated response text.
	Text string

	// SawAudio reports whether any agent audio played.
	SawAudio bool

	// Skipped reports the short-turn fast path fired.
	Skipped bool

	// BargedIn reports a first-turn early exit.
	BargedIn bool

	// Err is non-nil when the connection died mid-response.
	Err error
}

// Player runs response turns over an injected event stream and sink.
type Player struct {
	cfg    Config
	stat   status.Sink
	logger *slog.Logger
}

// New creates a player. stat may be nil.
func New(cfg Config, stat status.Sink, logger *slog.Logger) *Player {
	if stat == nil {
		stat = status.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{cfg: cfg, stat: stat, logger: logger}
}

// Play consumes one agent response from events and writes it to sink.
// The sink must already be started; the caller owns its lifecycle.
// A closed events channel means the connection died; the player pads
// out whatever audio it holds and reports the loss.
func (p *Player) Play(events <-chan conversation.Event, sink audioio.Sink, opts Options) Result {
	p.stat.Write(status.Loading)

	if !p.purgeStale(events) {
		return Result{Err: conversation.ErrConnectionClosed}
	}

	if opts.Metrics != nil && !opts.ExternallyTriggered &&
		opts.Metrics.EffectiveSpokenMs() < p.cfg.ShortTurnMs {
		p.logger.Info("short user turn, skipping response wait",
			"effective_ms", opts.Metrics.EffectiveSpokenMs())
		return Result{Skipped: true}
	}

	st := &playState{
		player: p,
		sink:   sink,
		writer: audioio.NewFrameWriter(sink),
		opts:   opts,
	}
	res := st.run(events)

	if res.Text != "" {
		p.logger.Info("agent response", "text", res.Text, "saw_audio", st.sawAudio)
	}
	res.SawAudio = st.sawAudio
	return res
}

// purgeStale discards events that arrived while nobody was listening:
// the tail of a barged-in or skipped response must not replay as the
// next response. Returns false once the channel is closed.
func (p *Player) purgeStale(events <-chan conversation.Event) bool {
	stale := 0
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
			stale++
		default:
			if stale > 0 {
				p.logger.Info("discarded stale events", "count", stale)
			}
			return true
		}
	}
}

type playState struct {
	player *Player
	sink   audioio.Sink
	writer *audioio.FrameWriter
	opts   Options

	text         strings.Builder
	sawContent   bool
	sawAudio     bool
	firstContent time.Time
	lastContent  time.Time
}

func (s *playState) run(events <-chan conversation.Event) Result {
	cfg := s.player.cfg
	turnStart := time.Now()

	firstContentMax := cfg.FirstContentMax
	if s.opts.Metrics != nil && s.opts.Metrics.EffectiveSpokenMs() < cfg.ShortTurnMs &&
		cfg.ShortTurnAdaptiveMax < firstContentMax {
		firstContentMax = cfg.ShortTurnAdaptiveMax
	}

	for {
		now := time.Now()

		if !s.sawContent {
			if now.Sub(turnStart) > firstContentMax {
				if s.graceDrain(events) {
					continue
				}
				// Nothing ever arrived.
				s.player.stat.Write(status.Loading)
				return s.conclude(nil)
			}
		} else {
			if s.opts.FirstTurn && cfg.BargeAfter > 0 &&
				now.Sub(s.firstContent) >= cfg.BargeAfter {
				s.player.logger.Info("first-turn barge window open, ending playback early")
				s.player.stat.Write(status.Muted)
				res := s.conclude(nil)
				res.BargedIn = true
				return res
			}
			if now.Sub(s.lastContent) > cfg.ContentIdle {
				if s.graceDrain(events) {
					continue
				}
				s.player.stat.Write(status.Loading)
				return s.conclude(nil)
			}
		}

		ev, ok, alive := s.receive(events, cfg.PollInterval)
		if !alive {
			res := s.conclude(conversation.ErrConnectionClosed)
			return res
		}
		if ok {
			s.handle(ev)
		}
	}
}

// receive waits up to timeout for one event. alive is false once the
// event channel has closed under us.
func (s *playState) receive(events <-chan conversation.Event, timeout time.Duration) (ev conversation.Event, ok, alive bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, chOpen := <-events:
		if !chOpen {
			return conversation.Event{}, false, false
		}
		return ev, true, true
	case <-timer.C:
		return conversation.Event{}, false, true
	}
}

func (s *playState) handle(ev conversation.Event) {
	switch ev.Type {
	case conversation.EventAudio:
		if len(ev.Audio) == 0 {
			return
		}
		if !s.sawAudio {
			s.player.stat.Write(status.Speaking)
			s.sawAudio = true
		}
		if err := s.writer.Push(ev.Audio); err != nil {
			s.player.logger.Warn("speaker write failed", "error", err)
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.AddAgentAudio(len(ev.Audio))
		}
		s.markContent()

	case conversation.EventAgentText:
		if ev.Text == "" {
			return
		}
		s.text.WriteString(ev.Text)
		if s.opts.Metrics != nil {
			s.opts.Metrics.AddAgentText(len(ev.Text))
		}
		s.markContent()

	case conversation.EventTranscript:
		if ev.Text != "" {
			s.player.logger.Info("user transcript", "text", ev.Text)
			if s.opts.Metrics != nil {
				s.opts.Metrics.AddTranscript()
			}
		}
	}
}

func (s *playState) markContent() {
	s.lastContent = time.Now()
	if !s.sawContent {
		s.sawContent = true
		s.firstContent = s.lastContent
	}
}

// graceDrain sweeps briefly for straggling payloads. It reports true
// if new content arrived, meaning the idle clock must restart.
func (s *playState) graceDrain(events <-chan conversation.Event) bool {
	deadline := time.Now().Add(s.player.cfg.GraceDrain)
	for time.Now().Before(deadline) {
		wait := time.Until(deadline)
		if limit := 100 * time.Millisecond; wait > limit {
			wait = limit
		}
		ev, ok, alive := s.receive(events, wait)
		if !alive {
			return false
		}
		if !ok {
			continue
		}
		before := s.lastContent
		s.handle(ev)
		if s.lastContent.After(before) {
			return true
		}
	}
	return false
}

// conclude pads out the trailing partial frame and assembles the
// result. err, when set, marks a connection loss.
func (s *playState) conclude(err error) Result {
	if flushErr := s.writer.Flush(); flushErr != nil {
		s.player.logger.Warn("speaker flush failed", "error", flushErr)
	}
	return Result{
		Text: strings.TrimSpace(s.text.String()),
		Err:  err,
	}
}

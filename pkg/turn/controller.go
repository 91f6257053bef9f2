// Package turn owns the user-speaking side of a conversation: deciding
// when a turn starts, streaming captured frames to the backend, and
// deciding when the turn is over.
//
// Two operating modes are supported. Push-to-talk trusts the mute
// button: unmute starts the turn, mute ends it. Voice-activity mode
// listens continuously and uses the classifier to find speech onsets
// and trailing silence.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
)

// Mode selects how user turns begin and end.
type Mode string

const (
	// ModePushToTalk starts and ends turns on mute-button edges.
	ModePushToTalk Mode = "PTT"
	// ModeVoiceActivity starts and ends turns on classifier output.
	ModeVoiceActivity Mode = "VAD"
)

// Sender streams one outbound audio frame to the backend.
// A send failure ends the turn; the connection layer owns retries.
type Sender interface {
	SendFrame(frame []byte) error
}

// Classifier decides whether a frame contains speech.
type Classifier interface {
	Classify(frame []byte) bool
}

// ScanGate suppresses tag scanning while a turn is actively recording.
// Declared here so the controller does not depend on the tag reader.
type ScanGate interface {
	Enable()
	Disable()
}

// Config holds turn-detection tuning. All durations are quantized to
// the frame cadence internally.
type Config struct {
	// Mode selects push-to-talk or voice-activity operation.
	Mode Mode

	// Audio describes the frame format shared with the capture device.
	Audio audioio.Config

	// PrerollFrames is the ring of pre-speech frames flushed when a
	// voice-activity turn starts, so the leading edge is not lost.
	PrerollFrames int

	// StartGateFrames is the run of consecutive voiced frames required
	// to open a voice-activity turn.
	StartGateFrames int

	// MinSpokenMs is the minimum cumulative voiced duration before
	// trailing silence may end a voice-activity turn.
	MinSpokenMs int

	// SilenceEndMs is the trailing silence run that ends a
	// voice-activity turn. It also sizes the synthetic tail.
	SilenceEndMs int

	// StabilizeDelay is waited after a push-to-talk unmute edge before
	// capture starts, letting the hardware settle.
	StabilizeDelay time.Duration
}

// DefaultConfig returns tuning matched to the deployed appliance.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeVoiceActivity,
		Audio:           audioio.DefaultConfig(),
		PrerollFrames:   5,
		StartGateFrames: 8,
		MinSpokenMs:     800,
		SilenceEndMs:    1500,
		StabilizeDelay:  150 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Mode != ModePushToTalk && c.Mode != ModeVoiceActivity {
		return fmt.Errorf("mode must be %q or %q, got %q", ModePushToTalk, ModeVoiceActivity, c.Mode)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.PrerollFrames < 0 {
		return fmt.Errorf("preroll_frames must be >= 0, got %d", c.PrerollFrames)
	}
	if c.StartGateFrames <= 0 {
		return fmt.Errorf("start_gate_frames must be positive, got %d", c.StartGateFrames)
	}
	if c.MinSpokenMs < 0 || c.SilenceEndMs <= 0 {
		return fmt.Errorf("invalid speech durations: min_spoken=%d silence_end=%d", c.MinSpokenMs, c.SilenceEndMs)
	}
	return nil
}

// MinChunks returns MinSpokenMs in whole frames.
func (c *Config) MinChunks() int {
	return int(float64(c.MinSpokenMs) / c.Audio.FrameMs())
}

// EndSilenceChunks returns SilenceEndMs in whole frames.
func (c *Config) EndSilenceChunks() int {
	return int(float64(c.SilenceEndMs) / c.Audio.FrameMs())
}

// Result is what one user turn produced.
type Result struct {
	// Metrics holds the turn's counters; never nil.
	Metrics *Metrics

	// ExternallyTriggered is set when the turn was ended (or aborted
	// before any speech) by a forced-end signal rather than by the
	// user's own speech pattern.
	ExternallyTriggered bool

	// Err is non-nil when the turn died on a send failure or
	// cancellation rather than ending normally.
	Err error
}

// Controller runs one user turn at a time over an injected source and
// sender. The caller owns device open/close around each Run.
type Controller struct {
	cfg        Config
	classifier Classifier
	flags      *Flags
	forced     *ForcedEnd
	gate       ScanGate
	logger     *slog.Logger
}

// NewController creates a turn controller. classifier may be nil in
// push-to-talk mode; gate may be nil when no tag scanner is attached.
func NewController(cfg Config, classifier Classifier, flags *Flags, forced *ForcedEnd, gate ScanGate, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Mode == ModeVoiceActivity && classifier == nil {
		return nil, fmt.Errorf("voice-activity mode requires a classifier")
	}
	if flags == nil || forced == nil {
		return nil, fmt.Errorf("flags and forced-end signal are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		classifier: classifier,
		flags:      flags,
		forced:     forced,
		gate:       gate,
		logger:     logger,
	}, nil
}

// Run executes one complete user turn: wait for speech, stream it,
// detect the end. The source must already be started.
func (c *Controller) Run(ctx context.Context, source audioio.Source, sender Sender) Result {
	metrics := NewMetrics(c.cfg.Audio.FrameMs())

	ticker := time.NewTicker(c.cfg.Audio.FrameDuration)
	defer ticker.Stop()

	var res Result
	if c.cfg.Mode == ModePushToTalk {
		res = c.runPushToTalk(ctx, ticker, source, sender, metrics)
	} else {
		res = c.runVoiceActivity(ctx, ticker, source, sender, metrics)
	}

	c.logger.Info("turn finished",
		"mode", c.cfg.Mode,
		"frames_sent", metrics.FramesSent,
		"effective_ms", metrics.EffectiveSpokenMs(),
		"synthetic_ms", metrics.SyntheticMs,
		"externally_triggered", res.ExternallyTriggered,
		"error", res.Err,
	)
	return res
}

func (c *Controller) runPushToTalk(ctx context.Context, ticker *time.Ticker, source audioio.Source, sender Sender, metrics *Metrics) Result {
	// Every turn opens on a fresh press: a button still held from the
	// previous turn must not start this one.
	c.flags.SetMuted(true)

	// WaitingForSpeech: the turn opens on the unmute edge.
	for c.flags.Muted() {
		if c.forced.Consume() {
			return Result{Metrics: metrics, ExternallyTriggered: true}
		}
		if err := c.waitTick(ctx, ticker); err != nil {
			return Result{Metrics: metrics, Err: err}
		}
	}

	if err := c.sleep(ctx, c.cfg.StabilizeDelay); err != nil {
		return Result{Metrics: metrics, Err: err}
	}

	if c.gate != nil {
		c.gate.Disable()
		defer c.gate.Enable()
	}
	c.logger.Debug("recording started", "mode", ModePushToTalk)

	// Recording: capture until the mute edge or a forced end, then
	// mark end-of-turn with the synthetic silence tail.
	for {
		externallyTriggered := false
		switch {
		case c.forced.Consume():
			externallyTriggered = true
		case c.flags.Muted():
		default:
			if err := c.waitTick(ctx, ticker); err != nil {
				return Result{Metrics: metrics, Err: err}
			}
			n, frame := source.ReadFrame()
			if n <= 0 {
				metrics.AddZeroRead()
				continue
			}
			if err := sender.SendFrame(frame); err != nil {
				return Result{Metrics: metrics, Err: err}
			}
			metrics.AddFrame(len(frame), false)
			continue
		}

		if err := c.sendSilenceTail(ctx, ticker, sender, metrics); err != nil {
			return Result{Metrics: metrics, ExternallyTriggered: externallyTriggered, Err: err}
		}
		return Result{Metrics: metrics, ExternallyTriggered: externallyTriggered}
	}
}

func (c *Controller) runVoiceActivity(ctx context.Context, ticker *time.Ticker, source audioio.Source, sender Sender, metrics *Metrics) Result {
	preroll := newFrameRing(c.cfg.PrerollFrames)
	voicedRun := 0

	// WaitingForSpeech: buffer a preroll and look for the start gate.
	for voicedRun < c.cfg.StartGateFrames {
		if c.forced.Consume() {
			return Result{Metrics: metrics, ExternallyTriggered: true}
		}
		if err := c.waitTick(ctx, ticker); err != nil {
			return Result{Metrics: metrics, Err: err}
		}
		n, frame := source.ReadFrame()
		if n <= 0 {
			metrics.AddZeroRead()
			continue
		}
		// A muted tick drops the frame but leaves the gate run alone,
		// the same freeze the recording loop applies.
		if c.flags.Muted() {
			continue
		}
		preroll.push(frame)
		if c.classifier.Classify(frame) {
			voicedRun++
		} else {
			voicedRun = 0
		}
	}

	if c.gate != nil {
		c.gate.Disable()
		defer c.gate.Enable()
	}
	c.logger.Debug("recording started", "mode", ModeVoiceActivity, "preroll_frames", preroll.len())

	// Flush the preroll so the first voiced frames are not clipped.
	for _, frame := range preroll.drain() {
		if err := sender.SendFrame(frame); err != nil {
			return Result{Metrics: metrics, Err: err}
		}
		metrics.AddFrame(len(frame), false)
	}

	speechChunks := voicedRun
	silenceChunks := 0
	minChunks := c.cfg.MinChunks()
	endSilence := c.cfg.EndSilenceChunks()

	// Recording: a pause inside the utterance must not end the turn,
	// so both the spoken minimum and the trailing silence run are
	// required. A mute toggle here pauses transmission and freezes
	// the counters; it never resets the silence run.
	for {
		if c.forced.Consume() {
			if err := c.sendSilenceTail(ctx, ticker, sender, metrics); err != nil {
				return Result{Metrics: metrics, ExternallyTriggered: true, Err: err}
			}
			return Result{Metrics: metrics, ExternallyTriggered: true}
		}
		if err := c.waitTick(ctx, ticker); err != nil {
			return Result{Metrics: metrics, Err: err}
		}
		n, frame := source.ReadFrame()
		if n <= 0 {
			metrics.AddZeroRead()
			continue
		}
		if c.flags.Muted() {
			continue
		}

		voiced := c.classifier.Classify(frame)
		metrics.AddVoiced(voiced)
		if voiced {
			speechChunks++
			silenceChunks = 0
		} else {
			silenceChunks++
		}

		if err := sender.SendFrame(frame); err != nil {
			return Result{Metrics: metrics, Err: err}
		}
		metrics.AddFrame(len(frame), false)

		// The trailing silence was real audio, already streamed, so
		// no synthetic tail is needed on a natural end.
		if speechChunks >= minChunks && silenceChunks >= endSilence {
			return Result{Metrics: metrics}
		}
	}
}

// sendSilenceTail streams the synthetic end-of-turn marker: a fixed
// run of zero frames at capture cadence. It is always the last audio
// sent for the turn.
func (c *Controller) sendSilenceTail(ctx context.Context, ticker *time.Ticker, sender Sender, metrics *Metrics) error {
	zero := make([]byte, c.cfg.Audio.FrameBytes())
	for i := 0; i < c.cfg.EndSilenceChunks(); i++ {
		if err := c.waitTick(ctx, ticker); err != nil {
			return err
		}
		if err := sender.SendFrame(zero); err != nil {
			return err
		}
		metrics.AddFrame(len(zero), true)
	}
	return nil
}

func (c *Controller) waitTick(ctx context.Context, ticker *time.Ticker) error {
	if c.flags.Stopping() {
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// frameRing is a fixed-capacity ring of recent frames.
type frameRing struct {
	frames [][]byte
	cap    int
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{cap: capacity}
}

func (r *frameRing) push(frame []byte) {
	if r.cap == 0 {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.frames = append(r.frames, cp)
	if len(r.frames) > r.cap {
		r.frames = r.frames[1:]
	}
}

func (r *frameRing) len() int { return len(r.frames) }

func (r *frameRing) drain() [][]byte {
	out := r.frames
	r.frames = nil
	return out
}

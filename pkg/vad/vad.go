// Package vad classifies audio frames as voiced or silent using the
// WebRTC voice activity detector.
package vad

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
)

// DefaultMode is the most aggressive WebRTC setting, tuned for a
// speaker-adjacent microphone where agent playback bleeds into capture.
const DefaultMode = 3

// Classifier wraps a WebRTC VAD instance configured for one audio
// format. The underlying detector is stateful and not goroutine safe,
// so Classify is serialized.
type Classifier struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int
}

// New creates a classifier for the given aggressiveness mode (0-3)
// and audio config.
func New(mode int, cfg audioio.Config) (*Classifier, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad: mode must be 0-3, got %d", mode)
	}
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("vad: mono audio required, got %d channels", cfg.Channels)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: create detector: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad: set mode %d: %w", mode, err)
	}
	if !v.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSamples()) {
		return nil, fmt.Errorf("vad: unsupported rate %d / frame %d samples", cfg.SampleRate, cfg.FrameSamples())
	}

	return &Classifier{
		vad:        v,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

// Classify reports whether the frame contains speech. Frames of the
// wrong length, and detector errors, classify as silence so a glitchy
// capture path can never hold a turn open forever.
func (c *Classifier) Classify(frame []byte) bool {
	if len(frame) != c.frameBytes {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	voiced, err := c.vad.Process(c.sampleRate, frame)
	if err != nil {
		return false
	}
	return voiced
}

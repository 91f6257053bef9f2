// Package audioio provides frame-oriented audio capture and playback.
//
// The appliance works in fixed 30 ms quanta of 16 kHz mono 16-bit PCM.
// Every frame handed to the network layer or the speaker is exactly
// FrameBytes() long; sources assemble partial device reads into whole
// frames and sinks pad the final partial chunk with zeros.
//
// Backends:
//   - PortAudio - production capture/playback on the device
//   - Mock      - CI/testing without hardware
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `json:"channels"`

	// FrameDuration is the length of one audio frame.
	FrameDuration time.Duration `json:"frame_duration"`

	// Device is the platform-specific device identifier.
	Device string `json:"device"`
}

// DefaultConfig returns the appliance audio format: 16 kHz mono in
// 30 ms frames.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 30 * time.Millisecond,
		Device:        "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSamples returns the number of samples in one frame.
func (c *Config) FrameSamples() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// FrameBytes returns the size of one frame in bytes (int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSamples() * c.Channels * 2
}

// FrameMs returns the duration of one frame in milliseconds.
func (c *Config) FrameMs() float64 {
	return float64(c.FrameDuration) / float64(time.Millisecond)
}

// PadFrame returns frame extended with zero bytes to exactly size.
// A frame already at or above size is returned unchanged.
func PadFrame(frame []byte, size int) []byte {
	if len(frame) >= size {
		return frame
	}
	padded := make([]byte, size)
	copy(padded, frame)
	return padded
}

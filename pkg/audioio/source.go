package audioio

import (
	"context"
	"io"
)

// Source captures audio from a microphone or other input device.
//
// Sources are frame-oriented: ReadFrame returns whole frames of
// exactly Config().FrameBytes() bytes, assembled from however the
// underlying device delivers data.
type Source interface {
	// Start begins audio capture.
	Start(ctx context.Context) error

	// ReadFrame returns the next captured frame without blocking.
	// n <= 0 means no data is available this tick; that is not an
	// error, and the caller should back off briefly rather than spin.
	ReadFrame() (n int, frame []byte)

	// Stop halts audio capture. It is safe to call Stop multiple times.
	Stop() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about an audio source.
type SourceStats struct {
	// FramesRead is the total number of whole frames delivered.
	FramesRead int64 `json:"frames_read"`

	// Overruns is the number of frames dropped because the caller fell
	// behind the capture cadence.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

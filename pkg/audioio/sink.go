package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start begins audio playback.
	Start(ctx context.Context) error

	// WriteFrame sends exactly one frame to the output device.
	// The frame must be Config().FrameBytes() long; use a FrameWriter
	// to pad arbitrary PCM streams. WriteFrame may block on the
	// device's buffer.
	WriteFrame(frame []byte) error

	// Stop halts audio playback. It is safe to call Stop multiple times.
	Stop() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about an audio sink.
type SinkStats struct {
	// FramesWritten is the total number of frames written.
	FramesWritten int64 `json:"frames_written"`

	// Underruns is the number of device buffer underruns.
	Underruns int64 `json:"underruns"`

	// Running indicates if the sink is currently playing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}

// FrameWriter frames an arbitrary PCM byte stream onto a Sink.
// Complete frames are written as they accumulate; Flush zero-pads and
// writes any trailing partial chunk so nothing audible is dropped.
type FrameWriter struct {
	sink       Sink
	frameBytes int
	buf        []byte
}

// NewFrameWriter creates a FrameWriter for the sink's frame size.
func NewFrameWriter(sink Sink) *FrameWriter {
	cfg := sink.Config()
	return &FrameWriter{
		sink:       sink,
		frameBytes: cfg.FrameBytes(),
	}
}

// Push appends pcm to the stream and writes all complete frames.
func (w *FrameWriter) Push(pcm []byte) error {
	w.buf = append(w.buf, pcm...)
	for len(w.buf) >= w.frameBytes {
		frame := w.buf[:w.frameBytes]
		if err := w.sink.WriteFrame(frame); err != nil {
			return err
		}
		w.buf = w.buf[w.frameBytes:]
	}
	return nil
}

// Flush zero-pads and writes the trailing partial frame, if any.
func (w *FrameWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	frame := PadFrame(w.buf, w.frameBytes)
	w.buf = w.buf[:0]
	return w.sink.WriteFrame(frame)
}

// Buffered returns the number of bytes awaiting a complete frame.
func (w *FrameWriter) Buffered() int {
	return len(w.buf)
}

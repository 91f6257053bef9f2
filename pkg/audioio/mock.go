package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MockSource is a scripted audio source for testing.
// Queued frames are returned in order; an exhausted queue reads as
// "no data this tick" unless the source has been marked done.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	frames  [][]byte

	framesRead atomic.Int64
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSource{cfg: cfg, logger: logger}
}

// Queue appends one frame to the script. Short frames are zero-padded
// to a whole frame, matching real source behavior.
func (m *MockSource) Queue(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, PadFrame(frame, m.cfg.FrameBytes()))
}

// QueueRepeat appends count copies of frame.
func (m *MockSource) QueueRepeat(frame []byte, count int) {
	for i := 0; i < count; i++ {
		m.Queue(frame)
	}
}

// Pending returns the number of unread scripted frames.
func (m *MockSource) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Start begins capture.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// ReadFrame pops the next scripted frame, or reports no data.
func (m *MockSource) ReadFrame() (int, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || len(m.frames) == 0 {
		return 0, nil
	}
	frame := m.frames[0]
	m.frames = m.frames[1:]
	m.framesRead.Add(1)
	return len(frame), frame
}

// Stop halts capture.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return "mock" }

// Close releases the source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return SourceStats{
		FramesRead: m.framesRead.Load(),
		Running:    running,
		Backend:    "mock",
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink records every frame written to it for test assertions.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	frames  [][]byte

	// FailAfter, when > 0, makes WriteFrame fail once that many frames
	// have been accepted.
	FailAfter int
	// FailErr is the error returned when FailAfter trips.
	FailErr error
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start begins playback.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// WriteFrame records one frame.
func (m *MockSink) WriteFrame(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	if m.FailAfter > 0 && len(m.frames) >= m.FailAfter && m.FailErr != nil {
		return m.FailErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	return nil
}

// Frames returns a copy of everything written so far.
func (m *MockSink) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// Stop halts playback.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSink) Name() string { return "mock" }

// Close releases the sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SinkStats{
		FramesWritten: int64(len(m.frames)),
		Running:       m.running,
		Backend:       "mock",
	}
}

var _ SinkWithStats = (*MockSink)(nil)

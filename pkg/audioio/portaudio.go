package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudio requires a single global Initialize/Terminate pair; streams
// from both the source and the sink share it via refcounting.
var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// PortAudioSource captures whole frames from the default input device.
// A background goroutine performs the blocking device reads so that
// ReadFrame stays non-blocking for the turn loop.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	buf     []int16
	frames  chan []byte
	stopCh  chan struct{}
	done    sync.WaitGroup

	framesRead atomic.Int64
	overruns   atomic.Int64
}

// newPortAudioSource creates a PortAudio-backed source.
func newPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	return &PortAudioSource{
		cfg:    cfg,
		logger: logger,
		buf:    make([]int16, cfg.FrameSamples()*cfg.Channels),
	}, nil
}

// Start opens the device and begins the capture loop.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := paAcquire(); err != nil {
		return err
	}
	stream, err := portaudio.OpenDefaultStream(
		s.cfg.Channels, 0,
		float64(s.cfg.SampleRate),
		s.cfg.FrameSamples(),
		s.buf,
	)
	if err != nil {
		paRelease()
		return fmt.Errorf("portaudio open capture: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("portaudio start capture: %w", err)
	}

	s.stream = stream
	s.running = true
	s.frames = make(chan []byte, 16)
	s.stopCh = make(chan struct{})
	s.done.Add(1)
	go s.captureLoop(ctx)

	s.logger.Info("portaudio source started",
		"sample_rate", s.cfg.SampleRate,
		"frame_bytes", s.cfg.FrameBytes(),
	)
	return nil
}

func (s *PortAudioSource) captureLoop(ctx context.Context) {
	defer s.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Blocks for one frame duration; transient read hiccups are
		// swallowed and the loop continues.
		if err := s.stream.Read(); err != nil {
			s.logger.Debug("capture read hiccup", "error", err)
			continue
		}

		frame := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			frame[i*2] = byte(v)
			frame[i*2+1] = byte(v >> 8)
		}

		select {
		case s.frames <- frame:
			s.framesRead.Add(1)
		default:
			s.overruns.Add(1)
		}
	}
}

// ReadFrame returns the next captured frame without blocking.
func (s *PortAudioSource) ReadFrame() (int, []byte) {
	s.mu.Lock()
	frames := s.frames
	running := s.running
	s.mu.Unlock()
	if !running || frames == nil {
		return 0, nil
	}
	select {
	case frame := <-frames:
		return len(frame), frame
	default:
		return 0, nil
	}
}

// Stop halts capture and releases the device.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	s.done.Wait()
	_ = stream.Stop()
	_ = stream.Close()
	paRelease()
	s.logger.Info("portaudio source stopped")
	return nil
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSource) Name() string { return "portaudio" }

// Close releases resources.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		FramesRead: s.framesRead.Load(),
		Overruns:   s.overruns.Load(),
		Running:    running,
		Backend:    "portaudio",
	}
}

var _ SourceWithStats = (*PortAudioSource)(nil)

// PortAudioSink plays whole frames on the default output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	buf     []int16

	framesWritten atomic.Int64
	underruns     atomic.Int64
}

// newPortAudioSink creates a PortAudio-backed sink.
func newPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	return &PortAudioSink{
		cfg:    cfg,
		logger: logger,
		buf:    make([]int16, cfg.FrameSamples()*cfg.Channels),
	}, nil
}

// Start opens the output device.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := paAcquire(); err != nil {
		return err
	}
	stream, err := portaudio.OpenDefaultStream(
		0, s.cfg.Channels,
		float64(s.cfg.SampleRate),
		s.cfg.FrameSamples(),
		s.buf,
	)
	if err != nil {
		paRelease()
		return fmt.Errorf("portaudio open playback: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("portaudio start playback: %w", err)
	}

	s.stream = stream
	s.running = true
	s.logger.Info("portaudio sink started",
		"sample_rate", s.cfg.SampleRate,
		"frame_bytes", s.cfg.FrameBytes(),
	)
	return nil
}

// WriteFrame plays exactly one frame, blocking on the device buffer.
func (s *PortAudioSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}
	if len(frame) != s.cfg.FrameBytes() {
		return fmt.Errorf("audioio: frame must be %d bytes, got %d", s.cfg.FrameBytes(), len(frame))
	}

	for i := range s.buf {
		s.buf[i] = int16(frame[i*2]) | int16(frame[i*2+1])<<8
	}
	if err := s.stream.Write(); err != nil {
		// Output underflow is audible but recoverable; count and carry on.
		if err == portaudio.OutputUnderflowed {
			s.underruns.Add(1)
			s.framesWritten.Add(1)
			return nil
		}
		return fmt.Errorf("portaudio write: %w", err)
	}
	s.framesWritten.Add(1)
	return nil
}

// Stop halts playback and releases the device.
func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	_ = s.stream.Stop()
	_ = s.stream.Close()
	s.stream = nil
	paRelease()
	s.logger.Info("portaudio sink stopped")
	return nil
}

// Config returns the audio configuration.
func (s *PortAudioSink) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSink) Name() string { return "portaudio" }

// Close releases resources.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		FramesWritten: s.framesWritten.Load(),
		Underruns:     s.underruns.Load(),
		Running:       running,
		Backend:       "portaudio",
	}
}

var _ SinkWithStats = (*PortAudioSink)(nil)

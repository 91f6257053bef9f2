package status

import (
	"log/slog"
	"os"
	"sync"

	"go.bug.st/serial"
)

// fallbackPorts are probed in order when the configured port is absent.
// USB adapters enumerate differently across boots on the appliance.
var fallbackPorts = []string{
	"/dev/ttyUSB0", "/dev/ttyACM0", "/dev/serial0", "/dev/ttyAMA0", "/dev/ttyS0",
}

// Serial writes animation codes to the display microcontroller over a
// serial line. The port is opened lazily and reopened after a write
// failure; every failure is logged and swallowed.
type Serial struct {
	path   string
	baud   int
	logger *slog.Logger

	mu   sync.Mutex
	port serial.Port
	last Code
}

// NewSerial creates a serial status sink. An empty path probes the
// usual device nodes. The constructor never fails; a missing port
// just means codes are dropped until it appears.
func NewSerial(path string, baud int, logger *slog.Logger) *Serial {
	if baud <= 0 {
		baud = 115200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{path: path, baud: baud, logger: logger}
}

// Write sends one code, deduplicating repeats so the firmware does
// not restart an animation already playing.
func (s *Serial) Write(code Code) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Shutdown is never deduplicated; it must land even if it was the
	// last code written.
	if code == s.last && code != Shutdown {
		return
	}

	if s.port == nil && !s.open() {
		return
	}
	if _, err := s.port.Write([]byte{byte(code)}); err != nil {
		s.logger.Warn("status write failed, reopening port", "code", string(code), "error", err)
		_ = s.port.Close()
		s.port = nil
		if s.open() {
			if _, err := s.port.Write([]byte{byte(code)}); err != nil {
				s.logger.Warn("status retry failed", "code", string(code), "error", err)
				return
			}
		} else {
			return
		}
	}
	s.last = code
}

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// open tries the configured path, then the fallbacks. Caller holds mu.
func (s *Serial) open() bool {
	candidates := fallbackPorts
	if s.path != "" {
		candidates = append([]string{s.path}, fallbackPorts...)
	}

	mode := &serial.Mode{BaudRate: s.baud}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		port, err := serial.Open(path, mode)
		if err != nil {
			s.logger.Debug("status port open failed", "path", path, "error", err)
			continue
		}
		s.logger.Info("status port opened", "path", path, "baud", s.baud)
		s.port = port
		return true
	}
	return false
}

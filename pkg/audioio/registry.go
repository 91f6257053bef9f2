package audioio

import (
	"io"
	"log/slog"
	"sync"
)

// Registry tracks every open audio device so a shutdown routine can
// force-close all outstanding handles. Each handle is released exactly
// once, whether through Release or CloseAll.
type Registry struct {
	logger *slog.Logger

	mu   sync.Mutex
	next uint64
	open map[uint64]io.Closer
}

// NewRegistry creates an empty device registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		open:   make(map[uint64]io.Closer),
	}
}

// Track registers an open device and returns its handle id.
func (r *Registry) Track(c io.Closer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.open[r.next] = c
	return r.next
}

// Release closes a tracked device. Releasing an id twice, or an id
// already swept by CloseAll, is a no-op.
func (r *Registry) Release(id uint64) {
	r.mu.Lock()
	c, ok := r.open[id]
	delete(r.open, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		r.logger.Warn("device close failed", "id", id, "error", err)
	}
}

// CloseAll force-closes every outstanding device handle.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := r.open
	r.open = make(map[uint64]io.Closer)
	r.mu.Unlock()

	for id, c := range open {
		if err := c.Close(); err != nil {
			r.logger.Warn("device close failed", "id", id, "error", err)
		}
	}
}

// Open returns the number of tracked devices.
func (r *Registry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

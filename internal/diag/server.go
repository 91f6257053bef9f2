// Package diag exposes a small poll-only JSON surface for checking on
// the appliance over the LAN. There is no console on the device; this
// and the status animations are the only windows into it.
package diag

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// State is the diagnostic snapshot served to clients.
type State struct {
	StartedAt time.Time `json:"started_at"`

	// AppState is the orchestrator state: "idle" or "conversing".
	AppState string `json:"app_state"`

	// InputMode is "PTT" or "VAD".
	InputMode string `json:"input_mode"`

	Muted     bool `json:"muted"`
	Connected bool `json:"connected"`

	Turns           int     `json:"turns"`
	Reconnects      int     `json:"reconnects"`
	LastTurnMs      float64 `json:"last_turn_ms"`
	LastAgentText   string  `json:"last_agent_text"`
	PendingMessages int     `json:"pending_messages"`
}

// Server serves /healthz and /state.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	mu    sync.RWMutex
	state State
}

// NewServer creates the diagnostic server. It does not listen until
// Start is called.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		logger: logger,
		state:  State{StartedAt: time.Now(), AppState: "idle"},
	}

	app := fiber.New(fiber.Config{
		AppName:               "aiflow diag",
		DisableStartupMessage: true,
	})
	app.Get("/healthz", s.handleHealthz)
	app.Get("/state", s.handleState)
	s.app = app
	return s
}

// Start listens in a background goroutine. Listen failures are logged
// and swallowed: diagnostics must never stop the conversation.
func (s *Server) Start() {
	go func() {
		s.logger.Info("diag server listening", "addr", s.addr)
		if err := s.app.Listen(s.addr); err != nil {
			s.logger.Warn("diag server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Update mutates the published snapshot under the server's lock.
func (s *Server) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()
	return c.JSON(snapshot)
}

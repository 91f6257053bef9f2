package conversation

import (
	"fmt"
	"time"
)

const defaultEndpoint = "wss://api.elevenlabs.io/v1/convai/conversation"

// Config holds connection settings for one backend session.
type Config struct {
	// APIKey authenticates the WebSocket handshake.
	APIKey string

	// AgentID selects the conversational agent.
	AgentID string

	// Endpoint is the WebSocket base URL.
	Endpoint string

	// InactivityTimeout is the server-side idle disconnect window
	// requested at dial time, in seconds.
	InactivityTimeout int

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// ReadTimeout bounds a single blocking receive. It is reset on
	// every inbound message, so it only fires on a truly dead link.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration

	// KeepaliveInterval is how often an activity notice is sent while
	// no turn owns the connection.
	KeepaliveInterval time.Duration

	// EventBuffer is the inbound event channel capacity.
	EventBuffer int

	// TTSVolume scales agent playback volume when > 0. Left zero, the
	// agent's configured volume is used.
	TTSVolume float64
}

// DefaultConfig returns connection settings matched to the backend's
// published limits.
func DefaultConfig() Config {
	return Config{
		Endpoint:          defaultEndpoint,
		InactivityTimeout: 600,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       11 * time.Minute,
		WriteTimeout:      10 * time.Second,
		KeepaliveInterval: 60 * time.Second,
		EventBuffer:       256,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.AgentID == "" {
		return ErrMissingAgentID
	}
	if c.Endpoint == "" {
		return fmt.Errorf("conversation: endpoint is required")
	}
	if c.HandshakeTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("conversation: timeouts must be positive")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("conversation: keepalive interval must be positive")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("conversation: event buffer must be positive")
	}
	return nil
}

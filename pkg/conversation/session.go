// Package conversation maintains one live streaming connection to the
// conversational backend and hides its wire protocol behind typed
// events and send helpers.
package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one live connection. It owns the receive path: a single
// goroutine reads inbound messages and republishes them, in arrival
// order, on Events(). Server pings are answered internally and never
// surface as events.
//
// A Session is single-use. When the connection dies the event channel
// closes, Done() fires, and the caller dials a replacement.
type Session struct {
	cfg    Config
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event
	done   chan struct{}

	idle      atomic.Bool
	stop      chan struct{}
	keepDone  chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// Dial connects to the backend and starts the receive and keepalive
// loops. The keepalive starts paused; call SetIdle(true) once no turn
// owns the connection.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("conversation: invalid endpoint: %w", err)
	}
	q := wsURL.Query()
	q.Set("agent_id", cfg.AgentID)
	q.Set("inactivity_timeout", strconv.Itoa(cfg.InactivityTimeout))
	wsURL.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}

	logger.Info("connecting to conversation backend", "agent_id", cfg.AgentID)
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}

	s := &Session{
		cfg:      cfg,
		logger:   logger.With("component", "conversation.session"),
		conn:     conn,
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		keepDone: make(chan struct{}),
	}

	go s.readLoop()
	go s.keepaliveLoop()

	s.logger.Info("connected to conversation backend")
	return s, nil
}

// Events returns the inbound event stream. It closes when the
// connection dies; check Err() afterwards.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done fires when the receive loop has exited for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended. Nil for a clean close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendInit negotiates the audio format. suppressGreeting blanks the
// agent's opening line, used on every connection after the first
// greeting has played.
func (s *Session) SendInit(suppressGreeting bool) error {
	return s.sendJSON(initMessage(suppressGreeting, s.cfg.TTSVolume))
}

// SendFrame streams one captured audio frame.
func (s *Session) SendFrame(frame []byte) error {
	encoded := base64.StdEncoding.EncodeToString(frame)
	return s.sendJSON(audioChunkMessage(encoded))
}

// SendText injects a phrase on the user's behalf, preceded by a
// best-effort activity nudge so a drowsy stream wakes up first.
func (s *Session) SendText(text string) error {
	_ = s.sendJSON(activityMessage())
	return s.sendJSON(userMessage(text))
}

// SendActivity sends one keepalive notice.
func (s *Session) SendActivity() error {
	return s.sendJSON(activityMessage())
}

// SetIdle gates the keepalive loop. Idle means no turn owns the
// connection, so the session must keep it warm itself.
func (s *Session) SetIdle(idle bool) {
	s.idle.Store(idle)
}

// Stats returns message counters for diagnostics.
func (s *Session) Stats() (sent, received int64) {
	return s.messagesSent.Load(), s.messagesReceived.Load()
}

// Close shuts the session down: the keepalive loop is cancelled with a
// bounded wait, a close frame is sent, and the socket is torn down.
// Safe to call multiple times and from any goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.keepDone:
		case <-time.After(time.Second):
			s.logger.Warn("keepalive loop did not stop in time")
		}

		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = s.conn.Close()

		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.logger.Warn("receive loop did not stop in time")
		}
		s.logger.Info("disconnected from conversation backend")
	})
	return nil
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conversation: marshal failed: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewConnectionError("write failed", err, true)
	}
	s.messagesSent.Add(1)
	return nil
}

// readLoop is the sole reader. It republishes payload messages as
// events and answers pings inline as fire-and-forget tasks.
func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("connection closed normally")
				return
			}
			s.setErr(NewConnectionError("read failed", err, true))
			return
		}
		s.messagesReceived.Add(1)

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// One malformed message never kills the connection.
			s.logger.Warn("discarding malformed message", "error", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg serverMessage) {
	switch msg.Type {
	case "audio":
		if msg.AudioEvent == nil || msg.AudioEvent.AudioBase64 == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(msg.AudioEvent.AudioBase64)
		if err != nil {
			s.logger.Warn("discarding undecodable audio chunk", "error", err)
			return
		}
		s.publish(Event{Type: EventAudio, Audio: audio})

	case "agent_response":
		if msg.AgentResponseEvent == nil {
			return
		}
		s.publish(Event{Type: EventAgentText, Text: msg.AgentResponseEvent.AgentResponse})

	case "user_transcript":
		if msg.UserTranscriptionEvent == nil {
			return
		}
		s.publish(Event{Type: EventTranscript, Text: msg.UserTranscriptionEvent.UserTranscript})

	case "ping":
		eventID, delay := 0, 0
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
			delay = msg.PingEvent.PingMs
		}
		go s.sendPong(eventID, delay)

	case "user_activity_ack", "server_activity_ack":
		s.publish(Event{Type: EventActivityAck})

	default:
		s.logger.Debug("unhandled message type", "type", msg.Type)
	}
}

// publish delivers an event in arrival order. When the consumer falls
// behind a full buffer blocks the receive loop rather than dropping
// content; pings are answered on their own goroutines, so backpressure
// here cannot stall them. A pending Close unblocks the send.
func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// sendPong echoes a ping after the server-suggested delay.
func (s *Session) sendPong(eventID, delayMs int) {
	if delayMs > 0 {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
	if err := s.sendJSON(pongMessage(eventID)); err != nil {
		s.logger.Debug("pong send failed", "event_id", eventID, "error", err)
	}
}

// keepaliveLoop sends activity notices while the session is idle so
// the backend's inactivity timer never fires between turns.
func (s *Session) keepaliveLoop() {
	defer close(s.keepDone)

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			if !s.idle.Load() {
				continue
			}
			if err := s.SendActivity(); err != nil {
				s.logger.Debug("keepalive send failed", "error", err)
			}
		}
	}
}

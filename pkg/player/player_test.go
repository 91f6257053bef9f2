package player

import (
	"context"
	"testing"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/conversation"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
)

// fastConfig compresses every timer so player tests run quickly.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.FirstContentMax = 100 * time.Millisecond
	cfg.ShortTurnAdaptiveMax = 40 * time.Millisecond
	cfg.ContentIdle = 30 * time.Millisecond
	cfg.GraceDrain = 30 * time.Millisecond
	cfg.BargeAfter = 60 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func startedSink(t *testing.T, cfg audioio.Config) *audioio.MockSink {
	t.Helper()
	sink := audioio.NewMockSink(cfg, nil)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sink
}

// longTurnMetrics returns metrics for a clearly substantive user turn.
func longTurnMetrics(frames int) *turn.Metrics {
	m := turn.NewMetrics(30)
	for i := 0; i < frames; i++ {
		m.AddFrame(960, false)
	}
	return m
}

func TestPlay_ShortTurnSkips(t *testing.T) {
	cfg := fastConfig()
	rec := &status.Recorder{}
	p := New(cfg, rec, nil)

	// 500 ms sent, none of it synthetic: below the 800 ms threshold.
	m := turn.NewMetrics(100)
	for i := 0; i < 5; i++ {
		m.AddFrame(960, false)
	}

	events := make(chan conversation.Event)
	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{Metrics: m})

	if !res.Skipped {
		t.Fatal("Expected short turn to skip the response wait")
	}
	if len(sink.Frames()) != 0 {
		t.Errorf("Skip must not touch the speaker, got %d frames", len(sink.Frames()))
	}
}

func TestPlay_ExternallyTriggeredNeverSkips(t *testing.T) {
	cfg := fastConfig()
	p := New(cfg, nil, nil)

	m := turn.NewMetrics(100) // zero audio sent, normally a guaranteed skip

	events := make(chan conversation.Event)
	close(events)
	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{Metrics: m, ExternallyTriggered: true})

	if res.Skipped {
		t.Error("A forced turn must wait for its answer")
	}
}

func TestPlay_FirstContentTimeout(t *testing.T) {
	cfg := fastConfig()
	p := New(cfg, nil, nil)

	events := make(chan conversation.Event) // never delivers
	sink := startedSink(t, cfg.Audio)

	start := time.Now()
	res := p.Play(events, sink, Options{Metrics: longTurnMetrics(40)})
	elapsed := time.Since(start)

	if res.Err != nil {
		t.Fatalf("Timeout is not an error condition, got %v", res.Err)
	}
	if res.Text != "" {
		t.Errorf("Expected empty text, got %q", res.Text)
	}
	if res.SawAudio || len(sink.Frames()) != 0 {
		t.Error("No content means no speaker writes")
	}
	if elapsed < cfg.FirstContentMax {
		t.Errorf("Gave up before the first-content window: %v", elapsed)
	}
}

func TestPlay_AdaptiveTimeoutForShortForcedTurn(t *testing.T) {
	cfg := fastConfig()
	p := New(cfg, nil, nil)

	// Short turn, externally triggered: waits, but with the tight cap.
	m := turn.NewMetrics(100)
	events := make(chan conversation.Event)
	sink := startedSink(t, cfg.Audio)

	start := time.Now()
	p.Play(events, sink, Options{Metrics: m, ExternallyTriggered: true})
	elapsed := time.Since(start)

	if elapsed >= cfg.FirstContentMax {
		t.Errorf("Short prior turn should use the adaptive cap, waited %v", elapsed)
	}
}

func TestPlay_PlaysBurstThenConcludesOnIdle(t *testing.T) {
	cfg := fastConfig()
	rec := &status.Recorder{}
	p := New(cfg, rec, nil)

	events := make(chan conversation.Event, 16)
	frameBytes := cfg.Audio.FrameBytes()
	// Two and a half frames of audio plus two text chunks.
	events <- conversation.Event{Type: conversation.EventAudio, Audio: make([]byte, frameBytes)}
	events <- conversation.Event{Type: conversation.EventAgentText, Text: "hello "}
	events <- conversation.Event{Type: conversation.EventAudio, Audio: make([]byte, frameBytes+frameBytes/2)}
	events <- conversation.Event{Type: conversation.EventAgentText, Text: "world"}

	sink := startedSink(t, cfg.Audio)
	m := longTurnMetrics(40)
	res := p.Play(events, sink, Options{Metrics: m})

	if res.Err != nil {
		t.Fatalf("Play failed: %v", res.Err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if !res.SawAudio {
		t.Error("Expected audio to be observed")
	}

	// 2.5 frames in, 3 padded frames out.
	frames := sink.Frames()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 speaker frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if len(frame) != frameBytes {
			t.Errorf("Frame %d is %d bytes, want %d", i, len(frame), frameBytes)
		}
	}

	// The speaking animation fired once audio started.
	sawSpeaking := false
	for _, code := range rec.Codes() {
		if code == status.Speaking {
			sawSpeaking = true
		}
	}
	if !sawSpeaking {
		t.Error("Expected the speaking status code")
	}

	if m.AgentAudioBytes != 2*frameBytes+frameBytes/2 {
		t.Errorf("Agent audio bytes = %d", m.AgentAudioBytes)
	}
	if m.FirstContentAt().IsZero() {
		t.Error("Expected first-content timestamp to be set")
	}
}

func TestPlay_StragglerRestartsIdleClock(t *testing.T) {
	cfg := fastConfig()
	cfg.GraceDrain = 150 * time.Millisecond
	p := New(cfg, nil, nil)

	events := make(chan conversation.Event, 4)
	events <- conversation.Event{Type: conversation.EventAgentText, Text: "first"}

	// Deliver a straggler during the grace drain window.
	go func() {
		time.Sleep(cfg.ContentIdle + cfg.GraceDrain/2)
		events <- conversation.Event{Type: conversation.EventAgentText, Text: " second"}
	}()

	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{Metrics: longTurnMetrics(40)})

	if res.Text != "first second" {
		t.Errorf("Text = %q, want %q", res.Text, "first second")
	}
}

func TestPlay_FirstTurnBargeIn(t *testing.T) {
	cfg := fastConfig()
	rec := &status.Recorder{}
	p := New(cfg, rec, nil)

	events := make(chan conversation.Event, 64)
	frame := make([]byte, cfg.Audio.FrameBytes())

	// A greeting that keeps streaming well past the barge window.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			select {
			case events <- conversation.Event{Type: conversation.EventAudio, Audio: frame}:
			default:
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{FirstTurn: true, Metrics: longTurnMetrics(40)})
	<-done

	if !res.BargedIn {
		t.Fatal("Expected a first-turn barge-in")
	}
	if rec.Last() != status.Muted {
		t.Errorf("Barge should hand the mic back, last code %c", rec.Last())
	}
}

func TestPlay_StaleBargedAudioDiscarded(t *testing.T) {
	cfg := fastConfig()
	p := New(cfg, nil, nil)

	// The tail of a barged-in greeting kept streaming while the user
	// spoke; it is sitting in the channel when the next response turn
	// starts. None of it may reach the speaker.
	events := make(chan conversation.Event, 32)
	frame := make([]byte, cfg.Audio.FrameBytes())
	for i := 0; i < 15; i++ {
		events <- conversation.Event{Type: conversation.EventAudio, Audio: frame}
	}
	events <- conversation.Event{Type: conversation.EventAgentText, Text: "stale greeting"}

	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{Metrics: longTurnMetrics(40)})

	if res.SawAudio || len(sink.Frames()) != 0 {
		t.Errorf("Stale audio replayed: %d frames reached the speaker", len(sink.Frames()))
	}
	if res.Text != "" {
		t.Errorf("Stale text surfaced as fresh response: %q", res.Text)
	}
	if res.Err != nil {
		t.Errorf("Unexpected error: %v", res.Err)
	}
}

func TestPlay_ConnectionLossSurfaces(t *testing.T) {
	cfg := fastConfig()
	p := New(cfg, nil, nil)

	events := make(chan conversation.Event)
	go func() {
		time.Sleep(10 * time.Millisecond)
		events <- conversation.Event{Type: conversation.EventAgentText, Text: "cut"}
		close(events)
	}()

	sink := startedSink(t, cfg.Audio)
	res := p.Play(events, sink, Options{Metrics: longTurnMetrics(40)})

	if res.Err == nil {
		t.Fatal("Expected the connection loss to surface")
	}
	if res.Text != "cut" {
		t.Errorf("Partial text should survive, got %q", res.Text)
	}
}

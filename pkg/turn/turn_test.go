package turn

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
)

// fastConfig shrinks the frame cadence so turn tests run in
// milliseconds while keeping the chunk arithmetic identical.
func fastConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Audio.FrameDuration = time.Millisecond
	cfg.MinSpokenMs = 26
	cfg.SilenceEndMs = 50
	cfg.StabilizeDelay = 2 * time.Millisecond
	return cfg
}

// scriptClassifier marks frames voiced when their first byte is nonzero.
type scriptClassifier struct{}

func (scriptClassifier) Classify(frame []byte) bool {
	return len(frame) > 0 && frame[0] != 0
}

type recordingSender struct {
	frames [][]byte
	failAt int
	err    error
}

func (s *recordingSender) SendFrame(frame []byte) error {
	if s.err != nil && s.failAt > 0 && len(s.frames) >= s.failAt {
		return s.err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *recordingSender) syntheticTail() int {
	n := 0
	for i := len(s.frames) - 1; i >= 0; i-- {
		if frame := s.frames[i]; frame[0] == 0 && allZero(frame) {
			n++
		} else {
			break
		}
	}
	return n
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

type recordingGate struct {
	disables int
	enables  int
}

func (g *recordingGate) Enable()  { g.enables++ }
func (g *recordingGate) Disable() { g.disables++ }

func voicedFrame(cfg audioio.Config) []byte {
	frame := make([]byte, cfg.FrameBytes())
	for i := range frame {
		frame[i] = byte(i%250 + 1)
	}
	return frame
}

func newTestController(t *testing.T, cfg Config, flags *Flags, forced *ForcedEnd, gate ScanGate) *Controller {
	t.Helper()
	c, err := NewController(cfg, scriptClassifier{}, flags, forced, gate, nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestConfig_ChunkArithmetic(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.MinChunks(); got != 26 {
		t.Errorf("Expected 26 min chunks, got %d", got)
	}
	if got := cfg.EndSilenceChunks(); got != 50 {
		t.Errorf("Expected 50 end-silence chunks, got %d", got)
	}
}

func TestNewController_Validation(t *testing.T) {
	flags := NewFlags()
	forced := NewForcedEnd()

	cfg := DefaultConfig()
	if _, err := NewController(cfg, nil, flags, forced, nil, nil); err == nil {
		t.Error("Expected error for voice-activity mode without classifier")
	}

	cfg.Mode = ModePushToTalk
	if _, err := NewController(cfg, nil, flags, forced, nil, nil); err != nil {
		t.Errorf("Push-to-talk without classifier should be fine, got %v", err)
	}

	cfg.Mode = "bogus"
	if _, err := NewController(cfg, nil, flags, forced, nil, nil); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestVoiceActivity_EndToEndTurn(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	gate := &recordingGate{}
	ctrl := newTestController(t, cfg, flags, forced, gate)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// 1200 ms of continuous speech then 1600 ms of silence, scaled to
	// the fast cadence: 40 voiced frames, then 54 unvoiced.
	src.QueueRepeat(voicedFrame(cfg.Audio), 40)
	src.QueueRepeat(make([]byte, cfg.Audio.FrameBytes()), 54)

	sender := &recordingSender{}
	res := ctrl.Run(context.Background(), src, sender)
	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if res.ExternallyTriggered {
		t.Error("Natural silence end must not be flagged externally triggered")
	}

	voiced := res.Metrics.VoicedFrames + cfg.StartGateFrames
	if voiced < cfg.MinChunks() {
		t.Errorf("Expected at least %d voiced chunks, got %d", cfg.MinChunks(), voiced)
	}
	if res.Metrics.UnvoicedFrames < cfg.EndSilenceChunks() {
		t.Errorf("Expected at least %d trailing silence chunks, got %d", cfg.EndSilenceChunks(), res.Metrics.UnvoicedFrames)
	}

	// The trailing silence was real audio, so no synthetic tail.
	if res.Metrics.SyntheticMs != 0 {
		t.Errorf("Natural end must not send synthetic frames, got %v ms", res.Metrics.SyntheticMs)
	}

	// Preroll means the first flushed frame is voiced audio.
	if len(sender.frames) == 0 || allZero(sender.frames[0]) {
		t.Error("Expected flushed preroll to carry voiced audio first")
	}

	if gate.disables != 1 || gate.enables != 1 {
		t.Errorf("Expected one disable/enable pair, got %d/%d", gate.disables, gate.enables)
	}
}

func TestVoiceActivity_StartGateHoldsThroughBlips(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Blips shorter than the start gate never open a turn.
	silence := make([]byte, cfg.Audio.FrameBytes())
	for i := 0; i < 4; i++ {
		src.QueueRepeat(voicedFrame(cfg.Audio), cfg.StartGateFrames-1)
		src.Queue(silence)
	}

	sender := &recordingSender{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := ctrl.Run(ctx, src, sender)

	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("Expected the wait to outlive the script, got %v", res.Err)
	}
	if len(sender.frames) != 0 {
		t.Errorf("No frames should be sent before the start gate, got %d", len(sender.frames))
	}
}

func TestVoiceActivity_ForcedEndMidRecording(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.QueueRepeat(voicedFrame(cfg.Audio), cfg.StartGateFrames+3)

	// Raise the forced end once the script runs dry.
	go func() {
		for src.Pending() > 0 {
			time.Sleep(time.Millisecond)
		}
		forced.Set()
	}()

	sender := &recordingSender{}
	res := ctrl.Run(context.Background(), src, sender)
	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if !res.ExternallyTriggered {
		t.Error("Forced end must flag the turn externally triggered")
	}

	// Exactly one synthetic silence tail, and it is the last audio sent.
	if got := sender.syntheticTail(); got != cfg.EndSilenceChunks() {
		t.Errorf("Expected %d synthetic tail frames, got %d", cfg.EndSilenceChunks(), got)
	}
	wantSynthetic := float64(cfg.EndSilenceChunks()) * cfg.Audio.FrameMs()
	if res.Metrics.SyntheticMs != wantSynthetic {
		t.Errorf("Expected %v synthetic ms, got %v", wantSynthetic, res.Metrics.SyntheticMs)
	}

	if forced.Pending() {
		t.Error("Forced end must be consumed by the controller")
	}
}

func TestVoiceActivity_ForcedEndWhileWaiting(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	forced.Set()
	sender := &recordingSender{}
	res := ctrl.Run(context.Background(), src, sender)

	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if !res.ExternallyTriggered {
		t.Error("Aborted wait must be flagged externally triggered")
	}
	if len(sender.frames) != 0 {
		t.Errorf("Aborted wait must send no audio, got %d frames", len(sender.frames))
	}
}

func TestVoiceActivity_MuteDoesNotResetSilenceRun(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	silence := make([]byte, cfg.Audio.FrameBytes())
	src.QueueRepeat(voicedFrame(cfg.Audio), cfg.MinChunks()+2)
	src.QueueRepeat(silence, 10)
	muteMark := src.Pending()
	src.QueueRepeat(silence, cfg.EndSilenceChunks()+20)

	// Mute partway into the trailing silence; the run must carry on
	// accumulating once unmuted rather than starting over.
	go func() {
		for src.Pending() > muteMark {
			time.Sleep(time.Millisecond)
		}
		flags.SetMuted(true)
		time.Sleep(5 * time.Millisecond)
		flags.SetMuted(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sender := &recordingSender{}
	res := ctrl.Run(ctx, src, sender)
	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if res.ExternallyTriggered {
		t.Error("Turn should end on silence, not a forced end")
	}
}

func TestVoiceActivity_MuteFreezesStartGate(t *testing.T) {
	cfg := fastConfig(ModeVoiceActivity)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitDrained := func() {
		for src.Pending() > 0 {
			time.Sleep(time.Millisecond)
		}
	}

	// Most of the start gate, then a muted stretch, then the rest.
	// The muted frames are dropped but must not reset the run, so the
	// gate still opens on the combined total. The margin frames absorb
	// one straddling the mute edge.
	go func() {
		src.QueueRepeat(voicedFrame(cfg.Audio), cfg.StartGateFrames-2)
		waitDrained()
		flags.SetMuted(true)
		src.QueueRepeat(voicedFrame(cfg.Audio), 10)
		waitDrained()
		flags.SetMuted(false)
		src.QueueRepeat(voicedFrame(cfg.Audio), 3)
		waitDrained()
		forced.Set()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sender := &recordingSender{}
	res := ctrl.Run(ctx, src, sender)

	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if !res.ExternallyTriggered {
		t.Error("Forced end must flag the turn externally triggered")
	}
	// Recording started, so the preroll was flushed: real voiced audio
	// ahead of the synthetic tail.
	if len(sender.frames) == 0 || allZero(sender.frames[0]) {
		t.Fatal("Expected the start gate to open and flush voiced preroll audio")
	}
	if got := sender.syntheticTail(); got != cfg.EndSilenceChunks() {
		t.Errorf("Expected %d synthetic tail frames, got %d", cfg.EndSilenceChunks(), got)
	}
}

func TestPushToTalk_Turn(t *testing.T) {
	cfg := fastConfig(ModePushToTalk)
	flags := NewFlags()
	flags.SetMuted(true)
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.QueueRepeat(voicedFrame(cfg.Audio), 30)

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		flags.SetMuted(false) // press
		for src.Pending() > 0 {
			time.Sleep(time.Millisecond)
		}
		flags.SetMuted(true) // release
	}()

	sender := &recordingSender{}
	res := ctrl.Run(context.Background(), src, sender)
	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}

	// First outbound frame comes no earlier than press + stabilization.
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond+cfg.StabilizeDelay {
		t.Errorf("Turn finished before the stabilization delay could have elapsed: %v", elapsed)
	}

	if got := sender.syntheticTail(); got != cfg.EndSilenceChunks() {
		t.Errorf("Release must send exactly %d synthetic frames, got %d", cfg.EndSilenceChunks(), got)
	}
	real := len(sender.frames) - cfg.EndSilenceChunks()
	if real != 30 {
		t.Errorf("Expected 30 captured frames before the tail, got %d", real)
	}
	for _, frame := range sender.frames {
		if len(frame) != cfg.Audio.FrameBytes() {
			t.Fatalf("Every outbound frame must be %d bytes, got %d", cfg.Audio.FrameBytes(), len(frame))
		}
	}
}

func TestPushToTalk_HeldButtonDoesNotStartTurn(t *testing.T) {
	cfg := fastConfig(ModePushToTalk)
	flags := NewFlags() // unmuted, as if the button never got released
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.QueueRepeat(voicedFrame(cfg.Audio), 30)

	// Without a fresh press the turn must stay in its waiting state.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sender := &recordingSender{}
	res := ctrl.Run(ctx, src, sender)

	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("Expected the turn to wait for a press, got %v", res.Err)
	}
	if len(sender.frames) != 0 {
		t.Errorf("A stale press must not record anything, got %d frames", len(sender.frames))
	}
	if !flags.Muted() {
		t.Error("Turn entry must rearm the mute flag")
	}
}

func TestPushToTalk_SendFailurePropagates(t *testing.T) {
	cfg := fastConfig(ModePushToTalk)
	flags := NewFlags()
	forced := NewForcedEnd()
	ctrl := newTestController(t, cfg, flags, forced, nil)

	src := audioio.NewMockSource(cfg.Audio, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.QueueRepeat(voicedFrame(cfg.Audio), 10)

	go func() {
		time.Sleep(5 * time.Millisecond)
		flags.SetMuted(false) // press
	}()

	wantErr := errors.New("connection reset")
	sender := &recordingSender{failAt: 3, err: wantErr}
	res := ctrl.Run(context.Background(), src, sender)

	if !errors.Is(res.Err, wantErr) {
		t.Fatalf("Expected send failure to propagate, got %v", res.Err)
	}
	if len(sender.frames) != 3 {
		t.Errorf("Expected 3 frames before the failure, got %d", len(sender.frames))
	}
}

func TestForcedEnd_SingleSlot(t *testing.T) {
	f := NewForcedEnd()

	if f.Consume() {
		t.Error("Fresh signal must not be pending")
	}

	f.Set()
	f.Set() // second set before consumption is a no-op
	if !f.Pending() {
		t.Error("Expected pending after Set")
	}
	if !f.Consume() {
		t.Error("Expected Consume to observe the signal")
	}
	if f.Consume() {
		t.Error("Double set must collapse to a single pending signal")
	}
}

func TestMetrics_EffectiveSpokenMs(t *testing.T) {
	m := NewMetrics(30)
	for i := 0; i < 20; i++ {
		m.AddFrame(960, false)
	}
	for i := 0; i < 5; i++ {
		m.AddFrame(960, true)
	}

	if got := m.MsSent; got != 750 {
		t.Errorf("Expected 750 ms sent, got %v", got)
	}
	if got := m.EffectiveSpokenMs(); got != 600 {
		t.Errorf("Expected 600 effective ms, got %v", got)
	}
	if m.BytesSent != 25*960 {
		t.Errorf("Unexpected byte count %d", m.BytesSent)
	}
}

func TestMetrics_FirstContentStampedOnce(t *testing.T) {
	m := NewMetrics(30)
	if !m.FirstContentAt().IsZero() {
		t.Fatal("Expected zero first-content time before any content")
	}

	m.AddAgentAudio(100)
	first := m.FirstContentAt()
	if first.IsZero() {
		t.Fatal("Expected first-content time after audio")
	}
	time.Sleep(2 * time.Millisecond)
	m.AddAgentText(10)
	if !m.FirstContentAt().Equal(first) {
		t.Error("First-content time must not move on later content")
	}
}

func TestFrameRing_KeepsNewest(t *testing.T) {
	r := newFrameRing(3)
	for i := 0; i < 5; i++ {
		r.push([]byte{byte(i)})
	}
	frames := r.drain()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	want := []byte{2, 3, 4}
	for i, frame := range frames {
		if !bytes.Equal(frame, []byte{want[i]}) {
			t.Errorf("Frame %d = %v, want [%d]", i, frame, want[i])
		}
	}
}

package turn

import "time"

// Metrics accumulates per-turn counters. A fresh Metrics is created at
// turn start, filled in by the controller and the response player in
// sequence, read once at turn end, then discarded. It is not shared
// across goroutines.
type Metrics struct {
	frameMs float64

	// Outbound side, filled by the controller.
	FramesSent     int
	BytesSent      int
	MsSent         float64
	SyntheticMs    float64
	VoicedFrames   int
	UnvoicedFrames int
	ZeroReads      int

	// Inbound side, filled by the response player.
	AgentAudioBytes int
	AgentTextBytes  int
	Transcripts     int

	firstContent time.Time
}

// NewMetrics creates counters for a turn with the given frame length.
func NewMetrics(frameMs float64) *Metrics {
	return &Metrics{frameMs: frameMs}
}

// AddFrame records one outbound frame. Synthetic frames count toward
// MsSent but are excluded from the effective spoken duration.
func (m *Metrics) AddFrame(bytes int, synthetic bool) {
	m.FramesSent++
	m.BytesSent += bytes
	m.MsSent += m.frameMs
	if synthetic {
		m.SyntheticMs += m.frameMs
	}
}

// AddVoiced records the classifier's verdict for one captured frame.
func (m *Metrics) AddVoiced(voiced bool) {
	if voiced {
		m.VoicedFrames++
	} else {
		m.UnvoicedFrames++
	}
}

// AddZeroRead records a tick on which the capture device had no data.
func (m *Metrics) AddZeroRead() {
	m.ZeroReads++
}

// MarkAgentContent stamps the first moment any agent payload arrived.
// Later calls are no-ops.
func (m *Metrics) MarkAgentContent() {
	if m.firstContent.IsZero() {
		m.firstContent = time.Now()
	}
}

// FirstContentAt returns when agent content first arrived, or the zero
// time if none did.
func (m *Metrics) FirstContentAt() time.Time {
	return m.firstContent
}

// AddAgentAudio records inbound agent audio bytes.
func (m *Metrics) AddAgentAudio(n int) {
	m.AgentAudioBytes += n
	m.MarkAgentContent()
}

// AddAgentText records inbound agent text bytes.
func (m *Metrics) AddAgentText(n int) {
	m.AgentTextBytes += n
	m.MarkAgentContent()
}

// AddTranscript records one user transcript event.
func (m *Metrics) AddTranscript() {
	m.Transcripts++
}

// EffectiveSpokenMs returns how much real (non-synthetic) audio the
// user turn streamed out. This drives the short-turn fast path.
func (m *Metrics) EffectiveSpokenMs() float64 {
	return m.MsSent - m.SyntheticMs
}

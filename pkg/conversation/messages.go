package conversation

// Wire shapes for the conversational streaming protocol. Outbound
// messages are small enough that ad-hoc maps, as opposed to dedicated
// structs, keep the envelope layout visible at the call site.

// initMessage builds the conversation initiation payload. The audio
// format is negotiated to raw 16 kHz PCM in both directions.
// suppressGreeting blanks the agent's first message, used on every
// connection after the greeting has already played once.
func initMessage(suppressGreeting bool, ttsVolume float64) map[string]any {
	tts := map[string]any{"output_audio_format": "pcm_16000"}
	if ttsVolume > 0 {
		tts["volume"] = ttsVolume
	}

	override := map[string]any{
		"tts": tts,
		"asr": map[string]any{"input_audio_format": "pcm_16000"},
	}
	if suppressGreeting {
		override["agent"] = map[string]any{"first_message": ""}
	}

	return map[string]any{
		"type":                         "conversation_initiation_client_data",
		"conversation_config_override": override,
	}
}

// audioChunkMessage wraps one base64 PCM frame. The envelope is flat,
// not type-tagged.
func audioChunkMessage(encoded string) map[string]string {
	return map[string]string{"user_audio_chunk": encoded}
}

// userMessage wraps a text phrase injected on the user's behalf.
func userMessage(text string) map[string]string {
	return map[string]string{"type": "user_message", "text": text}
}

// activityMessage is the keepalive notice.
func activityMessage() map[string]string {
	return map[string]string{"type": "user_activity"}
}

// pongMessage answers a server ping.
func pongMessage(eventID int) map[string]any {
	return map[string]any{"type": "pong", "event_id": eventID}
}

// serverMessage is the union of inbound payload shapes. Unknown types
// decode with all event pointers nil and are ignored.
type serverMessage struct {
	Type string `json:"type"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event"`
}

// EventType identifies one inbound session event.
type EventType string

const (
	// EventAudio carries a decoded agent audio chunk.
	EventAudio EventType = "audio"
	// EventAgentText carries an agent response text chunk.
	EventAgentText EventType = "agent_text"
	// EventTranscript carries the recognized text of the user's own
	// speech. Informational only.
	EventTranscript EventType = "transcript"
	// EventActivityAck acknowledges a keepalive. Informational only.
	EventActivityAck EventType = "activity_ack"
)

// Event is one inbound message, delivered in strict arrival order.
type Event struct {
	Type  EventType
	Audio []byte
	Text  string
}

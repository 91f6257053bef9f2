// Package config loads appliance configuration from the tmpfs env file
// written at boot by the provisioning collaborator, with process
// environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// InputMode selects how a user turn is started and ended.
type InputMode string

const (
	// ModePushToTalk starts a turn on button press and ends it on release.
	ModePushToTalk InputMode = "PTT"
	// ModeVoiceActivity starts and ends turns from the voice activity
	// classifier, hands-free.
	ModeVoiceActivity InputMode = "VAD"
)

// Defaults for the deployment.
const (
	DefaultEnvFile  = "/tmp/aiflow.env"
	DefaultBaseDir  = "/home/orb/AIflow"
	DefaultEndpoint = "wss://api.elevenlabs.io/v1/convai/conversation"
	DefaultVADMode  = 3
)

// Config is the validated appliance configuration.
type Config struct {
	// APIKey authenticates against the conversational backend.
	APIKey string

	// AgentID selects the backend agent identity.
	AgentID string

	// Endpoint is the backend websocket base URL.
	Endpoint string

	// InputMode selects push-to-talk or voice-activity turn taking.
	InputMode InputMode

	// MicDevice and SpeakerDevice are platform device identifiers.
	MicDevice     string
	SpeakerDevice string

	// SerialPort is the status-animation serial device.
	SerialPort string

	// BaseDir holds per-agent assets (validation WAV, beep, tag map).
	BaseDir string

	// TagsURL, when set, is fetched for the tag map before falling back
	// to the on-disk copy under BaseDir.
	TagsURL string

	// DiagAddr enables the diagnostics HTTP server when non-empty.
	DiagAddr string

	// VADMode is the classifier aggressiveness, 0..3.
	VADMode int

	// ShortTurn is the effective-spoken-duration threshold below which
	// the response phase is skipped entirely.
	ShortTurn time.Duration

	// BargeAfter is the first-turn barge-in window after first content.
	BargeAfter time.Duration

	// TTSVolume scales agent playback volume when > 0; zero leaves the
	// agent's own setting untouched.
	TTSVolume float64

	// LogLevel is the slog level name.
	LogLevel string
}

// Load reads the env file at path (missing file is not an error; the
// process environment may already be populated) and builds a Config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := &Config{
		APIKey:        os.Getenv("ELEVENLABS_API_KEY"),
		AgentID:       os.Getenv("AGENT_ID"),
		Endpoint:      envOr("WS_ENDPOINT", DefaultEndpoint),
		InputMode:     InputMode(envOr("INPUT_MODE", string(ModePushToTalk))),
		MicDevice:     envOr("MIC_DEVICE", "plughw:0,0"),
		SpeakerDevice: envOr("SPK_DEVICE", "plughw:0,0"),
		SerialPort:    envOr("SERIAL_PORT", "/dev/ttyUSB0"),
		BaseDir:       envOr("AIFLOW_BASE_DIR", DefaultBaseDir),
		TagsURL:       os.Getenv("TAGS_URL"),
		DiagAddr:      os.Getenv("DIAG_ADDR"),
		VADMode:       envInt("VAD_MODE", DefaultVADMode),
		ShortTurn:     time.Duration(envInt("SHORT_TURN_MS", 800)) * time.Millisecond,
		BargeAfter:    time.Duration(envInt("BARGE_AFTER_MS", 500)) * time.Millisecond,
		TTSVolume:     envFloat("TTS_VOLUME", 0),
		LogLevel:      envOr("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and normalizes the input mode.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: ELEVENLABS_API_KEY is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("config: AGENT_ID is required")
	}
	switch c.InputMode {
	case ModePushToTalk, ModeVoiceActivity:
	case "ptt", "Ptt":
		c.InputMode = ModePushToTalk
	case "vad", "Vad":
		c.InputMode = ModeVoiceActivity
	default:
		return fmt.Errorf("config: unknown INPUT_MODE %q", c.InputMode)
	}
	if c.VADMode < 0 || c.VADMode > 3 {
		return fmt.Errorf("config: VAD_MODE must be 0..3, got %d", c.VADMode)
	}
	return nil
}

// ValidationWAV is the per-agent audio sample played at startup and
// after a reconfiguration to confirm the audio path works.
func (c *Config) ValidationWAV() string {
	return filepath.Join(c.BaseDir, c.AgentID, "test.wav")
}

// BeepWAV is the short confirmation sound played on a tag scan.
func (c *Config) BeepWAV() string {
	return filepath.Join(c.BaseDir, "beep.wav")
}

// TagsFile is the on-disk tag map fallback.
func (c *Config) TagsFile() string {
	return filepath.Join(c.BaseDir, c.AgentID, "nfc_tags.json")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

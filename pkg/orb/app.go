// Package orb is the appliance orchestrator. It wires the audio
// devices, the voice activity classifier, the backend session, the tag
// router, the button tracker and the status sink into the Idle ⇄
// Conversing state machine, and owns every component's lifecycle.
package orb

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/internal/config"
	"github.com/CollaboratorFuturity/futuresGarden/internal/diag"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/audioio"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/button"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/conversation"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/player"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/tags"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/vad"
)

// State is the orchestrator's top-level mode.
type State int32

const (
	// StateIdle waits for a begin-conversation tag.
	StateIdle State = iota
	// StateConversing runs the user-turn / response loop.
	StateConversing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConversing:
		return "conversing"
	default:
		return "unknown"
	}
}

// session is the slice of conversation.Session the orchestrator needs,
// injectable for tests.
type session interface {
	Events() <-chan conversation.Event
	Done() <-chan struct{}
	Err() error
	SendInit(suppressGreeting bool) error
	SendText(text string) error
	SendActivity() error
	SendFrame(frame []byte) error
	SetIdle(idle bool)
	Close() error
}

var _ session = (*conversation.Session)(nil)

// App is the appliance application. Construct with New, then Init,
// Run, and Shutdown on the way out.
type App struct {
	envPath string
	cfg     *config.Config

	flags  *turn.Flags
	forced *turn.ForcedEnd

	stat     status.Sink
	registry *audioio.Registry
	queue    *conversation.PendingQueue
	tagMap   *tags.Map
	router   *tags.Router
	buttons  *button.Tracker
	diag     *diag.Server
	backoff  *conversation.Backoff
	logger   *slog.Logger

	// Rebuilt by applyConfig on a reload.
	micCfg     audioio.Config
	spkCfg     audioio.Config
	convCfg    conversation.Config
	controller *turn.Controller
	play       *player.Player

	state   atomic.Int32
	greeted bool
	turns   int

	// beepMu keeps scan beeps from stacking on the speaker.
	beepMu sync.Mutex

	// Test seams; defaulted in New.
	dial       func(ctx context.Context) (session, error)
	openSource func() (audioio.Source, error)
	openSink   func() (audioio.Sink, error)
}

// New wires the application from a validated configuration. The status
// sink is passed in so the entrypoint can guarantee a final shutdown
// code even when construction fails halfway.
func New(envPath string, cfg *config.Config, stat status.Sink, logger *slog.Logger) (*App, error) {
	if stat == nil {
		stat = status.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		envPath:  envPath,
		stat:     stat,
		logger:   logger,
		flags:    turn.NewFlags(),
		forced:   turn.NewForcedEnd(),
		registry: audioio.NewRegistry(logger),
		queue:    conversation.NewPendingQueue(conversation.DefaultQueueCap, logger),
		backoff:  conversation.NewBackoff(),
	}
	// Everything starts muted; the button tracker unmutes.
	a.flags.SetMuted(true)

	if err := a.applyConfig(cfg); err != nil {
		return nil, err
	}

	a.tagMap = tags.NewMap(cfg.TagsURL, cfg.TagsFile(), logger)
	a.router = tags.NewRouter(a.tagMap, a.forced, a.queue, logger)
	a.router.OnScan = func(string) { go a.playBeep() }
	a.router.Conversing = func() bool { return a.State() == StateConversing }
	a.buttons = button.NewTracker(a.flags, stat, func() bool {
		return a.State() == StateConversing
	}, logger)

	if cfg.DiagAddr != "" {
		a.diag = diag.NewServer(cfg.DiagAddr, logger)
	}

	a.dial = func(ctx context.Context) (session, error) {
		return conversation.Dial(ctx, a.convCfg, a.logger)
	}
	a.openSource = func() (audioio.Source, error) {
		return audioio.NewSource(a.micCfg, a.logger)
	}
	a.openSink = func() (audioio.Sink, error) {
		return audioio.NewSink(a.spkCfg, a.logger)
	}
	return a, nil
}

// applyConfig rebuilds every config-derived component. Called at
// construction and again on a forced reconfiguration.
func (a *App) applyConfig(cfg *config.Config) error {
	micCfg := audioio.DefaultConfig()
	micCfg.Device = cfg.MicDevice
	spkCfg := audioio.DefaultConfig()
	spkCfg.Device = cfg.SpeakerDevice

	classifier, err := vad.New(cfg.VADMode, micCfg)
	if err != nil {
		return err
	}

	turnCfg := turn.DefaultConfig()
	turnCfg.Mode = turn.Mode(cfg.InputMode)
	turnCfg.Audio = micCfg
	controller, err := turn.NewController(turnCfg, classifier, a.flags, a.forced,
		statusGate{app: a}, a.logger)
	if err != nil {
		return err
	}

	convCfg := conversation.DefaultConfig()
	convCfg.APIKey = cfg.APIKey
	convCfg.AgentID = cfg.AgentID
	convCfg.Endpoint = cfg.Endpoint
	convCfg.TTSVolume = cfg.TTSVolume
	if err := convCfg.Validate(); err != nil {
		return err
	}

	playCfg := player.DefaultConfig()
	playCfg.Audio = spkCfg
	playCfg.ShortTurnMs = float64(cfg.ShortTurn.Milliseconds())
	playCfg.BargeAfter = cfg.BargeAfter

	a.cfg = cfg
	a.micCfg = micCfg
	a.spkCfg = spkCfg
	a.convCfg = convCfg
	a.controller = controller
	a.play = player.New(playCfg, a.stat, a.logger)
	return nil
}

// State returns the orchestrator's current mode.
func (a *App) State() State {
	return State(a.state.Load())
}

func (a *App) transition(to State) {
	from := State(a.state.Swap(int32(to)))
	if from != to {
		a.logger.Info("state transition", "from", from.String(), "to", to.String())
	}
	a.updateDiag(func(s *diag.State) {
		s.AppState = to.String()
		s.InputMode = string(a.cfg.InputMode)
		s.Muted = a.flags.Muted()
	})
}

func (a *App) updateDiag(fn func(*diag.State)) {
	if a.diag != nil {
		a.diag.Update(fn)
	}
}

// Init brings up the passive pieces: splash status, diagnostics, and a
// validation playback confirming the audio path before anything
// depends on it. Playback failure is logged, not fatal; the appliance
// must come up even with a flaky speaker.
func (a *App) Init(ctx context.Context) error {
	a.stat.Write(status.Splash)
	if a.diag != nil {
		a.diag.Start()
	}
	if err := a.playWAV(ctx, a.cfg.ValidationWAV()); err != nil {
		a.logger.Warn("startup validation playback failed", "error", err)
	}
	a.logger.Info("appliance ready",
		"agent", a.cfg.AgentID, "mode", a.cfg.InputMode, "tags", a.tagMap.Len())
	return nil
}

// Run drives the Idle ⇄ Conversing state machine until ctx is
// cancelled. Tag events and button edges come from the hardware
// readers owned by the caller.
func (a *App) Run(ctx context.Context, tagEvents <-chan tags.Event, edges <-chan button.Edge) error {
	go a.router.Run(ctx, tagEvents)
	go a.buttons.Run(ctx, edges)

	for {
		a.transition(StateIdle)
		a.stat.Write(status.Splash)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-a.router.Controls():
			switch c {
			case tags.ControlBegin:
				a.transition(StateConversing)
				reload, err := a.converse(ctx)
				if err != nil {
					return err
				}
				if reload {
					a.reload(ctx)
				}
			case tags.ControlReload:
				a.reload(ctx)
			}
		}
	}
}

// Shutdown releases everything and locks the status display. Safe on
// every exit path, including a half-constructed run.
func (a *App) Shutdown() {
	a.flags.RequestStop()
	a.registry.CloseAll()
	if a.diag != nil {
		if err := a.diag.Shutdown(); err != nil {
			a.logger.Warn("diagnostics shutdown", "error", err)
		}
	}
	a.stat.Write(status.Shutdown)
	if err := a.stat.Close(); err != nil {
		a.logger.Warn("status sink close", "error", err)
	}
	a.logger.Info("appliance stopped", "turns", a.turns)
}

// reload is the forced reconfiguration: synchronous, only ever run
// from Idle. A failed env re-read keeps the old configuration.
func (a *App) reload(ctx context.Context) {
	a.stat.Write(status.Loading)

	cfg, err := config.Load(a.envPath)
	if err != nil {
		a.logger.Error("reload failed, keeping configuration", "error", err)
		a.stat.Write(status.Splash)
		return
	}
	if err := a.applyConfig(cfg); err != nil {
		a.logger.Error("reload rejected, keeping configuration", "error", err)
		a.stat.Write(status.Splash)
		return
	}

	// A new identity needs a fresh greeting and its own tag map.
	a.greeted = false
	a.tagMap.SetLocation(cfg.TagsURL, cfg.TagsFile())
	if err := a.tagMap.Reload(); err != nil {
		a.logger.Warn("tag map reload failed, keeping previous map", "error", err)
	}
	if err := a.playWAV(ctx, cfg.ValidationWAV()); err != nil {
		a.logger.Warn("validation playback failed", "error", err)
	}

	a.logger.Info("configuration reloaded",
		"agent", cfg.AgentID, "mode", cfg.InputMode, "tags", a.tagMap.Len())
	a.stat.Write(status.Splash)
}

// playWAV plays one file through a freshly opened speaker, best effort.
func (a *App) playWAV(ctx context.Context, path string) error {
	sink, err := a.openSink()
	if err != nil {
		return err
	}
	id := a.registry.Track(sink)
	defer a.registry.Release(id)

	if err := sink.Start(ctx); err != nil {
		return err
	}
	defer sink.Stop()
	return audioio.PlayWAVFile(ctx, path, sink)
}

func (a *App) playBeep() {
	a.beepMu.Lock()
	defer a.beepMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.playWAV(ctx, a.cfg.BeepWAV()); err != nil {
		a.logger.Debug("scan beep failed", "error", err)
	}
}

// statusGate couples the tag-scan gate to the status display: while
// recording, scanning is off and the animation shows the tag-muted
// face.
type statusGate struct {
	app *App
}

func (g statusGate) Disable() {
	g.app.router.Disable()
	g.app.stat.Write(status.ScanMuted)
}

func (g statusGate) Enable() {
	g.app.router.Enable()
}

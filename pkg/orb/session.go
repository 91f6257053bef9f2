package orb

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CollaboratorFuturity/futuresGarden/internal/diag"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/player"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/tags"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/turn"
)

// micRetryDelay is the coarse retry interval after a fatal local
// fault like an unopenable capture device.
const micRetryDelay = 2 * time.Second

// converse owns the Conversing state: dial with backoff, run the
// session until it drops, reconnect forever. It returns reload=true
// when a reconfiguration tag interrupted it, and a non-nil error only
// on cancellation.
func (a *App) converse(ctx context.Context) (reload bool, err error) {
	// A forced-end left over from a previous conversation must not
	// abort this one's first turn.
	a.forced.Consume()
	a.router.Enable()

	for {
		if err := ctx.Err(); err != nil || a.flags.Stopping() {
			return false, err
		}

		sess, dialErr := a.dial(ctx)
		if dialErr != nil {
			delay := a.backoff.Next()
			a.logger.Warn("dial failed, retrying", "error", dialErr, "delay", delay)
			reload, err := a.waitOrControl(ctx, delay)
			if reload || err != nil {
				return reload, err
			}
			continue
		}
		a.backoff.Reset()

		reload, err := a.runSession(ctx, sess)

		a.router.SetSender(nil)
		if cerr := sess.Close(); cerr != nil {
			a.logger.Debug("session close", "error", cerr)
		}
		a.updateDiag(func(s *diag.State) {
			s.Connected = false
			s.Reconnects++
		})

		if reload || err != nil {
			return reload, err
		}
		if serr := sess.Err(); serr != nil {
			a.logger.Warn("session lost, reconnecting", "error", serr)
		}
	}
}

// runSession drives one live connection: init, greeting, then the
// user-turn / response loop. A nil return with reload=false means the
// connection died and the caller should redial.
func (a *App) runSession(ctx context.Context, sess session) (reload bool, err error) {
	if err := sess.SendInit(a.greeted); err != nil {
		a.logger.Warn("init send failed", "error", err)
		return false, nil
	}
	if err := sess.SendActivity(); err != nil {
		a.logger.Debug("activity nudge failed", "error", err)
	}

	// Tag phrases buffered while offline go out now, in order.
	a.router.SetSender(sess)
	a.updateDiag(func(s *diag.State) {
		s.Connected = true
		s.PendingMessages = a.queue.Len()
	})

	log := a.logger.With("session_id", uuid.NewString())
	log.Info("session established", "greeted", a.greeted)

	if !a.greeted {
		res := a.respond(ctx, sess, player.Options{FirstTurn: true})
		if res.Err != nil {
			return false, nil
		}
		a.greeted = true
	}

	for {
		if err := ctx.Err(); err != nil || a.flags.Stopping() {
			return false, err
		}

		// Controls and a dead connection are both noticed between
		// turns; mid-turn interruptions arrive as forced ends.
		select {
		case c := <-a.router.Controls():
			if c == tags.ControlReload {
				return true, nil
			}
		case <-sess.Done():
			return false, nil
		default:
		}

		if a.flags.Muted() {
			a.stat.Write(status.Muted)
		} else {
			a.stat.Write(status.Listening)
		}

		sess.SetIdle(false)
		turnLog := log.With("turn_id", uuid.NewString())

		tres, opened := a.runUserTurn(ctx, sess, turnLog)
		if !opened {
			// Fatal local fault. Stay here and retry coarsely; the
			// appliance must not crash over a wedged capture device.
			if !a.sleep(ctx, micRetryDelay) {
				return false, ctx.Err()
			}
			continue
		}
		if tres.Err != nil {
			if err := ctx.Err(); err != nil || a.flags.Stopping() {
				return false, err
			}
			turnLog.Warn("turn aborted", "error", tres.Err)
			return false, nil
		}
		turnLog.Info("user turn complete",
			"frames", tres.Metrics.FramesSent,
			"effective_ms", tres.Metrics.EffectiveSpokenMs(),
			"forced", tres.ExternallyTriggered)

		pres := a.respond(ctx, sess, player.Options{
			Metrics:             tres.Metrics,
			ExternallyTriggered: tres.ExternallyTriggered,
		})

		a.router.Enable()
		sess.SetIdle(true)

		a.turns++
		a.updateDiag(func(s *diag.State) {
			s.Turns = a.turns
			s.LastTurnMs = tres.Metrics.MsSent
			s.Muted = a.flags.Muted()
			s.PendingMessages = a.queue.Len()
			if pres.Text != "" {
				s.LastAgentText = pres.Text
			}
		})

		if pres.Err != nil {
			return false, nil
		}
	}
}

// runUserTurn opens the microphone for exactly one turn. opened=false
// is the fatal-local-fault case: no device, no turn.
func (a *App) runUserTurn(ctx context.Context, sess session, log *slog.Logger) (turn.Result, bool) {
	mic, err := a.openSource()
	if err != nil {
		log.Error("microphone open failed", "error", err)
		return turn.Result{}, false
	}
	id := a.registry.Track(mic)
	defer a.registry.Release(id)

	if err := mic.Start(ctx); err != nil {
		log.Error("microphone start failed", "error", err)
		return turn.Result{}, false
	}
	defer mic.Stop()

	return a.controller.Run(ctx, mic, sess), true
}

// respond opens the speaker for exactly one agent response. A speaker
// fault degrades to a silent drain rather than killing the session.
func (a *App) respond(ctx context.Context, sess session, opts player.Options) player.Result {
	sink, err := a.openSink()
	if err != nil {
		a.logger.Error("speaker open failed", "error", err)
		return player.Result{}
	}
	id := a.registry.Track(sink)
	defer a.registry.Release(id)

	if err := sink.Start(ctx); err != nil {
		a.logger.Error("speaker start failed", "error", err)
		return player.Result{}
	}
	defer sink.Stop()

	return a.play.Play(sess.Events(), sink, opts)
}

// waitOrControl sleeps for the backoff delay but keeps watching the
// control channel, so a reload tag is not stuck behind a dead network.
func (a *App) waitOrControl(ctx context.Context, d time.Duration) (reload bool, err error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case c := <-a.router.Controls():
		return c == tags.ControlReload, nil
	case <-t.C:
		return false, nil
	}
}

func (a *App) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

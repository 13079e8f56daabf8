// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"context"
	"time"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/supervisor"
	"github.com/labtools/asyncsession/internal/websocket"
)

// Config parameterizes one sweep task instance (spec §4.5.3).
type Config struct {
	Parameter string
	Values    []float64
	// SettleDelay is how long the task waits after writing each value
	// before moving to the next one, honoring cancellation.
	SettleDelay time.Duration
}

// Task drives Config.Parameter through Config.Values, one per step, while
// the owning session runs.
type Task struct {
	session *supervisor.Session
	obs     *observation.API
	hub     *websocket.Hub
	cfg     Config
}

// New creates a sweep task. hub may be nil.
func New(session *supervisor.Session, obs *observation.API, hub *websocket.Hub, cfg Config) *Task {
	return &Task{session: session, obs: obs, hub: hub, cfg: cfg}
}

// Serve implements suture.Service.
func (t *Task) Serve(ctx context.Context) error {
	total := len(t.cfg.Values)
	stepped := 0

	err := supervisor.Sweep(t.session, t.cfg.Values, func(value float64) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.obs.SaveParameter(ctx, t.cfg.Parameter, value); err != nil {
			logging.Error().Err(err).Str("parameter", t.cfg.Parameter).Msg("sweep: failed to save parameter")
			return err
		}
		stepped++
		if t.hub != nil {
			t.hub.BroadcastSweepProgress(websocket.SweepProgressData{
				Parameter: t.cfg.Parameter,
				Step:      stepped,
				Total:     total,
				Value:     value,
			})
		}
		if t.cfg.SettleDelay > 0 {
			t.session.Sleep(t.cfg.SettleDelay, false)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Per spec §4.3, sweep sets running=false once every value has been
	// stepped through. If stepped < total, the loop stopped early because
	// the session was already not running — nothing left to do.
	if stepped == total && total > 0 {
		t.session.AskExit()
	}
	return ctx.Err()
}

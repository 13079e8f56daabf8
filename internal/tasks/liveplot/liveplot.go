// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveplot

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/store"
	"github.com/labtools/asyncsession/internal/supervisor"
	"github.com/labtools/asyncsession/internal/websocket"
)

// Backend selects how a figure's image is produced.
type Backend string

const (
	BackendInProcess Backend = "in_process"
	BackendExternal  Backend = "external"
)

// externalPlotterPortBase is the base TCP port for the external-plot
// backend's inter-process socket: the figure's own port is this plus its
// figure number (spec §6).
const externalPlotterPortBase = 6913

// Config parameterizes one live-plot task instance (spec §4.5.2).
type Config struct {
	FigNum      int
	Variables   []string
	MaxValues   int
	YScale      string
	FixedYMin   *float64
	FixedYMax   *float64
	Backend     Backend
	SessionPath string // passed to an external plotter subprocess

	// OutputDir is where in-process renders are written, one PNG per
	// refresh at <OutputDir>/fig-<FigNum>.png.
	OutputDir string

	// ExternalCommand, when Backend is external, is the plotter binary
	// and any leading arguments; session path, figure number, and port
	// are appended.
	ExternalCommand []string

	RefreshInterval time.Duration // default 1s
	PollInterval    time.Duration // default 1s, external liveness poll
}

// Task refreshes one figure's rendered image while the session runs.
type Task struct {
	session *supervisor.Session
	obs     *observation.API
	hub     *websocket.Hub
	cfg     Config

	lastUpdate map[string]float64
	buffers    map[string][]store.LogSample
}

// New creates a live-plot task. hub may be nil.
func New(session *supervisor.Session, obs *observation.API, hub *websocket.Hub, cfg Config) *Task {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	return &Task{
		session:    session,
		obs:        obs,
		hub:        hub,
		cfg:        cfg,
		lastUpdate: make(map[string]float64, len(cfg.Variables)),
		buffers:    make(map[string][]store.LogSample, len(cfg.Variables)),
	}
}

// Serve implements suture.Service.
func (t *Task) Serve(ctx context.Context) error {
	spec := store.FigureSpec{
		FigNum:    t.cfg.FigNum,
		MaxValues: t.cfg.MaxValues,
		YScale:    t.cfg.YScale,
		Variables: t.cfg.Variables,
	}
	if t.cfg.FixedYMin != nil {
		spec.YMin = *t.cfg.FixedYMin
	}
	if t.cfg.FixedYMax != nil {
		spec.YMax = *t.cfg.FixedYMax
	}
	if err := t.obs.RegisterFigure(ctx, spec); err != nil {
		return fmt.Errorf("liveplot: register figure %d: %w", t.cfg.FigNum, err)
	}

	if t.cfg.Backend == BackendExternal {
		return t.serveExternal(ctx)
	}
	return t.serveInProcess(ctx)
}

func (t *Task) serveInProcess(ctx context.Context) error {
	for t.running(ctx) {
		for _, name := range t.cfg.Variables {
			samples, err := t.obs.LoggedVariableSince(ctx, name, t.lastUpdate[name])
			if err != nil {
				logging.Error().Err(err).Str("variable", name).Msg("liveplot: failed to fetch new samples")
				continue
			}
			if len(samples) == 0 {
				continue
			}
			buf := append(t.buffers[name], samples...)
			if len(buf) > t.cfg.MaxValues {
				buf = buf[len(buf)-t.cfg.MaxValues:]
			}
			t.buffers[name] = buf
			t.lastUpdate[name] = samples[len(samples)-1].Timestamp
		}

		if t.cfg.OutputDir != "" {
			imagePath := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("fig-%d.png", t.cfg.FigNum))
			if err := renderLinePlot(imagePath, t.cfg.Variables, t.buffers, t.cfg.YScale); err != nil {
				logging.Error().Err(err).Int("fignum", t.cfg.FigNum).Msg("liveplot: render failed")
			} else if t.hub != nil {
				t.hub.BroadcastFigureUpdate(fmt.Sprintf("%d", t.cfg.FigNum), imagePath)
			}
		}

		if !t.session.Sleep(t.cfg.RefreshInterval, false) {
			break
		}
	}
	return ctx.Err()
}

func (t *Task) serveExternal(ctx context.Context) error {
	port := externalPlotterPortBase + t.cfg.FigNum
	args := append([]string{}, t.cfg.ExternalCommand[1:]...)
	args = append(args, t.cfg.SessionPath, fmt.Sprintf("%d", t.cfg.FigNum), fmt.Sprintf("%d", port))
	cmd := exec.CommandContext(ctx, t.cfg.ExternalCommand[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("liveplot: spawn external plotter for figure %d: %w", t.cfg.FigNum, err)
	}

	proc := newSubprocess(cmd)
	token := t.session.TrackSubprocess(proc)
	defer t.session.UntrackSubprocess(token)

	for t.running(ctx) {
		if !proc.alive() {
			break
		}
		if !t.session.Sleep(t.cfg.PollInterval, false) {
			break
		}
	}

	_ = proc.Stop()
	if err := t.obs.DeregisterFigure(ctx, t.cfg.FigNum); err != nil {
		logging.Warn().Err(err).Int("fignum", t.cfg.FigNum).Msg("liveplot: failed to deregister figure on exit")
	}
	return ctx.Err()
}

func (t *Task) running(ctx context.Context) bool {
	return ctx.Err() == nil && t.session.Running()
}

// subprocess adapts *exec.Cmd to supervisor.Subprocess, tracking exit via
// a background Wait since ProcessState is only set once Wait returns.
type subprocess struct {
	cmd    *exec.Cmd
	exited atomic.Bool
}

func newSubprocess(cmd *exec.Cmd) *subprocess {
	s := &subprocess{cmd: cmd}
	go func() {
		_ = cmd.Wait()
		s.exited.Store(true)
	}()
	return s
}

func (s *subprocess) alive() bool {
	return !s.exited.Load()
}

func (s *subprocess) Stop() error {
	if s.exited.Load() || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

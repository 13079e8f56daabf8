// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/labtools/asyncsession/internal/metrics"
)

// Task is anything that can be monitored: a long-running service (video
// pipeline producer, HTTP server) or a periodic coroutine-style function
// (email reporter, live plot, sweep) that Session wraps into one.
type Task = suture.Service

// TaskFunc adapts a plain function into a Task. The function must return
// promptly once it observes ctx.Done() or Session.Running() goes false.
type TaskFunc func(ctx context.Context) error

// Serve implements suture.Service.
func (f TaskFunc) Serve(ctx context.Context) error { return f(ctx) }

// Subprocess is a handle to an externally-managed process (an ffmpeg
// encoder, an external plotter) that Session terminates on AskExit.
type Subprocess interface {
	// Stop requests termination; it must not block indefinitely.
	Stop() error
}

// Session wraps a SupervisorTree with the cooperative "running" flag
// contract used throughout the acquisition engine: periodic tasks loop on
// Session.Running() (typically via Sleep) instead of being forcibly
// canceled, and tracked subprocesses are terminated once AskExit is called.
type Session struct {
	tree *SupervisorTree

	running atomic.Bool

	mu          sync.Mutex
	subprocs    map[int]Subprocess
	nextSubproc int

	exitOnce sync.Once
	exitedAt time.Time
}

// NewSession creates a Session on top of a fresh SupervisorTree and installs
// a SIGINT/SIGTERM handler that calls AskExit.
func NewSession(logger *slog.Logger, config TreeConfig) (*Session, error) {
	tree, err := NewSupervisorTree(logger, config)
	if err != nil {
		return nil, err
	}
	s := &Session{tree: tree, subprocs: make(map[int]Subprocess)}
	s.running.Store(true)
	s.installSignalHandler()
	return s, nil
}

func (s *Session) installSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.AskExit()
	}()
}

// Running reports whether the session is still considered active. Every
// supervised task should check this (directly or via Sleep) and return
// promptly once it goes false.
func (s *Session) Running() bool {
	return s.running.Load()
}

// AskExit flips the running flag to false and terminates every tracked
// subprocess. It is idempotent and safe to call from a signal handler.
func (s *Session) AskExit() {
	s.exitOnce.Do(func() {
		start := time.Now()
		s.running.Store(false)
		s.exitedAt = start

		s.mu.Lock()
		procs := make([]Subprocess, 0, len(s.subprocs))
		for _, p := range s.subprocs {
			procs = append(procs, p)
		}
		s.mu.Unlock()

		for _, p := range procs {
			_ = p.Stop()
		}
	})
}

// Sleep blocks for duration d, or until the session stops, whichever comes
// first. It returns true if it slept the full duration, false if it woke
// early because Running() became false. When verbose is true the awake
// latency is recorded for CancellationLatency.
func (s *Session) Sleep(d time.Duration, verbose bool) bool {
	if !s.Running() {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	woke := time.Now()
	for {
		select {
		case <-timer.C:
			return true
		case <-poll.C:
			if !s.Running() {
				if verbose {
					metrics.CancellationLatency.Observe(time.Since(woke).Seconds())
				}
				return false
			}
		}
	}
}

// Sweep drives values through step for as long as the session remains
// running, stopping early if AskExit is observed between steps. If the
// session is already stopped when Sweep is called, it performs zero steps.
func Sweep[T any](s *Session, values []T, step func(value T) error) error {
	if !s.Running() {
		return nil
	}
	for _, v := range values {
		if !s.Running() {
			return nil
		}
		if err := step(v); err != nil {
			return err
		}
	}
	return nil
}

// TrackSubprocess registers a subprocess handle to be stopped on AskExit
// and returns a token for UntrackSubprocess.
func (s *Session) TrackSubprocess(p Subprocess) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextSubproc
	s.nextSubproc++
	s.subprocs[token] = p
	return token
}

// UntrackSubprocess removes a subprocess handle once it has exited on its own.
func (s *Session) UntrackSubprocess(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subprocs, token)
}

// AddDataTask adds a task to the data layer (video pipeline).
func (s *Session) AddDataTask(t Task) suture.ServiceToken { return s.tree.AddDataService(t) }

// AddMessagingTask adds a task to the messaging layer (websocket hub,
// live-plot, email reporter, sweep).
func (s *Session) AddMessagingTask(t Task) suture.ServiceToken {
	return s.tree.AddMessagingService(t)
}

// AddAPITask adds a task to the API layer (HTTP server).
func (s *Session) AddAPITask(t Task) suture.ServiceToken { return s.tree.AddAPIService(t) }

// Serve runs the supervisor tree until ctx is canceled or AskExit is called
// and every task observes it.
func (s *Session) Serve(ctx context.Context) error {
	metrics.TasksRunning.Set(1)
	defer metrics.TasksRunning.Set(0)
	return s.tree.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
func (s *Session) ServeBackground(ctx context.Context) <-chan error {
	return s.tree.ServeBackground(ctx)
}

// UnstoppedServiceReport delegates to the underlying tree.
func (s *Session) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return s.tree.UnstoppedServiceReport()
}

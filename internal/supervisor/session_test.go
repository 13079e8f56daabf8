// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(slog.Default(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func TestSessionRunningAndAskExit(t *testing.T) {
	s := newTestSession(t)
	if !s.Running() {
		t.Fatal("expected Running() true immediately after construction")
	}
	s.AskExit()
	if s.Running() {
		t.Fatal("expected Running() false after AskExit")
	}
	// Idempotent.
	s.AskExit()
	if s.Running() {
		t.Fatal("expected Running() to remain false")
	}
}

func TestSessionSleepReturnsEarlyOnAskExit(t *testing.T) {
	s := newTestSession(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.AskExit()
	}()

	start := time.Now()
	woke := s.Sleep(2*time.Second, true)
	elapsed := time.Since(start)

	if woke {
		t.Fatal("expected Sleep to return false when woken by AskExit")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Sleep took too long to wake on AskExit: %v", elapsed)
	}
}

func TestSessionSleepFullDuration(t *testing.T) {
	s := newTestSession(t)
	if woke := s.Sleep(10*time.Millisecond, false); !woke {
		t.Fatal("expected Sleep to return true for full duration with no AskExit")
	}
}

func TestSweepZeroStepsWhenAlreadyStopped(t *testing.T) {
	s := newTestSession(t)
	s.AskExit()

	var stepped []int
	err := Sweep(s, []int{1, 2, 3}, func(v int) error {
		stepped = append(stepped, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(stepped) != 0 {
		t.Fatalf("expected zero steps when session already stopped, got %v", stepped)
	}
}

func TestSweepStopsMidwayOnAskExit(t *testing.T) {
	s := newTestSession(t)

	var stepped []int
	err := Sweep(s, []int{1, 2, 3, 4, 5}, func(v int) error {
		stepped = append(stepped, v)
		if v == 2 {
			s.AskExit()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(stepped) != 2 {
		t.Fatalf("expected sweep to stop after value triggering AskExit, got %v", stepped)
	}
}

type fakeSubprocess struct {
	stopped bool
}

func (f *fakeSubprocess) Stop() error {
	f.stopped = true
	return nil
}

func TestSessionAskExitStopsTrackedSubprocesses(t *testing.T) {
	s := newTestSession(t)
	proc := &fakeSubprocess{}
	s.TrackSubprocess(proc)

	s.AskExit()

	if !proc.stopped {
		t.Fatal("expected tracked subprocess to be stopped on AskExit")
	}
}

func TestSessionUntrackSubprocessSkipsStop(t *testing.T) {
	s := newTestSession(t)
	proc := &fakeSubprocess{}
	token := s.TrackSubprocess(proc)
	s.UntrackSubprocess(token)

	s.AskExit()

	if proc.stopped {
		t.Fatal("expected untracked subprocess not to be stopped")
	}
}

func TestSessionServeRespectsContextCancel(t *testing.T) {
	s := newTestSession(t)
	svc := NewMockService("test-task")
	s.AddDataTask(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Serve(ctx); err != nil && err != context.DeadlineExceeded {
		t.Fatalf("Serve() error = %v", err)
	}
}

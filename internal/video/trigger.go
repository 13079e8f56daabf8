// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// FakeTrigger is an in-process Trigger used by tests and by runs with no
// physical pulse generator attached. In burst mode it counts down a fixed
// number of pulses; in continuous mode it paces a free-running square
// wave at the armed frame rate using a rate.Limiter, stopping when Close
// is called.
type FakeTrigger struct {
	mu       sync.Mutex
	burst    bool
	pulses   int
	limiter  *rate.Limiter
	stopWave chan struct{}
	waveDone chan struct{}
	onPulse  func()
}

// NewFakeTrigger creates an unarmed FakeTrigger. onPulse, if non-nil, is
// invoked once per simulated pulse in continuous mode; it is intended for
// tests to observe the generated square wave's cadence.
func NewFakeTrigger(onPulse func()) *FakeTrigger {
	return &FakeTrigger{onPulse: onPulse}
}

// ArmBurst configures the generator to fire nframes+additionalPulses times
// the next time Fire is called.
func (t *FakeTrigger) ArmBurst(nframes, additionalPulses int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.burst = true
	t.pulses = nframes + additionalPulses
	return nil
}

// ArmContinuous configures the generator for a free-running square wave
// paced at fps, started the next time Fire is called.
func (t *FakeTrigger) ArmContinuous(fps float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.burst = false
	if fps <= 0 {
		fps = 1
	}
	t.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	return nil
}

// Fire issues the configured pulse(s). In burst mode it returns once the
// armed pulse count has been emitted. In continuous mode it starts the
// square wave goroutine and returns immediately; the wave runs until
// Close is called.
func (t *FakeTrigger) Fire(ctx context.Context) error {
	t.mu.Lock()
	burst := t.burst
	pulses := t.pulses
	limiter := t.limiter
	t.mu.Unlock()

	if burst {
		for i := 0; i < pulses; i++ {
			if t.onPulse != nil {
				t.onPulse()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		return nil
	}

	t.mu.Lock()
	t.stopWave = make(chan struct{})
	t.waveDone = make(chan struct{})
	stop := t.stopWave
	done := t.waveDone
	t.mu.Unlock()

	go func() {
		defer close(done)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if t.onPulse != nil {
				t.onPulse()
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	return nil
}

// Close stops any continuous-mode square wave goroutine started by Fire.
func (t *FakeTrigger) Close() error {
	t.mu.Lock()
	stop := t.stopWave
	done := t.waveDone
	t.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/labtools/asyncsession/internal/apierr"
)

// ColorOrder describes a frame's pixel layout so the pipeline can convert
// it before writing (spec §4.7.1).
type ColorOrder int

const (
	ColorMono ColorOrder = iota
	ColorRGB
	ColorBGR
)

// Frame is one acquired image plus its acquisition bookkeeping.
type Frame struct {
	Counter     int64
	Timestamp   float64
	ColorOrder  ColorOrder
	Width       int
	Height      int
	Pix         []byte
}

// InitialisingSet tracks which cameras have not yet finished arming, so
// the trigger starter knows when it is safe to fire (spec §4.7.1,
// §4.7.3). It is shared by every camera's producer task.
type InitialisingSet struct {
	mu   sync.Mutex
	left map[string]struct{}
}

// NewInitialisingSet seeds the set with every camera name.
func NewInitialisingSet(cameraNames []string) *InitialisingSet {
	left := make(map[string]struct{}, len(cameraNames))
	for _, name := range cameraNames {
		left[name] = struct{}{}
	}
	return &InitialisingSet{left: left}
}

// Arm marks name as no longer initialising.
func (s *InitialisingSet) Arm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.left, name)
}

// Empty reports whether every camera has armed.
func (s *InitialisingSet) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.left) == 0
}

// Camera is the contract an acquisition driver must satisfy (spec
// §4.7.1). Implementations are not required to be safe for concurrent
// use from more than one goroutine; each Camera is owned by exactly one
// producer task.
type Camera interface {
	Name() string

	Open(ctx context.Context) error
	Close(ctx context.Context) error

	SetTriggerMode(external bool) error
	SetExposure(seconds float64) error
	SetFrameRate(fps float64) error

	// Acquire yields up to num frames (0 means unbounded) onto out, honoring
	// timeout per frame. It marks armed in initialising once ready to grab.
	// It returns (timedOut, err): timedOut is true if acquisition stopped
	// because a frame did not arrive within timeout and raiseOnTimeout was
	// false (and err is nil in that case); otherwise a timeout surfaces as
	// apierr.ErrCameraTimeout when raiseOnTimeout is true.
	Acquire(ctx context.Context, num int, timeout time.Duration, initialising *InitialisingSet, raiseOnTimeout bool, out chan<- Frame) (timedOut bool, err error)

	// FastAcquireToRAM is the optional accelerated burst path (§4.7.4).
	// Implementations that do not support it should return ok=false.
	FastAcquireToRAM(ctx context.Context, num int, totalTimeout time.Duration, initialising *InitialisingSet, raiseOnTimeout bool) (frames []Frame, ok bool, err error)
}

// Trigger is the external hardware or software trigger generator owned
// by the trigger starter task (spec §4.7.1, §4.7.3).
type Trigger interface {
	// ArmBurst configures the generator for nframes+additionalPulses
	// pulses (burst mode).
	ArmBurst(nframes, additionalPulses int) error
	// ArmContinuous configures the generator for a free-running square
	// wave at fps (continuous mode).
	ArmContinuous(fps float64) error
	// Fire issues the software trigger pulse(s) configured above.
	Fire(ctx context.Context) error
	Close() error
}

// FakeCamera is an in-memory Camera used by tests and by runs with no
// physical hardware attached. It produces synthetic frames at a fixed
// cadence.
type FakeCamera struct {
	name       string
	width      int
	height     int
	frameRate  float64
	limiter    *rate.Limiter
	now        func() float64
	failAfter  int // 0 means never fail
	colorOrder ColorOrder
}

// NewFakeCamera creates a synthetic camera named name that reports ts via
// now() for each produced frame.
func NewFakeCamera(name string, width, height int, now func() float64) *FakeCamera {
	return &FakeCamera{name: name, width: width, height: height, now: now, colorOrder: ColorMono}
}

func (c *FakeCamera) Name() string                    { return c.name }
func (c *FakeCamera) Open(ctx context.Context) error  { return nil }
func (c *FakeCamera) Close(ctx context.Context) error { return nil }
func (c *FakeCamera) SetTriggerMode(external bool) error { return nil }
func (c *FakeCamera) SetExposure(seconds float64) error  { return nil }
func (c *FakeCamera) SetFrameRate(fps float64) error {
	c.frameRate = fps
	if fps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	} else {
		c.limiter = nil
	}
	return nil
}

func (c *FakeCamera) Acquire(ctx context.Context, num int, timeout time.Duration, initialising *InitialisingSet, raiseOnTimeout bool, out chan<- Frame) (bool, error) {
	if initialising != nil {
		initialising.Arm(c.name)
	}
	var i int64
	for num == 0 || int(i) < num {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return false, nil
			}
		}
		frame := Frame{
			Counter:    i,
			Timestamp:  c.now(),
			ColorOrder: c.colorOrder,
			Width:      c.width,
			Height:     c.height,
			Pix:        make([]byte, c.width*c.height),
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return false, nil
		case <-time.After(timeout):
			if raiseOnTimeout {
				return false, fmt.Errorf("camera %s: %w", c.name, apierr.ErrCameraTimeout)
			}
			return true, nil
		}
		i++
	}
	return false, nil
}

func (c *FakeCamera) FastAcquireToRAM(ctx context.Context, num int, totalTimeout time.Duration, initialising *InitialisingSet, raiseOnTimeout bool) ([]Frame, bool, error) {
	out := make(chan Frame, num)
	timedOut, err := c.Acquire(ctx, num, totalTimeout, initialising, raiseOnTimeout, out)
	close(out)
	if err != nil {
		return nil, true, err
	}
	frames := make([]Frame, 0, num)
	for f := range out {
		frames = append(frames, f)
	}
	_ = timedOut
	return frames, true, nil
}

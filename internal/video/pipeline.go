// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"context"
	"time"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/metrics"
	"github.com/labtools/asyncsession/internal/supervisor"
)

// Pipeline wires a VideoSession's producers, trigger starter, and sink
// onto a supervisor.Session (spec §4.7.3).
type Pipeline struct {
	vs      *VideoSession
	session *supervisor.Session
	sink    Sink

	// PrepareCamera, if set, runs once per camera right after it opens
	// (spec §4.7.3, "invoke any user prepare_camera(cam) hook").
	PrepareCamera func(ctx context.Context, cam Camera) error

	// ProgressCallback receives progress-bar updates from camera 0 only
	// (spec §4.7.3, supplemented by SPEC_FULL C.6), one call per frame.
	ProgressCallback func(counter int64, timestamp float64)
}

// NewPipeline creates a pipeline over vs, dispatching frames to sink.
func NewPipeline(session *supervisor.Session, vs *VideoSession, sink Sink) *Pipeline {
	return &Pipeline{vs: vs, session: session, sink: sink}
}

// Run starts every producer, the trigger starter if configured, and the
// sink, and blocks until the session stops or an unrecoverable error
// occurs in any of them (spec §4.7.4's fast path bypasses this entirely).
func (p *Pipeline) Run(ctx context.Context) error {
	if p.vs.cfg.DelaySave && allSupportFastAcquisition(p.vs.cfg.Cameras) {
		return RunFastPath(ctx, p.session, p.vs, p.sink)
	}

	errCh := make(chan error, len(p.vs.cfg.Cameras)+2)
	for i, cam := range p.vs.cfg.Cameras {
		go func(index int, c Camera) {
			errCh <- p.produce(ctx, index, c)
		}(i, cam)
	}
	if p.vs.cfg.Trigger != nil {
		go func() {
			errCh <- p.triggerStart(ctx)
		}()
	}
	go func() {
		errCh <- p.sink.Run(ctx, p.session, p.vs)
	}()

	expected := len(p.vs.cfg.Cameras) + 1
	if p.vs.cfg.Trigger != nil {
		expected++
	}
	var firstErr error
	for i := 0; i < expected; i++ {
		if err := <-errCh; err != nil {
			logging.Error().Err(err).Msg("video pipeline: task returned an error")
			if firstErr == nil {
				firstErr = err
			}
			p.session.AskExit()
		}
	}
	return firstErr
}

func allSupportFastAcquisition(cams []Camera) bool {
	if len(cams) == 0 {
		return false
	}
	for _, c := range cams {
		if _, ok, _ := c.FastAcquireToRAM(context.Background(), 0, 0, nil, false); !ok {
			return false
		}
	}
	return true
}

// produce opens camera index, runs the optional prepare hook, and streams
// frames into its queue until the session stops or the camera's
// acquisition generator ends (spec §4.7.3 item 1).
func (p *Pipeline) produce(ctx context.Context, index int, cam Camera) error {
	if err := cam.Open(ctx); err != nil {
		return err
	}
	defer cam.Close(ctx)

	if p.PrepareCamera != nil {
		if err := p.PrepareCamera(ctx, cam); err != nil {
			return err
		}
	}
	if err := cam.SetFrameRate(p.vs.cfg.FrameRate); err != nil {
		return err
	}

	queue := p.vs.Queues[cam.Name()]
	produced := make(chan Frame)
	done := make(chan struct {
		timedOut bool
		err      error
	}, 1)
	go func() {
		timedOut, err := cam.Acquire(ctx, p.vs.cfg.NFrames, p.vs.cfg.Timeout, p.vs.Armed, true, produced)
		done <- struct {
			timedOut bool
			err      error
		}{timedOut, err}
		close(produced)
	}()

	for frame := range produced {
		if !p.session.Running() {
			break
		}
		select {
		case queue <- frame:
			metrics.VideoFramesProduced.WithLabelValues(cam.Name()).Inc()
			metrics.VideoQueueDepth.WithLabelValues(cam.Name()).Set(float64(len(queue)))
			if index == 0 && p.ProgressCallback != nil {
				p.ProgressCallback(frame.Counter, frame.Timestamp)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	result := <-done
	if result.timedOut {
		metrics.VideoCameraTimeouts.WithLabelValues(cam.Name()).Inc()
		p.session.AskExit()
	}
	return result.err
}

// triggerStart waits for every camera to finish arming, then fires the
// configured trigger generator (spec §4.7.3 item 2).
func (p *Pipeline) triggerStart(ctx context.Context) error {
	trig := p.vs.cfg.Trigger
	if p.vs.cfg.BurstMode {
		if err := trig.ArmBurst(p.vs.cfg.NFrames, p.vs.cfg.AdditionalTriggerPulses); err != nil {
			return err
		}
	} else {
		if err := trig.ArmContinuous(p.vs.cfg.FrameRate); err != nil {
			return err
		}
	}

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		if p.vs.Armed.Empty() {
			return trig.Fire(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
}

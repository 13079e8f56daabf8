// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/supervisor"
)

// RunFastPath implements the fast_acquisition_to_ram shortcut (spec
// §4.7.4): run one fast-acquisition task per camera concurrently with the
// trigger starter, then push every captured frame onto its camera's queue
// and run the sink synchronously, reusing the same ordering-invariant
// code path as the regular graph.
func RunFastPath(ctx context.Context, session *supervisor.Session, vs *VideoSession, sink Sink) error {
	total := time.Duration(5)*time.Second + frameBudget(vs.cfg.NFrames, vs.cfg.FrameRate)

	fastCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	var wg sync.WaitGroup
	results := make(map[string][]Frame, len(vs.cfg.Cameras))
	errs := make(map[string]error, len(vs.cfg.Cameras))
	var mu sync.Mutex

	for _, cam := range vs.cfg.Cameras {
		wg.Add(1)
		go func(c Camera) {
			defer wg.Done()
			if err := c.Open(fastCtx); err != nil {
				mu.Lock()
				errs[c.Name()] = err
				mu.Unlock()
				return
			}
			defer c.Close(fastCtx)

			frames, ok, err := c.FastAcquireToRAM(fastCtx, vs.cfg.NFrames, total, vs.Armed, true)
			mu.Lock()
			if !ok {
				errs[c.Name()] = fmt.Errorf("camera %s does not support fast acquisition", c.Name())
			} else {
				results[c.Name()] = frames
				errs[c.Name()] = err
			}
			mu.Unlock()
		}(cam)
	}

	if vs.cfg.Trigger != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poll := time.NewTicker(10 * time.Millisecond)
			defer poll.Stop()
			for {
				if vs.Armed.Empty() {
					if err := vs.cfg.Trigger.Fire(fastCtx); err != nil {
						logging.Error().Err(err).Msg("video fast path: trigger fire failed")
					}
					return
				}
				select {
				case <-fastCtx.Done():
					return
				case <-poll.C:
				}
			}
		}()
	}

	wg.Wait()

	for name, err := range errs {
		if err != nil {
			return fmt.Errorf("fast acquisition for camera %s: %w", name, err)
		}
	}

	for name, frames := range results {
		queue := vs.Queues[name]
		for _, f := range frames {
			queue <- f
		}
	}
	session.AskExit()
	return sink.Run(context.Background(), session, vs)
}

func frameBudget(nframes int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(nframes)/fps*float64(time.Second))
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/metrics"
	"github.com/labtools/asyncsession/internal/supervisor"
)

// VideoSink lazily spawns one ffmpeg subprocess per camera on that
// camera's first frame and streams raw bgr24 frames over its stdin (spec
// §4.7.3 item 3, video sink; §6's documented ffmpeg invocation).
type VideoSink struct {
	// Gain multiplies pixel values after normalising by the first
	// frame's (min, max), per spec §4.7.3.
	Gain float64
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	min    byte
	max    byte
	width  int
	height int
	exited atomic.Bool
}

func (e *ffmpegEncoder) alive() bool { return !e.exited.Load() }

func (e *ffmpegEncoder) Stop() error {
	if e.exited.Load() {
		return nil
	}
	_ = e.stdin.Close()
	done := make(chan struct{})
	go func() { _ = e.cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
	}
	return nil
}

func (s *VideoSink) Run(ctx context.Context, session *supervisor.Session, vs *VideoSession) error {
	encoders := make(map[string]*ffmpegEncoder, len(vs.Queues))
	tokens := make(map[string]int, len(vs.Queues))
	defer func() {
		for name, enc := range encoders {
			_ = enc.Stop()
			session.UntrackSubprocess(tokens[name])
		}
	}()

	gain := s.Gain
	if gain == 0 {
		gain = 1
	}

	for session.Running() || anyQueueNonEmpty(vs.Queues) {
		progressed := false
		for name, queue := range vs.Queues {
			select {
			case frame := <-queue:
				progressed = true
				if err := vs.LogFrame(ctx, name, frame); err != nil {
					logging.Error().Err(err).Str("camera", name).Msg("video sink: failed to log frame")
					continue
				}
				enc, ok := encoders[name]
				if !ok {
					var err error
					enc, err = startEncoder(ctx, vs.VideoPath(name), frame, vs.cfg.FrameRate)
					if err != nil {
						metrics.VideoEncodingErrors.WithLabelValues(name).Inc()
						logging.Error().Err(err).Str("camera", name).Msg("video sink: failed to start ffmpeg")
						continue
					}
					encoders[name] = enc
					tokens[name] = session.TrackSubprocess(subprocessAdapter{enc})
				}
				bgr := normalizeToBGR24(frame, enc.min, enc.max, gain)
				if _, err := enc.stdin.Write(bgr); err != nil {
					metrics.VideoEncodingErrors.WithLabelValues(name).Inc()
					logging.Error().Err(err).Str("camera", name).Msg("video sink: ffmpeg stdin write failed")
					continue
				}
				metrics.VideoFramesWritten.WithLabelValues(name, "video").Inc()
			default:
			}
		}
		if !progressed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	return nil
}

func startEncoder(ctx context.Context, outPath string, first Frame, fps float64) (*ffmpegEncoder, error) {
	min, max := minMax(first.Pix)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", first.Width, first.Height),
		"-r", fmt.Sprintf("%v", fps),
		"-i", "-",
		"-an",
		"-vcodec", "mpeg4",
		"-b:v", "5000k",
		outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: open ffmpeg stdin: %v", apierr.ErrEncoding, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", apierr.ErrEncoding, err)
	}
	enc := &ffmpegEncoder{cmd: cmd, stdin: stdin, min: min, max: max, width: first.Width, height: first.Height}
	go func() {
		_ = cmd.Wait()
		enc.exited.Store(true)
	}()
	return enc, nil
}

func minMax(pix []byte) (byte, byte) {
	if len(pix) == 0 {
		return 0, 255
	}
	min, max := pix[0], pix[0]
	for _, v := range pix {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		return 0, 255
	}
	return min, max
}

// normalizeToBGR24 converts frame to 8-bit BGR, normalising by (min, max)
// of the sink's first frame and the configured gain (spec §4.7.3).
func normalizeToBGR24(f Frame, min, max byte, gain float64) []byte {
	span := float64(max) - float64(min)
	if span <= 0 {
		span = 1
	}
	var buf bytes.Buffer
	buf.Grow(len(f.Pix) * 3)
	for _, v := range f.Pix {
		scaled := (float64(v) - float64(min)) / span * 255 * gain
		if scaled < 0 {
			scaled = 0
		} else if scaled > 255 {
			scaled = 255
		}
		b := byte(scaled)
		buf.WriteByte(b)
		buf.WriteByte(b)
		buf.WriteByte(b)
	}
	return buf.Bytes()
}

// subprocessAdapter satisfies supervisor.Subprocess for a tracked ffmpeg
// encoder.
type subprocessAdapter struct{ enc *ffmpegEncoder }

func (a subprocessAdapter) Stop() error { return a.enc.Stop() }

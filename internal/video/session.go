// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/labtools/asyncsession/internal/clock"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/store"
)

// OutputFormat selects how frames are persisted (spec §4.7.2).
type OutputFormat string

const (
	FormatBMP OutputFormat = "bmp"
	FormatPNG OutputFormat = "png"
	FormatTIF OutputFormat = "tif"
	FormatJPG OutputFormat = "jpg"
	FormatMP4 OutputFormat = "mp4"
)

// SinkKind selects a non-disk sink in place of the regular image/video
// sinks described by OutputFormat.
type SinkKind string

const (
	SinkFile         SinkKind = "file"
	SinkInRAM        SinkKind = "in_ram"
	SinkLivePreview  SinkKind = "live_preview"
)

// Config parameterizes one VideoSession (spec §4.7.2).
type Config struct {
	Cameras      []Camera
	Trigger      Trigger
	FrameRate    float64
	NFrames      int // 0 means unbounded / continuous
	Format       OutputFormat
	Sink         SinkKind
	OutputPath   string // if empty, allocated under baseDir
	ExistOK      bool
	Timeout      time.Duration
	BurstMode    bool

	// AdditionalTriggerPulses, in burst mode, is added to NFrames when
	// arming the trigger generator (spec §4.7.3).
	AdditionalTriggerPulses int

	// QueueDepth bounds each camera's FIFO (spec §4.7.2, §5).
	QueueDepth int

	// DelaySave requests the fast_acquisition_to_ram path (§4.7.4) when
	// every camera supports FastAcquireToRAM.
	DelaySave bool
}

// VideoSession holds one acquisition run's resolved configuration: an
// allocated output directory, a bounded queue per camera, and the shared
// initialising_cams set (spec §4.7.2).
type VideoSession struct {
	cfg    Config
	Path   string
	Queues map[string]chan Frame
	Armed  *InitialisingSet

	obs   *observation.API
	store *store.Store
}

// NewVideoSession resolves cfg's output path, opens the session database
// at <output>/session, configures each camera's trigger mode, and
// allocates per-camera queues.
func NewVideoSession(cfg Config, baseDir string, clk clock.Clock) (*VideoSession, error) {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 64
	}

	path := cfg.OutputPath
	if path == "" {
		var err error
		path, err = allocateOutputPath(baseDir, clk)
		if err != nil {
			return nil, fmt.Errorf("allocate video output path: %w", err)
		}
	} else if !cfg.ExistOK {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("video output path %s already exists", path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create video output path %s: %w", path, err)
	}

	names := make([]string, 0, len(cfg.Cameras))
	queues := make(map[string]chan Frame, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		if err := cam.SetTriggerMode(cfg.Trigger != nil); err != nil {
			return nil, fmt.Errorf("configure trigger mode for %s: %w", cam.Name(), err)
		}
		names = append(names, cam.Name())
		queues[cam.Name()] = make(chan Frame, cfg.QueueDepth)
	}

	s, err := store.Open(filepath.Join(path, "session"), store.ModeCreateIfMissing, false, clk)
	if err != nil {
		return nil, fmt.Errorf("open video session store: %w", err)
	}

	return &VideoSession{
		cfg:    cfg,
		Path:   path,
		Queues: queues,
		Armed:  NewInitialisingSet(names),
		obs:    observation.New(s, clk, nil),
		store:  s,
	}, nil
}

// Close flushes and closes the session's Store.
func (v *VideoSession) Close(ctx context.Context) error {
	return v.store.Close(ctx)
}

// Observation exposes the video session's own Observation API, used by
// sinks for everything except the frame-accounting log row below.
func (v *VideoSession) Observation() *observation.API {
	return v.obs
}

// LogFrame persists (timestamp, counter) for one camera's frame ahead of
// the encoded image write, at the frame's own timestamp rather than the
// clock's current time (spec §4.7.5 ordering invariant).
func (v *VideoSession) LogFrame(ctx context.Context, cameraName string, f Frame) error {
	return v.store.InsertLog(ctx, cameraName, f.Timestamp, float64(f.Counter))
}

// allocateOutputPath picks <baseDir>/<YYYY-MM-DD>/<NN> for the smallest
// free two-digit NN under today's dated folder (spec §4.7.2).
func allocateOutputPath(baseDir string, clk clock.Clock) (string, error) {
	day := time.Unix(int64(clk.NowWall()), 0).UTC().Format("2006-01-02")
	dated := filepath.Join(baseDir, day)
	if err := os.MkdirAll(dated, 0o755); err != nil {
		return "", err
	}
	for n := 0; n < 100; n++ {
		candidate := filepath.Join(dated, fmt.Sprintf("%02d", n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free output suffix under %s", dated)
}

// VideoPath, for OutputFormat mp4, returns the per-camera file path
// NN-camK.mp4 under the session's output directory.
func (v *VideoSession) VideoPath(cameraName string) string {
	return filepath.Join(v.Path, fmt.Sprintf("%s-%s.mp4", filepath.Base(v.Path), cameraName))
}

// ImagePath returns the file path for one image-files-sink frame:
// img-camK-NNNN.<ext> with 4-digit zero-fill, where NNNN is the frame's
// 1-based write order for that camera (not its acquisition counter, which
// a sink may have dropped or reordered frames ahead of) (spec §4.7.3, §6).
func (v *VideoSession) ImagePath(cameraName string, writeIndex int64) string {
	return filepath.Join(v.Path, fmt.Sprintf("img-%s-%04d.%s", cameraName, writeIndex, v.cfg.Format))
}

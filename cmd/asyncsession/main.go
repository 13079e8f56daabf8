// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the asyncsession server process.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: Koanf v2, layered struct defaults -> YAML file -> env vars
//  2. Logging: zerolog, configured from the loaded config
//  3. Clock: wall/monotonic time source shared by the store, video, and tasks
//  4. Store: the embedded DuckDB-backed session database
//  5. Supervisor tree: the three-layer data/messaging/API suture tree
//  6. WebSocket hub: live push to connected dashboard clients
//  7. Tasks: email report, live plot, and sweep, as configured
//  8. Video: camera acquisition pipeline, if configured
//  9. HTTP surface: the stateless read-only API and static UI
//
// # Signal Handling
//
// The process exits gracefully on SIGINT and SIGTERM: the supervisor
// context is cancelled, every registered task is given its shutdown
// timeout to stop, and any services that miss that window are reported
// before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labtools/asyncsession/internal/clock"
	"github.com/labtools/asyncsession/internal/config"
	"github.com/labtools/asyncsession/internal/httpapi"
	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/store"
	"github.com/labtools/asyncsession/internal/supervisor"
	"github.com/labtools/asyncsession/internal/tasks/emailreport"
	"github.com/labtools/asyncsession/internal/tasks/liveplot"
	"github.com/labtools/asyncsession/internal/tasks/sweep"
	"github.com/labtools/asyncsession/internal/video"
	"github.com/labtools/asyncsession/internal/websocket"
)

//nolint:gocyclo // sequential initialization, mirrors the teacher's main
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: cfg.Logging.Timestamp,
	})

	logging.Info().Msg("starting asyncsession")

	clk := clock.NewSystem()

	storeMode := store.ModeCreateIfMissing
	if cfg.Store.ReadOnly {
		storeMode = store.ModeReadOnly
	}
	db, err := store.Open(cfg.Store.Path, storeMode, cfg.Store.DelaySave, clk)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()
	session, err := supervisor.NewSession(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor session")
	}

	hub := websocket.NewHub()
	session.AddMessagingTask(supervisor.ServiceFunc{Name: "websocket-hub", Run: hub.RunWithContext})

	obs := observation.New(db, clk, hub)

	if cfg.EmailReport.Enabled {
		smtpPassword, err := decryptIfSet(cfg.EmailReport.SMTPPasswordEncrypted)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to decrypt email_report.smtp_password_encrypted")
		}
		task := emailreport.New(session, obs, hub, emailreport.Config{
			FromAddr:         cfg.EmailReport.SMTPUser,
			ToAddrs:          cfg.EmailReport.Recipients,
			Host:             cfg.EmailReport.SMTPHost,
			Port:             cfg.EmailReport.SMTPPort,
			Subject:          cfg.EmailReport.Subject,
			Interval:         cfg.EmailReport.Interval,
			UseSSLSubmission: cfg.EmailReport.UseSSL,
			UseSTARTTLS:      cfg.EmailReport.UseSTARTTLS,
			User:             cfg.EmailReport.SMTPUser,
			Password:         smtpPassword,
		}, nil)
		session.AddMessagingTask(task)
		logging.Info().Str("smtp_host", cfg.EmailReport.SMTPHost).Msg("email report task enabled")
	}

	if cfg.LivePlot.Enabled {
		task := liveplot.New(session, obs, hub, liveplot.Config{
			FigNum:          cfg.LivePlot.FigNum,
			Variables:       cfg.LivePlot.Variables,
			MaxValues:       cfg.LivePlot.MaxValues,
			YScale:          cfg.LivePlot.YScale,
			Backend:         liveplot.Backend(cfg.LivePlot.Backend),
			SessionPath:     cfg.Store.Path,
			OutputDir:       cfg.LivePlot.OutputDir,
			ExternalCommand: cfg.LivePlot.ExternalCommand,
			RefreshInterval: cfg.LivePlot.RefreshInterval,
		})
		session.AddMessagingTask(task)
		logging.Info().Int("fig_num", cfg.LivePlot.FigNum).Msg("live plot task enabled")
	}

	if cfg.Sweep.Enabled {
		task := sweep.New(session, obs, hub, sweep.Config{
			Parameter:   cfg.Sweep.Parameter,
			Values:      cfg.Sweep.Values,
			SettleDelay: cfg.Sweep.SettleDelay,
		})
		session.AddDataTask(task)
		logging.Info().Str("parameter", cfg.Sweep.Parameter).Int("steps", len(cfg.Sweep.Values)).Msg("sweep task enabled")
	}

	if cfg.Video.Enabled {
		if err := startVideo(session, cfg, clk); err != nil {
			logging.Fatal().Err(err).Msg("failed to start video pipeline")
		}
	}

	if cfg.HTTP.Enabled {
		router := httpapi.NewRouter(obs, hub, httpapi.Config{
			SessionTitle:       cfg.Store.Path,
			StaticDir:          cfg.HTTP.StaticDir,
			CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
			RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		})
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		httpServer := httpapi.NewServer(addr, router, 0)
		session.AddAPITask(httpServer)
		logging.Info().Str("addr", addr).Msg("http surface enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("supervisor session running")
	errCh := session.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor session error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if err := db.Close(context.Background()); err != nil {
		logging.Error().Err(err).Msg("error closing store")
	}

	unstopped, _ := session.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("asyncsession stopped gracefully")
}

// decryptIfSet decrypts ciphertext with the key in ASYNCSESSION_CRED_KEY, or
// returns it unchanged if it does not look like an encrypted value.
func decryptIfSet(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	credKey := os.Getenv("ASYNCSESSION_CRED_KEY")
	if credKey == "" {
		return ciphertext, nil
	}
	encryptor, err := config.NewCredentialEncryptor(credKey)
	if err != nil {
		return "", err
	}
	return encryptor.Decrypt(ciphertext)
}

// startVideo resolves each configured camera's driver to a concrete
// video.Camera and starts the acquisition pipeline as a data task.
//
// This module owns acquisition, not device discovery: the only driver
// resolvable without physical hardware attached is "mock", which yields a
// video.FakeCamera. Any other driver name fails fast at startup rather
// than silently degrading into mock frames during a real run.
func startVideo(session *supervisor.Session, cfg *config.Config, clk clock.Clock) error {
	cams := make([]video.Camera, 0, len(cfg.Video.Cameras))
	for _, camCfg := range cfg.Video.Cameras {
		switch camCfg.Driver {
		case "mock":
			cams = append(cams, video.NewFakeCamera(camCfg.Name, 640, 480, clk.NowWall))
		default:
			return fmt.Errorf("video.cameras[%s]: unknown driver %q (no hardware driver is registered in this build)", camCfg.Name, camCfg.Driver)
		}
	}

	var trig video.Trigger
	if cfg.Video.Trigger != nil {
		trig = video.NewFakeTrigger(nil)
	}

	vs, err := video.NewVideoSession(video.Config{
		Cameras:   cams,
		Trigger:   trig,
		DelaySave: cfg.Video.DelaySave,
	}, cfg.Video.OutputDir, clk)
	if err != nil {
		return fmt.Errorf("create video session: %w", err)
	}

	sink, err := resolveVideoSink(cfg.Video.Sinks)
	if err != nil {
		return fmt.Errorf("configure video sinks: %w", err)
	}

	pipeline := video.NewPipeline(session, vs, sink)
	session.AddDataTask(supervisor.ServiceFunc{
		Name: "video-pipeline",
		Run:  pipeline.Run,
	})
	return nil
}

// resolveVideoSink picks the concrete video.Sink for the first configured
// sink kind. A session is wired to exactly one sink destination: pipeline
// frames are each camera's single acquisition, not a fan-out.
func resolveVideoSink(sinks []string) (video.Sink, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("video.sinks must list at least one sink")
	}
	switch sinks[0] {
	case "image_files":
		return &video.ImageFilesSink{}, nil
	case "video":
		return &video.VideoSink{}, nil
	case "in_ram":
		return video.NewInRAMSink(), nil
	case "live_preview":
		return &video.LivePreviewSink{}, nil
	default:
		return nil, fmt.Errorf("unknown video sink kind %q", sinks[0])
	}
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration management for the
// AsyncSession store, task supervisor, HTTP surface, and video pipeline.
package config

import "time"

// Config is the root configuration struct for an AsyncSession process.
// Values are assembled in three layers, lowest to highest priority:
// struct defaults, a YAML config file, and ASYNCSESSION_-prefixed
// environment variables.
type Config struct {
	Store       StoreConfig        `koanf:"store" validate:"required"`
	HTTP        HTTPSurfaceConfig  `koanf:"http"`
	EmailReport EmailReportConfig  `koanf:"email_report"`
	LivePlot    LivePlotConfig     `koanf:"live_plot"`
	Sweep       SweepConfig        `koanf:"sweep"`
	Video       VideoSessionConfig `koanf:"video"`
	Logging     LoggingConfig      `koanf:"logging"`
}

// StoreConfig configures the embedded DuckDB-backed store.
type StoreConfig struct {
	// Path is the on-disk database file. Empty means in-memory only.
	Path string `koanf:"path"`

	// DelaySave, when true, allocates an in-memory shadow store that
	// accumulates writes and is periodically flushed to Path.
	DelaySave bool `koanf:"delay_save"`

	// FlushInterval is how often the shadow store is flushed to disk
	// when DelaySave is enabled.
	FlushInterval time.Duration `koanf:"flush_interval" validate:"required_if=DelaySave true"`

	// ReadOnly opens Path without allowing writes; used by secondary
	// processes that only read an in-progress session.
	ReadOnly bool `koanf:"read_only"`
}

// HTTPSurfaceConfig configures the stateless, read-only HTTP surface.
type HTTPSurfaceConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port" validate:"required_if=Enabled true,omitempty,min=1,max=65535"`
	StaticDir string `koanf:"static_dir"`

	// CORSAllowedOrigins lists origins permitted to call the API from a browser.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// RateLimitPerMinute bounds requests per client IP per minute. Zero disables.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// EmailReportConfig configures the periodic email reporter task.
type EmailReportConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"required_if=Enabled true"`

	SMTPHost string `koanf:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort int    `koanf:"smtp_port" validate:"required_if=Enabled true,omitempty,min=1,max=65535"`
	SMTPUser string `koanf:"smtp_user"`

	// SMTPPasswordEncrypted is the AES-256-GCM ciphertext produced by
	// CredentialEncryptor, as loaded from the config file or environment.
	SMTPPasswordEncrypted string `koanf:"smtp_password_encrypted"`

	UseSSL      bool `koanf:"use_ssl"`
	UseSTARTTLS bool `koanf:"use_starttls"`

	Recipients []string `koanf:"recipients" validate:"required_if=Enabled true"`
	Subject    string   `koanf:"subject"`

	// PlotterSocket is the local TCP address of an external plotter process
	// that renders FigureSpec images for attachment to the report.
	PlotterSocket string `koanf:"plotter_socket"`
}

// LivePlotBackend selects how live figures are rendered.
type LivePlotBackend string

const (
	LivePlotBackendInProcess LivePlotBackend = "in_process"
	LivePlotBackendExternal  LivePlotBackend = "external"
)

// LivePlotConfig configures the periodic live-plot refresh task.
type LivePlotConfig struct {
	Enabled         bool            `koanf:"enabled"`
	RefreshInterval time.Duration   `koanf:"refresh_interval"`
	Backend         LivePlotBackend `koanf:"backend" validate:"omitempty,oneof=in_process external"`

	// PlotterSocket is the local TCP address of an external plotter process,
	// used when Backend is "external".
	PlotterSocket string `koanf:"plotter_socket" validate:"required_if=Backend external"`

	// MaxValues bounds how many points a registered figure trace retains.
	MaxValues int `koanf:"max_values"`

	// FigNum identifies this task's FigureSpec registration.
	FigNum int `koanf:"fig_num"`

	// Variables lists the logged names this figure traces.
	Variables []string `koanf:"variables" validate:"required_if=Enabled true"`

	YScale string `koanf:"y_scale" validate:"omitempty,oneof=linear log"`

	// OutputDir is where in-process renders are written.
	OutputDir string `koanf:"output_dir"`

	// ExternalCommand is the plotter binary and leading arguments, used
	// when Backend is "external".
	ExternalCommand []string `koanf:"external_command" validate:"required_if=Backend external"`
}

// SweepConfig configures the periodic value-sweep driver (spec §4.5.3).
type SweepConfig struct {
	Enabled bool `koanf:"enabled"`

	// Parameter is the name saved via the Observation API on each step.
	Parameter string `koanf:"parameter" validate:"required_if=Enabled true"`

	// Values is the ordered list of values the sweep steps through.
	Values []float64 `koanf:"values" validate:"required_if=Enabled true"`

	// SettleDelay is how long the task waits after writing each value.
	SettleDelay time.Duration `koanf:"settle_delay"`
}

// CameraConfig describes a single video source.
type CameraConfig struct {
	Name string `koanf:"name" validate:"required"`

	// Driver identifies the camera backend (e.g. "v4l2", "gphoto2", "mock").
	Driver string `koanf:"driver" validate:"required"`

	// DeviceSecretEncrypted is the AES-256-GCM ciphertext of a device
	// credential (API key, pairing token), if the driver requires one.
	DeviceSecretEncrypted string `koanf:"device_secret_encrypted"`

	// QueueDepth bounds the number of frames buffered between the
	// camera's producer and its sinks before frames are dropped.
	QueueDepth int `koanf:"queue_depth" validate:"min=1"`

	// TimeoutPerFrame bounds how long a producer waits for one frame
	// before raising a camera timeout.
	TimeoutPerFrame time.Duration `koanf:"timeout_per_frame"`
}

// TriggerConfig describes an optional external trigger gating acquisition.
type TriggerConfig struct {
	Driver  string        `koanf:"driver" validate:"required"`
	Timeout time.Duration `koanf:"timeout"`
}

// VideoSessionConfig configures the camera acquisition pipeline.
type VideoSessionConfig struct {
	Enabled bool           `koanf:"enabled"`
	Cameras []CameraConfig `koanf:"cameras" validate:"required_if=Enabled true,dive"`

	// Trigger is nil when acquisition is free-running (no external gate).
	Trigger *TriggerConfig `koanf:"trigger"`

	Sinks []string `koanf:"sinks" validate:"required_if=Enabled true,dive,oneof=image_files video in_ram live_preview"`

	OutputDir  string `koanf:"output_dir" validate:"required_if=Enabled true"`
	FFmpegPath string `koanf:"ffmpeg_path"`

	// DelaySave routes frames into the store's in-memory shadow instead of
	// committing each frame individually, mirroring StoreConfig.DelaySave
	// for the video fast-acquisition path.
	DelaySave bool `koanf:"delay_save"`
}

// LoggingConfig configures the zerolog-based logging layer.
type LoggingConfig struct {
	Level     string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format    string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

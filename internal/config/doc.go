// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration management for AsyncSession.

This package handles loading, validation, and parsing of configuration for
the store, task supervisor, HTTP surface, and video pipeline. It assembles
configuration in three layers, lowest to highest priority, and provides
sensible defaults for optional settings.

# Configuration Sources

The package reads configuration from, in increasing priority:
  - Struct defaults (defaultConfig)
  - An optional YAML config file (config.yaml, or ASYNCSESSION_CONFIG_PATH)
  - ASYNCSESSION_-prefixed environment variables

# Configuration Structure

The package organizes configuration into logical groups:

  - StoreConfig: embedded DuckDB-backed store path, delay-save, flush interval
  - HTTPSurfaceConfig: HTTP listen port, CORS, rate limiting
  - EmailReportConfig: SMTP host/port/credentials, report interval, recipients
  - LivePlotConfig: refresh interval, in-process vs. external plotter backend
  - VideoSessionConfig: cameras, optional trigger, sinks, output paths
  - LoggingConfig: zerolog level, format, caller/timestamp flags

# Environment Variables

Representative environment variables, by section:

Store:
  - ASYNCSESSION_STORE_PATH: database file path (default: session.duckdb)
  - ASYNCSESSION_STORE_DELAY_SAVE: enable in-memory shadow (default: false)
  - ASYNCSESSION_STORE_FLUSH_INTERVAL: shadow flush period (default: 30s)

HTTP surface:
  - ASYNCSESSION_HTTP_ENABLED: serve the read-only API (default: true)
  - ASYNCSESSION_HTTP_PORT: listen port (default: 8080)
  - ASYNCSESSION_HTTP_RATE_LIMIT_PER_MINUTE: per-IP request budget (default: 300)

Email report:
  - ASYNCSESSION_EMAIL_REPORT_ENABLED: enable periodic email report (default: false)
  - ASYNCSESSION_EMAIL_REPORT_SMTP_HOST / _SMTP_PORT / _SMTP_USER
  - ASYNCSESSION_EMAIL_REPORT_SMTP_PASSWORD_ENCRYPTED: AES-256-GCM ciphertext
  - ASYNCSESSION_EMAIL_REPORT_RECIPIENTS: comma-separated address list

Live plot:
  - ASYNCSESSION_LIVE_PLOT_ENABLED, _REFRESH_INTERVAL, _BACKEND, _MAX_VALUES

Video:
  - ASYNCSESSION_VIDEO_ENABLED, _OUTPUT_DIR, _FFMPEG_PATH, _SINKS

Credential encryption:
  - ASYNCSESSION_CRED_KEY: key material for CredentialEncryptor (HKDF-SHA256);
    used to decrypt *_encrypted fields at process startup, never stored itself.

# Usage Example

	import "github.com/labtools/asyncsession/internal/config"

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	fmt.Printf("store path: %s\n", cfg.Store.Path)
	fmt.Printf("http enabled on :%d\n", cfg.HTTP.Port)

# Validation

Validation runs in two stages: struct-tag constraints (required_if, oneof,
min/max, dive over camera/sink lists) enforced by go-playground/validator,
followed by cross-field checks code alone can express (mutually exclusive
SMTP transport modes, duplicate camera names, ffmpeg required by the video
sink).

# Credential Encryption

SMTP passwords and camera device secrets are stored at rest as AES-256-GCM
ciphertext (see encryption.go), keyed off ASYNCSESSION_CRED_KEY via
HKDF-SHA256. Callers decrypt with CredentialEncryptor.Decrypt after config
load; the plaintext is never written back to the loaded Config struct.

# Thread Safety

The Config struct is immutable after LoadWithKoanf() returns, making it safe
for concurrent access from multiple goroutines without synchronization.

# See Also

  - SPEC_FULL.md: full configuration surface and defaults
*/
package config

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/asyncsession/config.yaml",
	"/etc/asyncsession/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "ASYNCSESSION_CONFIG_PATH"

// envPrefix is the prefix stripped from environment variables before they are
// mapped onto koanf config paths, e.g. ASYNCSESSION_STORE_PATH -> store.path.
const envPrefix = "ASYNCSESSION_"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:          "session.duckdb",
			DelaySave:     false,
			FlushInterval: 30 * time.Second,
			ReadOnly:      false,
		},
		HTTP: HTTPSurfaceConfig{
			Enabled:            true,
			Port:               8080,
			StaticDir:          "static",
			CORSAllowedOrigins: []string{"*"},
			RateLimitPerMinute: 300,
		},
		EmailReport: EmailReportConfig{
			Enabled:     false,
			Interval:    24 * time.Hour,
			SMTPPort:    587,
			UseSTARTTLS: true,
			Subject:     "Session report",
		},
		LivePlot: LivePlotConfig{
			Enabled:         false,
			RefreshInterval: 1 * time.Second,
			Backend:         LivePlotBackendInProcess,
			MaxValues:       1000,
			FigNum:          1,
			YScale:          "linear",
			OutputDir:       "plots",
		},
		Sweep: SweepConfig{
			Enabled:     false,
			SettleDelay: 500 * time.Millisecond,
		},
		Video: VideoSessionConfig{
			Enabled:    false,
			Sinks:      []string{"image_files"},
			OutputDir:  "frames",
			FFmpegPath: "ffmpeg",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Caller:    false,
			Timestamp: true,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: ASYNCSESSION_-prefixed, override any setting
//
// This function provides type-safe configuration unmarshaling with clear
// precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// ASYNCSESSION_STORE_PATH -> store.path
	// ASYNCSESSION_EMAIL_REPORT_SMTP_HOST -> email_report.smtp_host
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated strings.
var sliceConfigPaths = []string{
	"http.cors_allowed_origins",
	"email_report.recipients",
	"video.sinks",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms an ASYNCSESSION_-prefixed environment variable
// name (already stripped of its prefix by env.Provider) into a koanf config
// path, by lower-casing and replacing underscores with dots.
//
// Examples:
//   - STORE_PATH -> store.path
//   - EMAIL_REPORT_SMTP_HOST -> email_report.smtp_host
//   - HTTP_PORT -> http.port
//
// Two-word section names (email_report, live_plot) are preserved by the
// fixed replacement table below, since a naive underscore-to-dot split
// would otherwise split "email_report_enabled" into the wrong path.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	for prefix, section := range envSectionPrefixes {
		if strings.HasPrefix(key, prefix) {
			rest := strings.TrimPrefix(key, prefix)
			if rest == "" {
				return section
			}
			return section + "." + strings.ReplaceAll(rest, "_", ".")
		}
	}

	return strings.ReplaceAll(key, "_", ".")
}

// envSectionPrefixes maps multi-word section name prefixes (as they appear,
// lower-cased and underscore-joined, in an env var) to their koanf section key.
var envSectionPrefixes = map[string]string{
	"email_report_": "email_report",
	"live_plot_":     "live_plot",
}

// GetKoanfInstance returns a new Koanf instance for advanced usage.
// This is useful for:
//   - Hot-reload scenarios (with proper mutex protection)
//   - Custom configuration sources
//   - Testing with mock configurations
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *Config
//
//	err := WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := LoadWithKoanf()
//	    if err != nil {
//	        logging.Error().Err(err).Msg("config reload failed")
//	        return
//	    }
//	    cfg = newCfg
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}

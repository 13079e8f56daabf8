// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate cleanly: %v", err)
	}
}

func TestValidateEmailReportRequiresRecipients(t *testing.T) {
	cfg := defaultConfig()
	cfg.EmailReport.Enabled = true
	cfg.EmailReport.SMTPHost = "smtp.example.org"
	cfg.EmailReport.SMTPPort = 587

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for email report with no recipients")
	}

	cfg.EmailReport.Recipients = []string{"ops@example.org"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config once recipients set, got: %v", err)
	}
}

func TestValidateEmailReportRejectsSSLAndSTARTTLSTogether(t *testing.T) {
	cfg := defaultConfig()
	cfg.EmailReport.Enabled = true
	cfg.EmailReport.SMTPHost = "smtp.example.org"
	cfg.EmailReport.SMTPPort = 465
	cfg.EmailReport.Recipients = []string{"ops@example.org"}
	cfg.EmailReport.UseSSL = true
	cfg.EmailReport.UseSTARTTLS = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when both use_ssl and use_starttls are set")
	}
}

func TestValidateLivePlotExternalRequiresSocket(t *testing.T) {
	cfg := defaultConfig()
	cfg.LivePlot.Enabled = true
	cfg.LivePlot.Backend = LivePlotBackendExternal

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for external live plot backend without plotter socket")
	}

	cfg.LivePlot.PlotterSocket = "127.0.0.1:9900"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config once plotter socket set, got: %v", err)
	}
}

func TestValidateVideoRejectsDuplicateCameraNames(t *testing.T) {
	cfg := defaultConfig()
	cfg.Video.Enabled = true
	cfg.Video.OutputDir = "frames"
	cfg.Video.Cameras = []CameraConfig{
		{Name: "cam1", Driver: "mock", QueueDepth: 8},
		{Name: "cam1", Driver: "mock", QueueDepth: 8},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate camera names")
	}
}

func TestValidateVideoRequiresFFmpegForVideoSink(t *testing.T) {
	cfg := defaultConfig()
	cfg.Video.Enabled = true
	cfg.Video.OutputDir = "frames"
	cfg.Video.FFmpegPath = ""
	cfg.Video.Sinks = []string{"video"}
	cfg.Video.Cameras = []CameraConfig{{Name: "cam1", Driver: "mock", QueueDepth: 8}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for video sink without ffmpeg_path")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	cases := map[string]string{
		"STORE_PATH":             "store.path",
		"HTTP_PORT":              "http.port",
		"EMAIL_REPORT_SMTP_HOST": "email_report.smtp_host",
		"LIVE_PLOT_MAX_VALUES":   "live_plot.max_values",
	}
	for in, want := range cases {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("ASYNCSESSION_TEST_STR", "hello")
	if got := getEnv("ASYNCSESSION_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("getEnv = %q, want %q", got, "hello")
	}
	if got := getEnv("ASYNCSESSION_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want %q", got, "fallback")
	}

	t.Setenv("ASYNCSESSION_TEST_INT", "42")
	if got := getIntEnv("ASYNCSESSION_TEST_INT", 0); got != 42 {
		t.Errorf("getIntEnv = %d, want 42", got)
	}

	t.Setenv("ASYNCSESSION_TEST_DUR", "5s")
	if got := getDurationEnv("ASYNCSESSION_TEST_DUR", time.Second); got != 5*time.Second {
		t.Errorf("getDurationEnv = %v, want 5s", got)
	}

	t.Setenv("ASYNCSESSION_TEST_BOOL", "true")
	if got := getBoolEnv("ASYNCSESSION_TEST_BOOL", false); !got {
		t.Error("getBoolEnv = false, want true")
	}

	t.Setenv("ASYNCSESSION_TEST_SLICE", "a, b ,c")
	got := getSliceEnv("ASYNCSESSION_TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("getSliceEnv length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("getSliceEnv()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks that required configuration is present and valid.
// Field-level constraints (required_if, oneof, min/max, dive) are declared
// as struct tags in config.go and enforced here via go-playground/validator;
// cross-field checks that validator tags cannot express are run afterward.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	if err := c.validateEmailReport(); err != nil {
		return err
	}
	if err := c.validateLivePlot(); err != nil {
		return err
	}
	if err := c.validateSweep(); err != nil {
		return err
	}
	return c.validateVideo()
}

func (c *Config) validateStore() error {
	if c.Store.ReadOnly && c.Store.DelaySave {
		return fmt.Errorf("store.read_only and store.delay_save cannot both be set")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if !c.HTTP.Enabled {
		return nil
	}
	if c.HTTP.Port == 0 {
		return fmt.Errorf("http.port is required when http.enabled=true")
	}
	return nil
}

func (c *Config) validateEmailReport() error {
	if !c.EmailReport.Enabled {
		return nil
	}
	if c.EmailReport.UseSSL && c.EmailReport.UseSTARTTLS {
		return fmt.Errorf("email_report.use_ssl and email_report.use_starttls are mutually exclusive")
	}
	if len(c.EmailReport.Recipients) == 0 {
		return fmt.Errorf("email_report.recipients is required when email_report.enabled=true")
	}
	return nil
}

func (c *Config) validateLivePlot() error {
	if !c.LivePlot.Enabled {
		return nil
	}
	if c.LivePlot.Backend == LivePlotBackendExternal && c.LivePlot.PlotterSocket == "" {
		return fmt.Errorf("live_plot.plotter_socket is required when live_plot.backend=external")
	}
	return nil
}

func (c *Config) validateSweep() error {
	if !c.Sweep.Enabled {
		return nil
	}
	if len(c.Sweep.Values) == 0 {
		return fmt.Errorf("sweep.values must list at least one value when sweep.enabled=true")
	}
	return nil
}

func (c *Config) validateVideo() error {
	if !c.Video.Enabled {
		return nil
	}
	if len(c.Video.Cameras) == 0 {
		return fmt.Errorf("video.cameras must list at least one camera when video.enabled=true")
	}
	seen := make(map[string]struct{}, len(c.Video.Cameras))
	for _, cam := range c.Video.Cameras {
		if _, dup := seen[cam.Name]; dup {
			return fmt.Errorf("video.cameras contains duplicate camera name %q", cam.Name)
		}
		seen[cam.Name] = struct{}{}
	}
	for _, sink := range c.Video.Sinks {
		if sink == "video" && c.Video.FFmpegPath == "" {
			return fmt.Errorf("video.ffmpeg_path is required when video.sinks includes \"video\"")
		}
	}
	return nil
}

// formatValidationError converts a validator.ValidationErrors into a single,
// readable error listing every failing field and its constraint.
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q constraint", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(parts, "; "))
}

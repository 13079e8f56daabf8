// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package emailreport implements the periodic status-report task (spec
// §4.5.1): compose an HTML summary of the session's last logged values
// and registered figures, and mail it on a fixed interval.
package emailreport

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/metrics"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/supervisor"
	"github.com/labtools/asyncsession/internal/websocket"
)

// Config parameterizes one email-reporter task instance (spec §4.5.1).
type Config struct {
	FromAddr           string
	ToAddrs            []string
	Host               string
	Port               int
	Subject            string
	Interval           time.Duration
	InitialDelay       time.Duration // zero means Interval/2
	UseSSLSubmission   bool
	UseSTARTTLS        bool
	User               string
	Password           string
	ConnectRetryDelay  time.Duration // default 60s per spec
}

// Sender abstracts the actual SMTP dial/send so tests can substitute a
// fake without opening a socket. The production Sender is net/smtp-backed
// (sendMail below).
type Sender func(cfg Config, body string) error

// Task drives the periodic email report while the owning session runs.
type Task struct {
	session *supervisor.Session
	obs     *observation.API
	hub     *websocket.Hub
	cfg     Config
	send    Sender
	breaker *gobreaker.CircuitBreaker[any]
}

// New creates an email-report task. hub may be nil.
func New(session *supervisor.Session, obs *observation.API, hub *websocket.Hub, cfg Config, send Sender) *Task {
	if cfg.ConnectRetryDelay == 0 {
		cfg.ConnectRetryDelay = 60 * time.Second
	}
	if send == nil {
		send = sendMail
	}
	settings := gobreaker.Settings{
		Name:        "email-reporter-smtp",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Task{
		session: session,
		obs:     obs,
		hub:     hub,
		cfg:     cfg,
		send:    send,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Serve implements suture.Service via supervisor.TaskFunc wrapping, and is
// also callable directly as a supervisor.Task.
func (t *Task) Serve(ctx context.Context) error {
	delay := t.cfg.InitialDelay
	if delay == 0 {
		delay = t.cfg.Interval / 2
	}
	logging.Info().Dur("delay", delay).Msg("email reporter: initial wait")
	if !t.sleep(ctx, delay) {
		return ctx.Err()
	}

	for t.running(ctx) {
		body, err := t.composeReport(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("email reporter: failed to compose report")
		} else if err := t.attemptSend(ctx, body); err != nil {
			logging.Warn().Err(err).Msg("email reporter: send failed, will retry")
		}

		if !t.sleep(ctx, t.cfg.Interval) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// attemptSend sends body once through the circuit breaker, retrying every
// ConnectRetryDelay on connection failure until it either succeeds or the
// session stops (spec §4.5.1, §7 IoError local recovery).
func (t *Task) attemptSend(ctx context.Context, body string) error {
	for t.running(ctx) {
		_, err := t.breaker.Execute(func() (any, error) {
			return nil, t.send(t.cfg, body)
		})
		if err == nil {
			metrics.EmailSendTotal.WithLabelValues("sent").Inc()
			if setErr := t.obs.SaveMetadataOrParameterEmailLastSent(ctx); setErr != nil {
				logging.Warn().Err(setErr).Msg("email reporter: failed to record email_lastSent")
			}
			if t.hub != nil {
				t.hub.BroadcastEmailSent("sent")
			}
			return nil
		}

		if err == gobreaker.ErrOpenState {
			metrics.EmailSendTotal.WithLabelValues("circuit_open").Inc()
		} else {
			metrics.EmailSendTotal.WithLabelValues("retry").Inc()
		}
		if t.hub != nil {
			t.hub.BroadcastEmailSent("retry")
		}
		if !t.sleep(ctx, t.cfg.ConnectRetryDelay) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (t *Task) composeReport(ctx context.Context) (string, error) {
	values, err := t.obs.LoggedLastValues(ctx)
	if err != nil {
		return "", fmt.Errorf("compose report: %w", err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<html><body><h1>Session report</h1><table border=\"1\">")
	b.WriteString("<tr><th>Variable</th><th>Value</th><th>Timestamp</th></tr>")
	for _, name := range names {
		v := values[name]
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%v</td><td>%v</td></tr>", name, v.Value, v.Timestamp)
	}
	b.WriteString("</table></body></html>")
	return b.String(), nil
}

func (t *Task) running(ctx context.Context) bool {
	return ctx.Err() == nil && t.session.Running()
}

// sleep waits d, waking early if the session asks to exit; it returns
// false when the caller should stop the task loop.
func (t *Task) sleep(ctx context.Context, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.session.Sleep(d, false)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return t.running(ctx)
	}
}

// sendMail is the production Sender, using net/smtp with optional
// implicit TLS (SSL submission) or STARTTLS as configured.
func sendMail(cfg Config, body string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "AsyncSession status report"
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		cfg.FromAddr, strings.Join(cfg.ToAddrs, ", "), subject, body)

	if cfg.UseSSLSubmission {
		return sendMailTLS(addr, cfg.Host, auth, cfg.FromAddr, cfg.ToAddrs, []byte(msg))
	}
	return smtp.SendMail(addr, auth, cfg.FromAddr, cfg.ToAddrs, []byte(msg))
}

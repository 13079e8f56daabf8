// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package supervisor provides process supervision for AsyncSession using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of every long-running task in a session: the video acquisition
pipeline, the periodic email/live-plot/sweep tasks, and the HTTP surface.
It provides Erlang/OTP-style supervision with automatic restart, failure
isolation, and graceful shutdown, and layers a cooperative "running" flag
on top so tasks can also exit voluntarily via ask_exit.

# Overview

The supervisor tree organizes tasks into three layers for failure isolation:

	RootSupervisor ("asyncsession")
	├── DataSupervisor ("data-layer")
	│   └── video pipeline producer/sink tasks
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket live-update hub
	│   ├── live-plot refresh task
	│   ├── email reporter task
	│   └── sweep task
	└── APISupervisor ("api-layer")
	    └── HTTP server task

This hierarchy ensures that:
  - A camera producer crash doesn't affect the HTTP surface
  - An SMTP outage in the email reporter doesn't impact video acquisition
  - Each layer can restart independently

# Key Features

Automatic Restart:
  - Crashed tasks are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Cooperative Exit:
  - Session wraps the tree with a shared atomic "running" flag
  - AskExit flips the flag; periodic tasks observe it via Sleep and return
  - SIGINT/SIGTERM trigger AskExit automatically

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per task
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs task starts, stops, failures, and restarts
  - Event hooks via sutureslog adapter

# Usage Example

	logger := slog.Default()
	session := supervisor.NewSession(logger, supervisor.DefaultTreeConfig())

	session.AddDataTask(videoPipeline)
	session.AddMessagingTask(emailReporter)
	session.AddMessagingTask(livePlot)
	session.AddAPITask(httpServer)

	ctx := context.Background()
	if err := session.Serve(ctx); err != nil {
	    logging.Error().Err(err).Msg("session stopped")
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,
	    FailureDecay:     30.0,
	    FailureBackoff:   15 * time.Second,
	    ShutdownTimeout:  10 * time.Second,
	}

# Service Interface

All tasks must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

A task's Serve loop should poll Session.Running() (directly, or via
Session.Sleep) and return nil promptly once it observes false.

# Debugging Shutdown Issues

If tasks don't stop within the timeout:

	report, err := session.UnstoppedServiceReport()
	for _, task := range report {
	    logging.Warn().Str("task", task).Msg("task did not stop in time")
	}

# Thread Safety

Session and SupervisorTree are safe for concurrent use: tasks may be added
from any goroutine, and AskExit/Running are safe to call from signal
handlers and supervised tasks alike.

# See Also

  - github.com/thejerf/suture/v4: underlying supervision library
  - internal/video: data-layer tasks supervised here
  - internal/tasks: messaging-layer periodic tasks supervised here
*/
package supervisor

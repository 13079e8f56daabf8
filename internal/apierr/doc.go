// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package apierr defines the error taxonomy used across the store, the
observation API, the video pipeline, and the HTTP surface.

Propagation policy:

  - ErrIO: recovered locally by the email reporter (retried after its next
    interval via the gobreaker circuit); surfaced by the store and sinks to
    their caller otherwise.
  - ErrSchema: fatal on store open.
  - ErrReadOnly: surfaced to the caller, never silently dropped.
  - ErrCameraTimeout: propagates and flips the session to not-running when
    the camera is configured to raise on timeout; otherwise the producer
    logs and yields a nil frame for that cycle.
  - ErrTrigger: fatal to the video pipeline run.
  - ErrEncoding: the sink logs and continues with the next frame when only
    that frame was affected; it terminates when the encoder subprocess
    itself died.
  - ErrDevice: fatal for the owning producer task, which flips the session
    to not-running.

Errors bubble to the supervisor unless a component implements one of the
local recoveries above. The supervisor logs the failure and the session's
running flag flips false, letting sibling tasks observe it and drain.

internal/httpapi/errors.go is the single place that maps these sentinels to
HTTP status codes.
*/
package apierr

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package video implements the multi-camera acquisition pipeline (spec
§4.7): N cameras run in lockstep, optionally synchronized by an external
trigger, streaming frames through one bounded queue per camera into a
configurable sink (image files, an mp4 per camera, an in-RAM buffer, or a
live preview window).

The package is split as:

  - camera.go: the Camera/Trigger/Frame collaborator contract a concrete
    driver must satisfy, plus a fake used by tests and non-camera runs.
  - session.go: VideoSession, the pipeline's static configuration —
    output path allocation, per-camera queues, the initialising_cams set.
  - pipeline.go: the task graph — producers, the trigger starter, and
    dispatch to the configured sink, wired onto a supervisor.Session the
    same way every other periodic task is.
  - sinks.go: the image-files, mp4, in-RAM, and live-preview sinks.
  - fastpath.go: the fast_acquisition_to_ram delay-save shortcut (§4.7.4).

Ordering invariant carried throughout: a sink always persists a frame's
(timestamp, counter) to the Store before writing the encoded image, so the
log stays authoritative for acquisition accounting even if a crash
truncates the trailing images (§4.7.5).
*/
package video

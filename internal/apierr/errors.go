// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr declares the sentinel error taxonomy shared by the store,
// observation API, video pipeline, and HTTP surface. Call sites wrap one of
// these with fmt.Errorf("...: %w", err) so errors.Is/errors.As work across
// package boundaries; internal/httpapi maps each sentinel to a status code
// in one place.
package apierr

import "errors"

// Sentinel errors. See doc.go for the propagation policy each one follows.
var (
	// ErrIO indicates a filesystem or socket failure underneath the store,
	// a sink, or the email reporter's SMTP dial.
	ErrIO = errors.New("io error")

	// ErrSchema indicates the store file carries a database version this
	// build does not recognize. Fatal on open.
	ErrSchema = errors.New("unrecognized schema version")

	// ErrReadOnly indicates a write was attempted against a session opened
	// read-only. Always surfaced to the caller, never silently dropped.
	ErrReadOnly = errors.New("session is read-only")

	// ErrCameraTimeout indicates a producer received no frame within its
	// configured deadline.
	ErrCameraTimeout = errors.New("camera acquisition timed out")

	// ErrTrigger indicates the trigger generator failed to arm.
	ErrTrigger = errors.New("trigger failed to arm")

	// ErrEncoding indicates an image encoder or ffmpeg subprocess failure.
	ErrEncoding = errors.New("image/video encoding failed")

	// ErrDevice indicates a wrapped camera or trigger driver error.
	ErrDevice = errors.New("device driver error")
)

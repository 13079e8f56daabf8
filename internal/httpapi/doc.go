// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package httpapi is the stateless HTTP surface over an observation.API
// (spec §4.6): a rendered main page, JSON read endpoints for logged
// variables, parameters and datasets, a websocket push channel, and the
// usual operability endpoints (/metrics, /swagger/*, /static/*).
//
// The router is grounded on the teacher's chi_router.go/chi_middleware.go
// pattern: one chi.Mux, a global middleware stack, and per-route-group
// rate limiting via go-chi/httprate. Every handler returns JSON encoded
// with goccy/go-json.
package httpapi

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus counters, gauges, and histograms for
// the AsyncSession store, task supervisor, HTTP surface, and video pipeline.
//
// Metrics are registered at package init via promauto and served by the
// HTTP surface at /metrics through promhttp.Handler(). Recording helpers
// (RecordStoreQuery, RecordAPIRequest, TrackActiveRequest) wrap the raw
// vectors so call sites do not need to know label ordering.
package metrics

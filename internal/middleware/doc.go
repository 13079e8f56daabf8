// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for compression, request
ID tracking, and Prometheus metrics integration, applied to the stateless,
read-only HTTP surface in front of the store.

Key Components:

  - Compression: Gzip compression for responses >1KB
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

The typical middleware stack for an endpoint is:

	r.Use(
	    cors.Handler(corsOptions),             // Layer 1: CORS headers
	    httprate.LimitByIP(limit, window),     // Layer 2: Rate limiting
	    middleware.PrometheusMetrics,          // Layer 3: Metrics
	    middleware.Compression,                // Layer 4: Gzip
	    middleware.RequestID,                  // Layer 5: Request tracking
	)

Usage Example - Compression:

	import "github.com/labtools/asyncsession/internal/middleware"

	// Wrap handler with gzip compression
	http.HandleFunc("/api/v1/data",
	    middleware.Compression(handler),
	)

	// Responses >1KB are automatically compressed
	// Accept-Encoding: gzip header is required

Usage Example - Request ID:

	// Request ID middleware
	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Compression Details:

The compression middleware:
  - Only compresses responses >1KB (configurable threshold)
  - Supports gzip encoding (Accept-Encoding: gzip)
  - Applies to text/json/javascript/xml mime types
  - Automatically sets Content-Encoding header
  - Skips WebSocket upgrade requests

Thread Safety:

All middleware components are thread-safe:
  - Compression uses a sync.Pool of per-request gzip writers
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/httpapi: HTTP handlers wrapped by middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware

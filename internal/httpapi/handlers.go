// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/websocket"
)

type handlers struct {
	obs   *observation.API
	hub   *websocket.Hub
	title string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><div id="app"></div>
<script type="module" src="/static/main.js"></script>
</body></html>`))

var plotTemplate = template.Must(template.New("plot").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}} - {{.Name}}</title></head>
<body><h1>{{.Name}}</h1><canvas id="plot"></canvas>
<script type="module" src="/static/plot.js" data-variable="{{.Name}}"></script>
</body></html>`))

// index renders the main page with the session title (spec §4.6 "/").
//
// @Summary Rendered main page
// @Tags Core
// @Produce html
// @Success 200 {string} string "HTML page"
// @Router / [get]
func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ Title string }{h.title}); err != nil {
		logging.Error().Err(err).Msg("httpapi: failed to render index page")
	}
}

// plot renders the plot page for one logged variable (spec §4.6
// "/plot/{name}"; SPEC_FULL C.1 resolves this against the current
// FigureSpec rather than a stale one from a previous run).
//
// @Summary Rendered plot page
// @Tags Core
// @Produce html
// @Param name path string true "variable name"
// @Success 200 {string} string "HTML page"
// @Router /plot/{name} [get]
func (h *handlers) plot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := plotTemplate.Execute(w, struct{ Title, Name string }{h.title, name}); err != nil {
		logging.Error().Err(err).Msg("httpapi: failed to render plot page")
	}
}

type loggedLastValue struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Datestr string  `json:"datestr"`
}

// loggedLastValues returns the most recent sample of every logged
// variable (spec §4.6 "/api/logged_last_values").
//
// @Summary Most recent value of every logged variable
// @Tags Observation
// @Produce json
// @Success 200 {array} loggedLastValue
// @Failure 500 {object} errorResponse
// @Router /api/logged_last_values [get]
func (h *handlers) loggedLastValues(w http.ResponseWriter, r *http.Request) {
	values, err := h.obs.LoggedLastValues(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]loggedLastValue, 0, len(values))
	for _, name := range observation.SortedNames(namesOf(values)) {
		v := values[name]
		out = append(out, loggedLastValue{
			Name:    v.Name,
			Value:   v.Value,
			Datestr: time.Unix(int64(v.Timestamp), 0).UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func namesOf(values map[string]observation.NamedValue) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	return names
}

// getParameters returns every non-reserved parameter (spec §4.6
// "/api/get_parameters").
//
// @Summary Non-reserved session parameters
// @Tags Observation
// @Produce json
// @Success 200 {object} map[string]float64
// @Failure 500 {object} errorResponse
// @Router /api/get_parameters [get]
func (h *handlers) getParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.obs.Parameters(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, params)
}

type dataFromTSRequest struct {
	Name   string  `json:"name"`
	LastTS float64 `json:"last_ts"`
}

// dataFromTS returns every sample of name logged after last_ts (spec
// §4.6 "/api/data_from_ts"), the polling complement to the websocket push
// channel.
//
// @Summary Samples of a logged variable since a timestamp
// @Tags Observation
// @Accept json
// @Produce json
// @Param request body dataFromTSRequest true "variable name and last-seen timestamp"
// @Success 200 {array} array
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /api/data_from_ts [post]
func (h *handlers) dataFromTS(w http.ResponseWriter, r *http.Request) {
	var req dataFromTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Timestamp: time.Now().UTC().Format(time.RFC3339)})
		return
	}
	samples, err := h.obs.LoggedVariableSince(r.Context(), req.Name, req.LastTS)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([][2]float64, 0, len(samples))
	for _, s := range samples {
		out = append(out, [2]float64{s.Timestamp, s.Value})
	}
	respondJSON(w, http.StatusOK, out)
}

// serverCurrentTs returns the server's current wall-clock time (spec §4.6
// "/api/server_current_ts"), used by browser tabs to detect clock skew
// against logged timestamps.
//
// @Summary Server wall-clock timestamp
// @Tags Observation
// @Produce json
// @Success 200 {object} map[string]float64
// @Router /api/server_current_ts [get]
func (h *handlers) serverCurrentTS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]float64{"now": float64(time.Now().UnixNano()) / 1e9})
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// serveWS upgrades to a websocket connection and registers the client
// with the live push hub (SPEC_FULL B, gorilla/websocket), complementing
// the polling /api/data_from_ts.
//
// @Summary Live push channel
// @Tags Realtime
// @Success 101 {string} string "Switching Protocols"
// @Failure 503 {object} errorResponse
// @Router /ws [get]
func (h *handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "live push is not enabled", Timestamp: time.Now().UTC().Format(time.RFC3339)})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

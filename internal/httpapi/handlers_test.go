// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labtools/asyncsession/internal/clock"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/store"
)

func newTestAPI(t *testing.T) (*observation.API, *clock.Fixed) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session")
	clk := clock.NewFixed(1700000000)
	s, err := store.Open(path, store.ModeCreateIfMissing, false, clk)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return observation.New(s, clk, nil), clk
}

func TestLoggedLastValuesReturnsSortedJSON(t *testing.T) {
	obs, _ := newTestAPI(t)
	ctx := context.Background()
	if err := obs.AddEntry(ctx, map[string]float64{"temperature": 21.5, "pressure": 1013}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}

	srv := httptest.NewServer(NewRouter(obs, nil, Config{SessionTitle: "test session"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/logged_last_values")
	if err != nil {
		t.Fatalf("GET /api/logged_last_values error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var values []loggedLastValue
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	if values[0].Name != "pressure" || values[1].Name != "temperature" {
		t.Fatalf("values not sorted by name: %+v", values)
	}
}

func TestGetParametersExcludesReservedNames(t *testing.T) {
	obs, _ := newTestAPI(t)
	ctx := context.Background()
	if err := obs.SaveParameter(ctx, "gain", 2.5); err != nil {
		t.Fatalf("SaveParameter() error = %v", err)
	}
	if _, err := obs.T0(ctx); err != nil {
		t.Fatalf("T0() error = %v", err)
	}

	srv := httptest.NewServer(NewRouter(obs, nil, Config{SessionTitle: "test session"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/get_parameters")
	if err != nil {
		t.Fatalf("GET /api/get_parameters error = %v", err)
	}
	defer resp.Body.Close()

	var params map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := params["_session_creation_timestamp"]; ok {
		t.Fatalf("reserved parameter leaked into response: %+v", params)
	}
	if params["gain"] != 2.5 {
		t.Fatalf("params[gain] = %v, want 2.5", params["gain"])
	}
}

func TestDataFromTSReturnsSamplesSinceLastTimestamp(t *testing.T) {
	obs, clk := newTestAPI(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := obs.AddEntry(ctx, map[string]float64{"x": float64(i)}); err != nil {
			t.Fatalf("AddEntry() error = %v", err)
		}
		clk.Advance(time.Second)
	}
	samples, err := obs.LoggedVariable(ctx, "x")
	if err != nil {
		t.Fatalf("LoggedVariable() error = %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("seeded %d samples, want 3", len(samples))
	}

	srv := httptest.NewServer(NewRouter(obs, nil, Config{SessionTitle: "test session"}))
	defer srv.Close()

	body, _ := json.Marshal(dataFromTSRequest{Name: "x", LastTS: samples[0].Timestamp})
	resp, err := http.Post(srv.URL+"/api/data_from_ts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/data_from_ts error = %v", err)
	}
	defer resp.Body.Close()

	var rows [][2]float64
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (samples after the first)", len(rows))
	}
}

func TestServerCurrentTSReturnsNow(t *testing.T) {
	obs, _ := newTestAPI(t)
	srv := httptest.NewServer(NewRouter(obs, nil, Config{SessionTitle: "test session"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/server_current_ts")
	if err != nil {
		t.Fatalf("GET /api/server_current_ts error = %v", err)
	}
	defer resp.Body.Close()

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["now"] <= 0 {
		t.Fatalf("now = %v, want a positive timestamp", body["now"])
	}
}

func TestIndexAndPlotPagesRenderHTML(t *testing.T) {
	obs, _ := newTestAPI(t)
	srv := httptest.NewServer(NewRouter(obs, nil, Config{SessionTitle: "test session"}))
	defer srv.Close()

	for _, path := range []string{"/", "/plot/temperature"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

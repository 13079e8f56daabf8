// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package observation

import (
	"context"
	"fmt"
	"sort"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/clock"
	"github.com/labtools/asyncsession/internal/store"
	"github.com/labtools/asyncsession/internal/websocket"
)

// API is the façade every task and HTTP handler uses instead of talking to
// internal/store directly.
type API struct {
	store *store.Store
	clock clock.Clock

	// hub, if set, receives a BroadcastLoggedEntry call for every value
	// AddEntry writes, letting connected browser tabs update live without
	// polling /api/data_from_ts.
	hub *websocket.Hub
}

// New wraps store for use through the observation API. hub may be nil if
// no live push is wired up (e.g. a headless batch run).
func New(s *store.Store, clk clock.Clock, hub *websocket.Hub) *API {
	return &API{store: s, clock: clk, hub: hub}
}

// NamedValue pairs a log/parameter name with its current value, used by
// LoggedFirstValues/LoggedLastValues and the HTTP surface's
// /api/logged_last_values response.
type NamedValue struct {
	Name      string
	Value     float64
	Timestamp float64
}

func (a *API) readOnlyErr() error {
	if a.store.ReadOnly() {
		return apierr.ErrReadOnly
	}
	return nil
}

// AddEntry writes every name/value pair under one shared now_wall()
// timestamp, so they are comparable in time even though each becomes its
// own log row.
func (a *API) AddEntry(ctx context.Context, values map[string]float64) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	ts := a.clock.NowWall()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := values[name]
		if err := a.store.InsertLog(ctx, name, ts, value); err != nil {
			return err
		}
		if a.hub != nil {
			a.hub.BroadcastLoggedEntry(name, ts, value)
		}
	}
	return nil
}

// AddDataset appends a new timestamped dataset row (always append, never
// overwrite-in-place; see internal/store's InsertDataset doc and
// DESIGN.md).
func (a *API) AddDataset(ctx context.Context, name string, data []byte) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.InsertDataset(ctx, name, a.clock.NowWall(), data)
}

// SaveParameter upserts a single parameter.
func (a *API) SaveParameter(ctx context.Context, name string, value float64) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.UpsertParameter(ctx, name, value)
}

// SaveParameters upserts every entry in values.
func (a *API) SaveParameters(ctx context.Context, values map[string]float64) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	for name, value := range values {
		if err := a.store.UpsertParameter(ctx, name, value); err != nil {
			return fmt.Errorf("save parameter %s: %w", name, err)
		}
	}
	return nil
}

// SaveMetadata upserts a single metadata entry.
func (a *API) SaveMetadata(ctx context.Context, name, value string) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.UpsertMetadata(ctx, name, value)
}

// LoggedVariables returns every declared scalar-log name.
func (a *API) LoggedVariables(ctx context.Context) ([]string, error) {
	return a.store.LogNames(ctx)
}

// LoggedVariable returns every sample recorded for name, ascending.
func (a *API) LoggedVariable(ctx context.Context, name string) ([]store.LogSample, error) {
	return a.store.QueryLog(ctx, name)
}

// LoggedVariableSince returns samples for name recorded after since,
// ascending, used by the live-plot task to poll for new points without
// re-fetching its whole history every refresh.
func (a *API) LoggedVariableSince(ctx context.Context, name string, since float64) ([]store.LogSample, error) {
	return a.store.QueryLogSince(ctx, name, since)
}

// RegisterFigure declares or replaces a live-plot figure's spec.
func (a *API) RegisterFigure(ctx context.Context, spec store.FigureSpec) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.InsertFigure(ctx, spec)
}

// DeregisterFigure removes a figure's spec, e.g. once its owning
// external-plotter subprocess has exited.
func (a *API) DeregisterFigure(ctx context.Context, fignum int) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.DeleteFigure(ctx, fignum)
}

// ClearFigures removes every registered figure, called once at session
// open before any live-plot task re-declares its own spec.
func (a *API) ClearFigures(ctx context.Context) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.ClearFigures(ctx)
}

// LoggedFirstValues returns, per declared name, its earliest sample.
func (a *API) LoggedFirstValues(ctx context.Context) (map[string]NamedValue, error) {
	return a.loggedEndpointValues(ctx, a.store.FirstLog)
}

// LoggedLastValues returns, per declared name, its most recent sample.
func (a *API) LoggedLastValues(ctx context.Context) (map[string]NamedValue, error) {
	return a.loggedEndpointValues(ctx, a.store.LastLog)
}

func (a *API) loggedEndpointValues(
	ctx context.Context,
	endpoint func(context.Context, string) (*store.LogSample, error),
) (map[string]NamedValue, error) {
	names, err := a.store.LogNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]NamedValue, len(names))
	for _, name := range names {
		sample, err := endpoint(ctx, name)
		if err != nil {
			return nil, err
		}
		if sample == nil {
			continue
		}
		out[name] = NamedValue{Name: name, Value: sample.Value, Timestamp: sample.Timestamp}
	}
	return out, nil
}

// LastTimestamp returns the maximum of (last log timestamp, last dataset
// timestamp) across every declared name, or 0 if the session has no data.
func (a *API) LastTimestamp(ctx context.Context) (float64, error) {
	var max float64

	logNames, err := a.store.LogNames(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range logNames {
		last, err := a.store.LastLog(ctx, name)
		if err != nil {
			return 0, err
		}
		if last != nil && last.Timestamp > max {
			max = last.Timestamp
		}
	}

	datasetNames, err := a.store.DatasetNames(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range datasetNames {
		last, err := a.store.DatasetLastData(ctx, name)
		if err != nil {
			return 0, err
		}
		if last != nil && last.Timestamp > max {
			max = last.Timestamp
		}
	}
	return max, nil
}

// T0 returns the session's creation timestamp: the reserved
// _session_creation_timestamp parameter if present, or for legacy
// sessions that predate it, the minimum first-log timestamp across every
// declared name — which is then upserted back so future opens converge to
// a stable value (see DESIGN.md, "t0() backfill for legacy sessions").
func (a *API) T0(ctx context.Context) (float64, error) {
	if v, ok, err := a.store.GetParameter(ctx, "_session_creation_timestamp"); err != nil {
		return 0, err
	} else if ok {
		return v, nil
	}

	names, err := a.store.LogNames(ctx)
	if err != nil {
		return 0, err
	}
	var min float64
	found := false
	for _, name := range names {
		first, err := a.store.FirstLog(ctx, name)
		if err != nil {
			return 0, err
		}
		if first == nil {
			continue
		}
		if !found || first.Timestamp < min {
			min = first.Timestamp
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	if err := a.readOnlyErr(); err == nil {
		if err := a.store.UpsertParameter(ctx, "_session_creation_timestamp", min); err != nil {
			return 0, err
		}
	}
	return min, nil
}

// Parameters returns every user-facing (non-reserved) parameter.
func (a *API) Parameters(ctx context.Context) (map[string]float64, error) {
	all, err := a.store.AllParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(all))
	for name, value := range all {
		if store.IsReservedParameter(name) {
			continue
		}
		out[name] = value
	}
	return out, nil
}

// Metadatas returns every metadata entry (empty on a pre-v4 schema).
func (a *API) Metadatas(ctx context.Context) (map[string]string, error) {
	return a.store.AllMetadatas(ctx)
}

// Dataset returns every blob recorded for name, ascending by timestamp.
func (a *API) Dataset(ctx context.Context, name string) ([]store.DatasetBlob, error) {
	return a.store.QueryDataset(ctx, name)
}

// DatasetLastData returns the most recently appended blob for name.
func (a *API) DatasetLastData(ctx context.Context, name string) (*store.DatasetBlob, error) {
	return a.store.DatasetLastData(ctx, name)
}

// DatasetTimestamps returns the ascending timestamps recorded for name.
func (a *API) DatasetTimestamps(ctx context.Context, name string) ([]float64, error) {
	return a.store.DatasetTimestamps(ctx, name)
}

// SaveMetadataOrParameterEmailLastSent records that the periodic email
// reporter just sent successfully, at the current wall-clock time. It
// picks metadata (v4+) or parameters (legacy) as the backing table; see
// store.Store.SaveEmailLastSent.
func (a *API) SaveMetadataOrParameterEmailLastSent(ctx context.Context) error {
	if err := a.readOnlyErr(); err != nil {
		return err
	}
	return a.store.SaveEmailLastSent(ctx, a.clock.NowWall())
}

// EmailLastSent returns the last successful report-send time, if any.
func (a *API) EmailLastSent(ctx context.Context) (float64, bool, error) {
	return a.store.EmailLastSent(ctx)
}

// SortedNames returns names sorted ascending, a convenience used by
// handlers that need deterministic JSON array ordering.
func SortedNames(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/metrics"
)

// FigureSpec describes one registered live-plot figure and the variables
// bound to it. Present only from schema v4.1.
type FigureSpec struct {
	FigNum    int
	MaxValues int
	YScale    string
	YMin      float64
	YMax      float64
	Variables []string
}

// InsertFigure registers spec, replacing any prior spec with the same
// FigNum. Figures are meant to be cleared at session open and re-declared
// by whichever live-plot tasks start this run (see DESIGN.md, "Figure
// registry lifecycle").
func (s *Store) InsertFigure(ctx context.Context, spec FigureSpec) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if !s.version.hasFigureTables() {
		return fmt.Errorf("%w: figures unsupported at schema version %v", apierr.ErrSchema, float64(s.version))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.insertFigureLocked(ctx, spec)
	metrics.RecordStoreQuery("insert_figure", time.Since(start), err)
	return err
}

func (s *Store) insertFigureLocked(ctx context.Context, spec FigureSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin insert_figure transaction: %v", apierr.ErrIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM figure_variable WHERE fignum = ?`, spec.FigNum); err != nil {
		return fmt.Errorf("%w: clear figure variables: %v", apierr.ErrIO, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO figure (fignum, maxvalues, yscale, ymin, ymax) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (fignum) DO UPDATE SET maxvalues = excluded.maxvalues, yscale = excluded.yscale,
		 ymin = excluded.ymin, ymax = excluded.ymax`,
		spec.FigNum, spec.MaxValues, spec.YScale, spec.YMin, spec.YMax,
	); err != nil {
		return fmt.Errorf("%w: insert figure: %v", apierr.ErrIO, err)
	}
	for _, name := range spec.Variables {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO figure_variable (fignum, name) VALUES (?, ?)`, spec.FigNum, name,
		); err != nil {
			return fmt.Errorf("%w: insert figure variable: %v", apierr.ErrIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert_figure: %v", apierr.ErrIO, err)
	}
	return nil
}

// ClearFigures removes every registered figure and its variable bindings.
// Called once at session open (spec §9, supplemented "Figure registry
// lifecycle"), before any live-plot task registers its own spec.
func (s *Store) ClearFigures(ctx context.Context) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if !s.version.hasFigureTables() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `DELETE FROM figure_variable`)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM figure`)
	}
	metrics.RecordStoreQuery("clear_figures", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: clear figures: %v", apierr.ErrIO, err)
	}
	return nil
}

// DeleteFigure removes one registered figure and its variable bindings, a
// no-op if fignum is not registered. Called when an external-plotter
// subprocess exits (spec §4.5.2, "on exit, deregister").
func (s *Store) DeleteFigure(ctx context.Context, fignum int) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if !s.version.hasFigureTables() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `DELETE FROM figure_variable WHERE fignum = ?`, fignum)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM figure WHERE fignum = ?`, fignum)
	}
	metrics.RecordStoreQuery("delete_figure", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: delete figure: %v", apierr.ErrIO, err)
	}
	return nil
}

// Figures returns every currently registered FigureSpec, or an empty slice
// on a schema older than v4.1.
func (s *Store) Figures(ctx context.Context) ([]FigureSpec, error) {
	if !s.version.hasFigureTables() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT fignum, maxvalues, yscale, ymin, ymax FROM figure ORDER BY fignum`)
	if err != nil {
		return nil, fmt.Errorf("%w: query figures: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var specs []FigureSpec
	for rows.Next() {
		var spec FigureSpec
		if err := rows.Scan(&spec.FigNum, &spec.MaxValues, &spec.YScale, &spec.YMin, &spec.YMax); err != nil {
			return nil, fmt.Errorf("%w: scan figure row: %v", apierr.ErrIO, err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate figures: %v", apierr.ErrIO, err)
	}

	for i := range specs {
		vars, err := s.figureVariablesLocked(ctx, specs[i].FigNum)
		if err != nil {
			return nil, err
		}
		specs[i].Variables = vars
	}
	return specs, nil
}

func (s *Store) figureVariablesLocked(ctx context.Context, fignum int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM figure_variable WHERE fignum = ? ORDER BY varnum`, fignum)
	if err != nil {
		return nil, fmt.Errorf("%w: query figure variables: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan figure variable: %v", apierr.ErrIO, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

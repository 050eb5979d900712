// Package query answers schedule queries against a published artifact.
//
// An Engine is an explicit handle on one read-only artifact. The artifact is
// immutable for the lifetime of the handle, so filter options are computed
// once and reused.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"dropin/internal/metrics"
	"dropin/internal/model"
	"dropin/internal/storage"
	"dropin/internal/storage/sqlite"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Config tunes an Engine.
type Config struct {
	Logger Logger
	// MaxOpenConns defaults to 4.
	MaxOpenConns int
}

// FilterOptions lists the values a caller can filter on.
type FilterOptions struct {
	Sports    []string `json:"sports"`
	Locations []string `json:"locations"`
	Days      []string `json:"days"`
}

// Engine runs queries over one artifact.
type Engine struct {
	db     *sqlx.DB
	logger Logger

	mu      sync.Mutex
	options *FilterOptions
}

// selectList makes the view's nullable columns scan into plain strings.
const selectList = `course_id, sport,
  IFNULL(location_name, '') AS location_name,
  IFNULL(district, '') AS district,
  IFNULL(address, '') AS address,
  IFNULL(intersection, '') AS intersection,
  IFNULL(accessibility, '') AS accessibility,
  IFNULL(ttc_info, '') AS ttc_info,
  IFNULL(day, '') AS day,
  IFNULL(time, '') AS time,
  IFNULL(start_hour, 0) AS start_hour,
  IFNULL(date, '') AS date,
  IFNULL(age_range, '') AS age_range`

// Open opens path read-only and checks that it is a usable artifact.
//
// Errors wrap storage.ErrArtifactMissing or storage.ErrArtifactInvalid.
func Open(ctx context.Context, path string, cfg Config) (*Engine, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrArtifactMissing, path)
		}
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", storage.ErrArtifactInvalid, path)
	}

	dsn, err := sqlite.FileURI(path, "mode=ro&_pragma=query_only(1)")
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	n := cfg.MaxOpenConns
	if n <= 0 {
		n = 4
	}
	db.SetMaxOpenConns(n)

	if err := validate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	e := &Engine{db: db, logger: cfg.Logger}
	if e.logger == nil {
		e.logger = log.New(discardWriter{}, "", 0)
	}
	return e, nil
}

func validate(ctx context.Context, db *sqlx.DB) error {
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrArtifactInvalid, err)
	}
	if version > storage.FormatVersion {
		return fmt.Errorf("%w: format version %d is newer than supported %d",
			storage.ErrArtifactInvalid, version, storage.FormatVersion)
	}

	want := storage.Artifact.Relations()
	q, args, err := sqlx.In(`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name IN (?)`, want)
	if err != nil {
		return err
	}
	var have []string
	if err := db.SelectContext(ctx, &have, q, args...); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrArtifactInvalid, err)
	}
	found := make(map[string]bool, len(have))
	for _, h := range have {
		found[h] = true
	}
	for _, w := range want {
		if !found[w] {
			return fmt.Errorf("%w: missing %s", storage.ErrArtifactInvalid, w)
		}
	}
	return nil
}

// Close releases the handle.
func (e *Engine) Close() error { return e.db.Close() }

// Ping checks that the artifact is still readable.
func (e *Engine) Ping(ctx context.Context) error { return e.db.PingContext(ctx) }

// Query runs req and returns the matching rows.
func (e *Engine) Query(ctx context.Context, req Request) ([]model.ScheduleRow, error) {
	start := time.Now()
	rows, err := e.query(ctx, req)
	metrics.RecordQuery("schedule", err, time.Since(start))
	return rows, err
}

func (e *Engine) query(ctx context.Context, req Request) ([]model.ScheduleRow, error) {
	pred, err := Build(req)
	if err != nil {
		return nil, err
	}
	order, err := orderBy(req)
	if err != nil {
		return nil, err
	}

	q := "SELECT " + selectList + " FROM " + storage.ViewSchedule + " WHERE " + pred.SQL + " " + order
	out := []model.ScheduleRow{}
	if err := e.db.SelectContext(ctx, &out, e.db.Rebind(q), pred.Args...); err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return out, nil
}

// Search is Query for interactive callers: any failure yields an empty
// result and a diagnostic log line instead of an error.
func (e *Engine) Search(ctx context.Context, req Request) []model.ScheduleRow {
	rows, err := e.Query(ctx, req)
	if err != nil {
		e.logger.Printf("query error: %v", err)
		return []model.ScheduleRow{}
	}
	return rows
}

// Options returns the distinct filter values. The first successful result is
// reused for the lifetime of the Engine.
func (e *Engine) Options(ctx context.Context) (FilterOptions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.options != nil {
		return *e.options, nil
	}

	start := time.Now()
	opts, err := e.loadOptions(ctx)
	metrics.RecordQuery("options", err, time.Since(start))
	if err != nil {
		return FilterOptions{}, err
	}
	e.options = &opts
	return opts, nil
}

func (e *Engine) loadOptions(ctx context.Context) (FilterOptions, error) {
	opts := FilterOptions{
		Sports:    []string{},
		Locations: []string{},
		Days:      append([]string(nil), model.Weekdays...),
	}
	if err := e.db.SelectContext(ctx, &opts.Sports,
		`SELECT DISTINCT sport FROM sports_schedule ORDER BY sport`); err != nil {
		return FilterOptions{}, fmt.Errorf("sport options: %w", err)
	}
	if err := e.db.SelectContext(ctx, &opts.Locations,
		`SELECT DISTINCT location_name FROM sports_schedule
		 WHERE location_name IS NOT NULL AND location_name != ''
		 ORDER BY location_name`); err != nil {
		return FilterOptions{}, fmt.Errorf("location options: %w", err)
	}
	return opts, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }

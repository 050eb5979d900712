// Package loader writes normalized drop-in and location rows through a
// storage.Repository.
package loader

import (
	"context"
	"fmt"
	"log"
	"time"

	"dropin/internal/model"
	"dropin/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

const defaultBatchSize = 1024

// Stats summarizes one Load call.
type Stats struct {
	Facts              int `json:"facts"`
	Locations          int `json:"locations"`
	DuplicateLocations int `json:"duplicate_locations"`
	InvalidLocations   int `json:"invalid_locations"`
}

// Loader inserts facts verbatim and locations first-wins by location id.
//
// Tables must already exist; indexes and views are created afterwards by the
// caller so that bulk inserts do not maintain them row by row.
type Loader struct {
	Repo      storage.Repository
	Logger    Logger
	BatchSize int
}

// Load assigns each fact its 0-based input position as id and inserts every
// fact. Locations with id 0 are skipped; of several locations sharing an id
// only the first is inserted.
func (l *Loader) Load(ctx context.Context, facts []model.Dropin, locations []model.Location) (Stats, error) {
	if l.Repo == nil {
		return Stats{}, fmt.Errorf("loader: Repo is required")
	}
	logf := l.logger()

	var st Stats

	factStart := time.Now()
	n, err := l.insertBatched(ctx, storage.DropinTable, len(facts), func(i int) []any {
		f := facts[i]
		f.ID = int64(i)
		return dropinRow(f)
	})
	if err != nil {
		return st, err
	}
	st.Facts = n
	logf("stage=load_facts ok rows=%d duration=%s", n, durMS(factStart))

	locStart := time.Now()
	unique, dup, invalid := dedupeLocations(locations)
	st.DuplicateLocations = dup
	st.InvalidLocations = invalid

	n, err = l.insertBatched(ctx, storage.LocationsTable, len(unique), func(i int) []any {
		return locationRow(unique[i])
	})
	if err != nil {
		return st, err
	}
	st.Locations = n
	logf("stage=load_locations ok rows=%d duplicates=%d invalid=%d duration=%s",
		n, dup, invalid, durMS(locStart))

	return st, nil
}

func (l *Loader) insertBatched(ctx context.Context, t storage.TableSpec, total int, row func(i int) []any) (int, error) {
	size := l.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	cols := t.ColumnNames()

	inserted := 0
	batch := make([][]any, 0, min(size, total))
	for i := 0; i < total; i++ {
		batch = append(batch, row(i))
		if len(batch) < size && i < total-1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		n, err := l.Repo.InsertRows(ctx, t.Name, cols, batch)
		if err != nil {
			return inserted, fmt.Errorf("load %s: %w", t.Name, err)
		}
		inserted += int(n)
		batch = batch[:0]
	}
	return inserted, nil
}

// dedupeLocations keeps the first location per id and drops id 0, preserving
// input order.
func dedupeLocations(in []model.Location) (out []model.Location, duplicates, invalid int) {
	seen := make(map[int64]struct{}, len(in))
	out = make([]model.Location, 0, len(in))
	for _, loc := range in {
		if loc.LocationID == 0 {
			invalid++
			continue
		}
		if _, ok := seen[loc.LocationID]; ok {
			duplicates++
			continue
		}
		seen[loc.LocationID] = struct{}{}
		out = append(out, loc)
	}
	return out, duplicates, invalid
}

func dropinRow(d model.Dropin) []any {
	return []any{
		d.ID,
		d.LocationID,
		d.CourseID,
		d.CourseTitle,
		d.Section,
		nullableInt(d.AgeMin),
		nullableInt(d.AgeMax),
		d.DateRange,
		d.StartHour,
		d.StartMinute,
		d.EndHour,
		d.EndMinute,
		d.FirstDate,
		d.LastDate,
		d.DayOfWeek,
	}
}

func locationRow(l model.Location) []any {
	return []any{
		l.LocationID,
		l.LocationName,
		l.LocationType,
		l.Accessibility,
		l.Intersection,
		l.TTCInfo,
		l.District,
		l.StreetNo,
		l.StreetName,
		l.StreetType,
		l.StreetDirection,
		l.PostalCode,
	}
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }

// Package build produces the drop-in schedule artifact: fetch both feeds,
// normalize, filter to the horizon, load into a staged SQLite file and publish
// it atomically.
package build

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dropin/internal/feed"
	"dropin/internal/loader"
	"dropin/internal/metrics"
	"dropin/internal/model"
	"dropin/internal/normalize"
	"dropin/internal/storage"
	"dropin/internal/storage/sqlite"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Source yields both raw feeds. *feed.Fetcher implements it.
type Source interface {
	FetchBoth(ctx context.Context, dropinURL, locationsURL string) (feed.Feeds, error)
}

// Config is the build policy.
type Config struct {
	DropinURL    string
	LocationsURL string
	Output       string

	// HorizonDays bounds First Date to [today, today+HorizonDays]; 0 keeps
	// only today. Callers apply the default.
	HorizonDays int
	BatchSize   int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a published artifact.
type Result struct {
	RunID        string
	Path         string
	Bytes        int64
	ScheduleRows int64
	Stats        loader.Stats
	Parsed       int
	Retained     int
	Horizon      normalize.Horizon
	Duration     time.Duration
}

// Pipeline runs one build. Stages run strictly in order after the joint fetch.
type Pipeline struct {
	Source Source
	Logger Logger
	Config Config
}

// Run executes the build. On any error the previously published artifact, if
// any, is left untouched.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	if p.Source == nil {
		return res, fmt.Errorf("build: Source is required")
	}
	if p.Config.Output == "" {
		return res, fmt.Errorf("build: Output is required")
	}

	logf := p.logger()
	now := time.Now
	if p.Config.Now != nil {
		now = p.Config.Now
	}
	days := p.Config.HorizonDays
	if days < 0 {
		return res, fmt.Errorf("build: HorizonDays must be >= 0, got %d", days)
	}

	start := time.Now()
	res.RunID = uuid.NewString()
	logf("build run_id=%s output=%s horizon_days=%d", res.RunID, p.Config.Output, days)

	var feeds feed.Feeds
	if err := p.stage("fetch", func() error {
		var err error
		feeds, err = p.Source.FetchBoth(ctx, p.Config.DropinURL, p.Config.LocationsURL)
		return err
	}); err != nil {
		return res, err
	}
	res.Parsed = len(feeds.Dropin)
	metrics.RecordRecords("parsed_dropin", len(feeds.Dropin))
	metrics.RecordRecords("parsed_locations", len(feeds.Locations))

	var (
		facts      []model.Dropin
		locations  []model.Location
		invalidLoc int
	)
	if err := p.stage("normalize", func() error {
		facts = normalize.Dropins(feeds.Dropin)
		locations, invalidLoc = normalize.Locations(feeds.Locations)
		return nil
	}); err != nil {
		return res, err
	}

	res.Horizon = normalize.NewHorizon(now(), days)
	if err := p.stage("filter", func() error {
		facts = normalize.FilterHorizon(facts, res.Horizon)
		return nil
	}); err != nil {
		return res, err
	}
	res.Retained = len(facts)
	metrics.RecordRecords("retained_dropin", len(facts))
	logf("horizon from=%s to=%s parsed=%d retained=%d", res.Horizon.From, res.Horizon.To, res.Parsed, res.Retained)

	staged, err := sqlite.Stage(p.Config.Output)
	if err != nil {
		return res, fmt.Errorf("stage artifact: %w", err)
	}
	published := false
	defer func() {
		if !published {
			staged.Discard()
		}
	}()

	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: staged.Path})
	if err != nil {
		return res, fmt.Errorf("open artifact: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = repo.Close()
		}
	}()

	if err := p.stage("schema", func() error {
		return repo.EnsureTables(ctx, storage.Artifact.Tables)
	}); err != nil {
		return res, err
	}

	if err := p.stage("load", func() error {
		ld := &loader.Loader{Repo: repo, Logger: p.Logger, BatchSize: p.Config.BatchSize}
		st, err := ld.Load(ctx, facts, locations)
		st.InvalidLocations += invalidLoc
		res.Stats = st
		return err
	}); err != nil {
		return res, err
	}
	metrics.RecordRecords("inserted_dropin", res.Stats.Facts)
	metrics.RecordRecords("inserted_locations", res.Stats.Locations)

	if err := p.stage("index", func() error {
		return repo.CreateIndexes(ctx, storage.Artifact.Indexes)
	}); err != nil {
		return res, err
	}
	if err := p.stage("view", func() error {
		return repo.CreateViews(ctx, storage.Artifact.Views)
	}); err != nil {
		return res, err
	}
	if err := p.stage("version", func() error {
		return repo.SetFormatVersion(ctx, storage.FormatVersion)
	}); err != nil {
		return res, err
	}

	if err := p.stage("verify", func() error {
		n, err := repo.Count(ctx, storage.ViewSchedule)
		if err != nil {
			return err
		}
		if n != int64(res.Stats.Facts) {
			return fmt.Errorf("%s has %d rows, want %d", storage.ViewSchedule, n, res.Stats.Facts)
		}
		res.ScheduleRows = n
		return nil
	}); err != nil {
		return res, err
	}

	if err := p.stage("export", func() error {
		if v, ok := repo.(interface{ Vacuum(context.Context) error }); ok {
			if err := v.Vacuum(ctx); err != nil {
				return err
			}
		}
		closed = true
		if err := repo.Close(); err != nil {
			return err
		}
		n, err := staged.Publish()
		if err != nil {
			return err
		}
		published = true
		res.Bytes = n
		return nil
	}); err != nil {
		return res, err
	}

	res.Path = p.Config.Output
	res.Duration = time.Since(start)
	logf("build ok run_id=%s schedule_rows=%d bytes=%d (%.1f KB) duration=%s",
		res.RunID, res.ScheduleRows, res.Bytes, float64(res.Bytes)/1024, durMS(start))
	return res, nil
}

// stage times fn, logs the outcome and records step metrics.
func (p *Pipeline) stage(name string, fn func() error) error {
	logf := p.logger()
	start := time.Now()
	err := fn()
	d := time.Since(start)
	metrics.RecordStep(name, err, d)
	if err != nil {
		logf("stage=%s error duration=%s err=%v", name, durMS(start), err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logf("stage=%s ok duration=%s", name, durMS(start))
	return nil
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return p.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }

// Command schedule runs one query against a schedule artifact and prints the
// matching rows as JSON lines.
//
//	schedule -sport Badminton -sport Pickleball -time evening -q "community centre"
//	schedule -options
//
// Exit codes: 0 success, 1 runtime failure, 2 usage, configuration or
// malformed query.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dropin/internal/config"
	"dropin/internal/query"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*s = append(*s, v)
	}
	return nil
}

type appDeps struct {
	loadConfig func(config.Options) (config.Config, error)
	now        func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{loadConfig: config.Load, now: time.Now})
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		sports, days, locations stringList

		cfgPath = fs.String("config", "", "optional config file (yaml, json or toml)")
		envFile = fs.String("env-file", ".env", "dotenv file loaded when present")
		dbPath  = fs.String("db", "", "artifact path (default "+config.DefaultArtifactPath+")")
		start   = fs.String("start", "", "first date YYYY-MM-DD (default today, UTC)")
		end     = fs.String("end", "", "last date YYYY-MM-DD (default start + 7 days)")
		tod     = fs.String("time", "", "time of day: morning, afternoon or evening")
		search  = fs.String("q", "", "substring matched against sport, location and address")
		sortKey = fs.String("sort", "", "sort column (sport, location_name, day, start_hour, date, district, age_range)")
		desc    = fs.Bool("desc", false, "sort descending")
		options = fs.Bool("options", false, "print the available filter values instead of rows")
	)
	fs.Var(&sports, "sport", "sport to include (repeatable)")
	fs.Var(&days, "day", "weekday to include (repeatable)")
	fs.Var(&locations, "location", "location name to include (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: schedule [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	overrides := map[string]any{}
	if *dbPath != "" {
		overrides[config.KeyDB] = *dbPath
	}
	cfg, err := deps.loadConfig(config.Options{File: *cfgPath, EnvFile: *envFile, Overrides: overrides})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	issues := config.ValidateQuery(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return 2
	}

	e, err := query.Open(ctx, cfg.DB, query.Config{MaxOpenConns: 1})
	if err != nil {
		fmt.Fprintf(stderr, "open artifact: %v\n", err)
		return 1
	}
	defer e.Close()

	enc := json.NewEncoder(stdout)
	if *options {
		opts, err := e.Options(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "options: %v\n", err)
			return 1
		}
		if err := enc.Encode(opts); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
		return 0
	}

	req := query.Request{
		StartDate: *start,
		EndDate:   *end,
		Sports:    sports,
		Days:      days,
		Locations: locations,
		TimeOfDay: query.Bucket(strings.ToLower(*tod)),
		Search:    *search,
		Sort:      query.SortKey(*sortKey),
		Desc:      *desc,
	}
	fillWindow(&req, deps.now())

	rows, err := e.Query(ctx, req)
	switch {
	case errors.Is(err, query.ErrMalformedRequest):
		fmt.Fprintf(stderr, "query: %v\n", err)
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "query: %v\n", err)
		return 1
	}
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
	}
	return 0
}

// fillWindow defaults a missing start to today and a missing end to
// start+MaxWindowDays. An unparseable start is left for the engine to reject.
func fillWindow(req *query.Request, now time.Time) {
	if req.StartDate == "" {
		req.StartDate, _ = query.DefaultWindow(now)
	}
	if req.EndDate == "" {
		if s, err := time.Parse(query.DateLayout, req.StartDate); err == nil {
			req.EndDate = s.AddDate(0, 0, query.MaxWindowDays).Format(query.DateLayout)
		}
	}
}

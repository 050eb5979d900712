// Command probe samples the City feeds and reports header drift against the
// columns the build reads.
//
// It reads a bounded prefix of each feed (default 64KB) and prints one JSON
// report per feed, or a text fill-rate report with -report.
//
//	probe -feed all -report
//	probe -feed locations -url https://example.test/locations.csv
//
// Exit codes: 0 no drift, 1 drift or fetch failure, 2 usage or configuration
// error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dropin/internal/config"
	"dropin/internal/probe"
)

type appDeps struct {
	loadConfig func(config.Options) (config.Config, error)
	probe      func(ctx context.Context, opt probe.Options) (probe.Report, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{loadConfig: config.Load, probe: probe.Probe})
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath  = fs.String("config", "", "optional config file (yaml, json or toml)")
		envFile  = fs.String("env-file", ".env", "dotenv file loaded when present")
		feedName = fs.String("feed", "all", "feed to sample: dropin, locations or all")
		rawURL   = fs.String("url", "", "override the feed URL (single feed only)")
		maxBytes = fs.Int("bytes", probe.DefaultMaxBytes, "number of bytes to sample from the start of each feed")
		report   = fs.Bool("report", false, "print a text report instead of JSON")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: probe [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}
	if *maxBytes <= 0 {
		fmt.Fprintln(stderr, "-bytes must be positive")
		return 2
	}

	var kinds []probe.Kind
	switch strings.ToLower(strings.TrimSpace(*feedName)) {
	case "all":
		kinds = []probe.Kind{probe.KindDropin, probe.KindLocations}
	case string(probe.KindDropin):
		kinds = []probe.Kind{probe.KindDropin}
	case string(probe.KindLocations):
		kinds = []probe.Kind{probe.KindLocations}
	default:
		fmt.Fprintf(stderr, "unknown -feed %q (want dropin|locations|all)\n", *feedName)
		return 2
	}
	if *rawURL != "" && len(kinds) > 1 {
		fmt.Fprintln(stderr, "-url needs -feed dropin or -feed locations")
		return 2
	}

	cfg, err := deps.loadConfig(config.Options{File: *cfgPath, EnvFile: *envFile})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	code := 0
	for _, k := range kinds {
		u := *rawURL
		if u == "" {
			u = cfg.DropinURL
			if k == probe.KindLocations {
				u = cfg.LocationsURL
			}
		}

		rep, err := deps.probe(ctx, probe.Options{
			URL:      u,
			Kind:     k,
			MaxBytes: *maxBytes,
			Encoding: cfg.FeedEncoding,
			Client:   client,
		})
		if err != nil {
			fmt.Fprintf(stderr, "probe %s: %v\n", k, err)
			code = 1
			continue
		}
		if !rep.OK() {
			fmt.Fprintf(stderr, "probe %s: missing headers: %s\n", k, strings.Join(rep.Missing, ", "))
			code = 1
		}

		if *report {
			fmt.Fprintln(stdout, probe.FormatReport(rep))
			continue
		}
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
	}
	return code
}

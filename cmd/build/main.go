// Command build downloads the drop-in and locations feeds and publishes the
// SQLite schedule artifact.
//
// Exit codes: 0 success, 1 runtime failure, 2 usage or configuration error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dropin/internal/build"
	"dropin/internal/config"
	"dropin/internal/feed"
	"dropin/internal/logging"
	"dropin/internal/metrics"
	"dropin/internal/metrics/datadog"
	"dropin/internal/metrics/prompush"
)

const jobName = "dropin_build"

// runner is the part of *build.Pipeline the CLI drives.
type runner interface {
	Run(ctx context.Context) (build.Result, error)
}

// appDeps are the seams runMain needs; tests replace them.
type appDeps struct {
	loadConfig  func(config.Options) (config.Config, error)
	newLogger   func(appEnv string) (*zap.Logger, error)
	initMetrics func(ctx context.Context, cfg config.Config) (func(), error)
	newRunner   func(cfg config.Config, logger *log.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		initMetrics: func(ctx context.Context, cfg config.Config) (func(), error) {
			return initMetrics(ctx, cfg.MetricsBackend, cfg.PushgatewayURL, cfg.MetricsTags)
		},
		newRunner: newPipeline,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "optional config file (yaml, json or toml)")
		envFile        = fs.String("env-file", ".env", "dotenv file loaded when present")
		output         = fs.String("output", "", "artifact path (default "+config.DefaultArtifactPath+")")
		horizonDays    = fs.Int("horizon-days", 0, "keep sessions starting within this many days")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway, datadog or none")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: build [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			overrides[config.KeyOutput] = *output
		case "horizon-days":
			overrides[config.KeyHorizonDays] = *horizonDays
		case "metrics-backend":
			overrides[config.KeyMetricsBackend] = *metricsBackend
		case "pushgateway-url":
			overrides[config.KeyPushgatewayURL] = *pushgatewayURL
		}
	})

	cfg, err := deps.loadConfig(config.Options{File: *cfgPath, EnvFile: *envFile, Overrides: overrides})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}

	issues := config.ValidateBuild(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return 2
	}
	if *validate {
		fmt.Fprintln(stdout, "config ok")
		return 0
	}

	zl, err := deps.newLogger(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = zl.Sync() }()

	cleanup, err := deps.initMetrics(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	res, err := deps.newRunner(cfg, logging.Std(zl, "build")).Run(ctx)
	if err != nil {
		zl.Error("build failed", zap.Error(err))
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	zl.Info("artifact published",
		zap.String("run_id", res.RunID),
		zap.String("path", res.Path),
		zap.Int64("bytes", res.Bytes),
		zap.Int64("schedule_rows", res.ScheduleRows),
		zap.Int("parsed", res.Parsed),
		zap.Int("retained", res.Retained),
		zap.Duration("duration", res.Duration),
	)
	enc := json.NewEncoder(stdout)
	if err := enc.Encode(summary(res)); err != nil {
		fmt.Fprintf(stderr, "write summary: %v\n", err)
		return 1
	}
	return 0
}

type buildSummary struct {
	RunID        string `json:"run_id"`
	Path         string `json:"path"`
	Bytes        int64  `json:"bytes"`
	ScheduleRows int64  `json:"schedule_rows"`
	Parsed       int    `json:"parsed"`
	Retained     int    `json:"retained"`
	From         string `json:"from"`
	To           string `json:"to"`
	DurationMS   int64  `json:"duration_ms"`
}

func summary(res build.Result) buildSummary {
	return buildSummary{
		RunID:        res.RunID,
		Path:         res.Path,
		Bytes:        res.Bytes,
		ScheduleRows: res.ScheduleRows,
		Parsed:       res.Parsed,
		Retained:     res.Retained,
		From:         res.Horizon.From,
		To:           res.Horizon.To,
		DurationMS:   res.Duration.Milliseconds(),
	}
}

func newPipeline(cfg config.Config, logger *log.Logger) runner {
	f := feed.NewFetcher(&http.Client{}, cfg.HTTPTimeout, cfg.FeedEncoding)
	f.Logger = logger
	return &build.Pipeline{
		Source: f,
		Logger: logger,
		Config: build.Config{
			DropinURL:    cfg.DropinURL,
			LocationsURL: cfg.LocationsURL,
			Output:       cfg.Output,
			HorizonDays:  cfg.HorizonDays,
			BatchSize:    cfg.BatchSize,
		},
	}
}

// metricsBackend is what initMetrics needs to shut a backend down.
type metricsBackend interface {
	Close() error
}

// pushOnClose pushes the registry to the gateway once, when the job ends.
type pushOnClose struct{ *prompush.Backend }

func (p pushOnClose) Close() error { return p.Flush() }

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPromBackend = func(job, gatewayURL string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			return nil, err
		}
		return pushOnClose{b}, nil
	}
	setMetricsBackend = func(b any) {
		if b == nil {
			metrics.SetBackend(nil)
			return
		}
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics selects and installs a metrics backend. The returned cleanup is
// never nil and flushes the backend. A backend that fails to initialize is
// logged and replaced by the nop backend; an unknown name is an error.
func initMetrics(ctx context.Context, backendName, gatewayURL, tagsCSV string) (func(), error) {
	noop := func() {}

	var (
		b    metricsBackend
		err  error
		kind string
	)
	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil
	case "pushgateway", "prom", "prometheus":
		kind = "pushgateway"
		b, err = newPromBackend(jobName, gatewayURL)
	case "datadog", "dd":
		kind = "datadog"
		b, err = newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(tagsCSV),
			FlushEvery: 60 * time.Second,
		})
	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|pushgateway|datadog)", backendName)
	}
	if err != nil {
		logPrintf("metrics: failed to init %s backend: %v; using nop", kind, err)
		return noop, nil
	}

	setMetricsBackend(b)
	return func() {
		if err := b.Close(); err != nil {
			logPrintf("metrics: %s close error: %v", kind, err)
		}
		setMetricsBackend(nil)
	}, nil
}

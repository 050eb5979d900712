// Command serve exposes a published schedule artifact over HTTP.
//
// Exit codes: 0 clean shutdown, 1 runtime failure, 2 usage or configuration error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dropin/internal/api"
	"dropin/internal/config"
	"dropin/internal/logging"
	"dropin/internal/metrics"
	"dropin/internal/metrics/datadog"
	"dropin/internal/metrics/prompush"
	"dropin/internal/query"
)

const (
	jobName         = "dropin_serve"
	shutdownTimeout = 10 * time.Second
)

type appDeps struct {
	loadConfig func(config.Options) (config.Config, error)
	newLogger  func(appEnv string) (*zap.Logger, error)
	openEngine func(ctx context.Context, path string, logger *zap.Logger) (api.Engine, func() error, error)
	// serve blocks until ctx is done or the server fails.
	serve func(ctx context.Context, addr string, h http.Handler) error
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		openEngine: func(ctx context.Context, path string, logger *zap.Logger) (api.Engine, func() error, error) {
			e, err := query.Open(ctx, path, query.Config{Logger: logging.Std(logger, "query")})
			if err != nil {
				return nil, nil, err
			}
			return e, e.Close, nil
		},
		serve: listenAndServe,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "optional config file (yaml, json or toml)")
		envFile        = fs.String("env-file", ".env", "dotenv file loaded when present")
		dbPath         = fs.String("db", "", "artifact path (default "+config.DefaultArtifactPath+")")
		listen         = fs.String("listen", "", "listen address (default :8080)")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: prometheus, datadog or none")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: serve [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			overrides[config.KeyDB] = *dbPath
		case "listen":
			overrides[config.KeyListen] = *listen
		case "metrics-backend":
			overrides[config.KeyMetricsBackend] = *metricsBackend
		}
	})

	cfg, err := deps.loadConfig(config.Options{File: *cfgPath, EnvFile: *envFile, Overrides: overrides})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	issues := config.ValidateServe(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return 2
	}

	zl, err := deps.newLogger(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = zl.Sync() }()
	sugar := zl.Sugar()

	metricsHandler, cleanup, err := initMetrics(ctx, cfg, sugar)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 2
	}
	defer cleanup()

	engine, closeEngine, err := deps.openEngine(ctx, cfg.DB, zl)
	if err != nil {
		fmt.Fprintf(stderr, "open artifact: %v\n", err)
		return 1
	}
	defer func() { _ = closeEngine() }()

	h := api.NewRouter(engine, api.Config{
		Logger:      sugar,
		CacheTTL:    cfg.CacheTTL,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metricsHandler,
	})

	sugar.Infow("serving", "addr", cfg.Listen, "db", cfg.DB)
	if err := deps.serve(ctx, cfg.Listen, h); err != nil {
		sugar.Errorw("server failed", "error", err)
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	sugar.Infow("shutdown complete")
	return 0
}

// initMetrics installs the server's metrics backend. Prometheus is exposed
// at /metrics rather than pushed; the returned handler is nil otherwise.
func initMetrics(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (http.Handler, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.MetricsBackend)) {
	case "", "none", "noop":
		return nil, noop, nil
	case "prometheus", "prom", "pushgateway":
		b, err := prompush.NewBackend(jobName, "")
		if err != nil {
			return nil, noop, err
		}
		metrics.SetBackend(b)
		return b.Handler(), func() { metrics.SetBackend(nil) }, nil
	case "datadog", "dd":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			logger.Warnw("metrics: datadog init failed; using nop", "error", err)
			return nil, noop, nil
		}
		metrics.SetBackend(b)
		return nil, func() {
			if err := b.Close(); err != nil {
				logger.Warnw("metrics: datadog close error", "error", err)
			}
			metrics.SetBackend(nil)
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown metrics backend %q (want none|prometheus|datadog)", cfg.MetricsBackend)
	}
}

func listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

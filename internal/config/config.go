// Package config resolves the settings shared by the dropin commands.
//
// Precedence, lowest first: built-in defaults, an optional config file
// (YAML/JSON/TOML by extension), a .env file, DROPIN_* environment variables,
// and finally explicit command-line flags passed as Overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"dropin/internal/feed"
	"dropin/internal/normalize"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DROPIN"

// Keys. Each maps to DROPIN_<UPPER(key)> in the environment.
const (
	KeyAppEnv         = "app_env"
	KeyDropinURL      = "dropin_url"
	KeyLocationsURL   = "locations_url"
	KeyOutput         = "output"
	KeyHorizonDays    = "horizon_days"
	KeyBatchSize      = "batch_size"
	KeyHTTPTimeout    = "http_timeout"
	KeyFeedEncoding   = "feed_encoding"
	KeyMetricsBackend = "metrics_backend"
	KeyPushgatewayURL = "pushgateway_url"
	KeyMetricsTags    = "metrics_tags"
	KeyListen         = "listen"
	KeyDB             = "db"
	KeyCacheTTL       = "cache_ttl"
	KeyRateLimit      = "rate_limit"
	KeyRateBurst      = "rate_burst"
	KeyCORSOrigins    = "cors_origins"
)

// DefaultArtifactPath is where the build publishes and readers look.
const DefaultArtifactPath = "public/sports.db"

// Config is the resolved settings for all commands.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	DropinURL    string        `mapstructure:"dropin_url"`
	LocationsURL string        `mapstructure:"locations_url"`
	Output       string        `mapstructure:"output"`
	HorizonDays  int           `mapstructure:"horizon_days"`
	BatchSize    int           `mapstructure:"batch_size"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	FeedEncoding string        `mapstructure:"feed_encoding"`

	MetricsBackend string `mapstructure:"metrics_backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	MetricsTags    string `mapstructure:"metrics_tags"`

	Listen      string        `mapstructure:"listen"`
	DB          string        `mapstructure:"db"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// Options controls where Load looks.
type Options struct {
	// File is an optional config file. Empty means none.
	File string
	// EnvFile is loaded into the process environment when it exists.
	// Variables already set in the environment win.
	EnvFile string
	// Overrides are applied last, keyed by the Key* constants.
	Overrides map[string]any
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAppEnv, "development")
	v.SetDefault(KeyDropinURL, feed.DefaultDropinURL)
	v.SetDefault(KeyLocationsURL, feed.DefaultLocationsURL)
	v.SetDefault(KeyOutput, DefaultArtifactPath)
	v.SetDefault(KeyHorizonDays, normalize.DefaultHorizonDays)
	v.SetDefault(KeyBatchSize, 1024)
	v.SetDefault(KeyHTTPTimeout, 60*time.Second)
	v.SetDefault(KeyFeedEncoding, "utf-8")
	v.SetDefault(KeyMetricsBackend, "none")
	v.SetDefault(KeyPushgatewayURL, "http://localhost:9091")
	v.SetDefault(KeyMetricsTags, "")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyDB, DefaultArtifactPath)
	v.SetDefault(KeyCacheTTL, 5*time.Minute)
	v.SetDefault(KeyRateLimit, 10.0)
	v.SetDefault(KeyRateBurst, 20)
	v.SetDefault(KeyCORSOrigins, []string{"*"})
}

// Load resolves a Config.
func Load(opts Options) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	return cfg, nil
}

// splitList flattens comma-separated entries; env values arrive as one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

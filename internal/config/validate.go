package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"dropin/internal/parser/csv"
)

// Severity classifies an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateBuild checks the settings used by the build command.
func ValidateBuild(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	for key, raw := range map[string]string{KeyDropinURL: c.DropinURL, KeyLocationsURL: c.LocationsURL} {
		if msg := checkHTTPURL(raw); msg != "" {
			add(SeverityError, key, "%s", msg)
		}
	}
	if strings.TrimSpace(c.Output) == "" {
		add(SeverityError, KeyOutput, "must not be empty")
	}
	switch {
	case c.HorizonDays < 0:
		add(SeverityError, KeyHorizonDays, "must be >= 0, got %d", c.HorizonDays)
	case c.HorizonDays == 0:
		add(SeverityWarning, KeyHorizonDays, "0 keeps only sessions starting today")
	}
	if c.BatchSize < 0 {
		add(SeverityError, KeyBatchSize, "must be >= 0, got %d", c.BatchSize)
	}
	if c.HTTPTimeout <= 0 {
		add(SeverityError, KeyHTTPTimeout, "must be > 0, got %s", c.HTTPTimeout)
	}
	switch strings.ToLower(c.FeedEncoding) {
	case "", csv.EncodingUTF8, "utf8", csv.EncodingWindows1252, "cp1252":
	default:
		add(SeverityError, KeyFeedEncoding, "unsupported encoding %q", c.FeedEncoding)
	}

	switch strings.ToLower(c.MetricsBackend) {
	case "", "none", "noop", "datadog", "dd":
	case "pushgateway", "prom", "prometheus":
		if msg := checkHTTPURL(c.PushgatewayURL); msg != "" {
			add(SeverityWarning, KeyPushgatewayURL, "%s; metrics will not be pushed", msg)
		}
	default:
		add(SeverityError, KeyMetricsBackend, "unknown backend %q (want none|pushgateway|datadog)", c.MetricsBackend)
	}
	return sortIssues(out)
}

// ValidateQuery checks the settings used to open an artifact for reading.
func ValidateQuery(c Config) []Issue {
	if strings.TrimSpace(c.DB) == "" {
		return []Issue{{Severity: SeverityError, Path: KeyDB, Message: "must not be empty"}}
	}
	return nil
}

// ValidateServe checks the settings used by the HTTP server.
func ValidateServe(c Config) []Issue {
	out := ValidateQuery(c)
	if strings.TrimSpace(c.Listen) == "" {
		out = append(out, Issue{Severity: SeverityError, Path: KeyListen, Message: "must not be empty"})
	}
	if c.CacheTTL < 0 {
		out = append(out, Issue{Severity: SeverityError, Path: KeyCacheTTL, Message: fmt.Sprintf("must be >= 0, got %s", c.CacheTTL)})
	}
	if c.RateLimit < 0 {
		out = append(out, Issue{Severity: SeverityError, Path: KeyRateLimit, Message: fmt.Sprintf("must be >= 0, got %g", c.RateLimit)})
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		out = append(out, Issue{Severity: SeverityError, Path: KeyRateBurst, Message: fmt.Sprintf("must be >= 1 when rate_limit is set, got %d", c.RateBurst)})
	}
	if len(c.CORSOrigins) == 0 {
		out = append(out, Issue{Severity: SeverityWarning, Path: KeyCORSOrigins, Message: "empty; cross-origin requests will be refused"})
	}
	return sortIssues(out)
}

func checkHTTPURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "must not be empty"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "missing host"
	}
	return ""
}

// sortIssues orders by path so output is stable across map iteration.
func sortIssues(in []Issue) []Issue {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Path < in[j].Path })
	return in
}

// Package metrics is a small backend-agnostic metrics facade.
//
// Library code records through the package-level helpers; commands choose a
// concrete backend (Datadog, Prometheus) with SetBackend. Until then every
// call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions. Each metric name is always recorded with the
// same label keys.
type Labels map[string]string

// Backend receives raw observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	StepTotal    = "dropin_step_total"
	StepDuration = "dropin_step_duration_seconds"
	RecordsTotal = "dropin_records_total"

	HTTPRequestsTotal    = "dropin_http_requests_total"
	HTTPErrorsTotal      = "dropin_http_errors_total"
	HTTPRequestDuration  = "dropin_http_request_duration_seconds"
	HTTPResponseDuration = "dropin_http_response_duration_seconds"
	HTTPDownloadBytes    = "dropin_http_download_bytes"

	QueriesTotal     = "dropin_queries_total"
	QueryErrorsTotal = "dropin_query_errors_total"
	QueryDuration    = "dropin_query_duration_seconds"

	APIRequestsTotal   = "dropin_api_requests_total"
	APIRequestDuration = "dropin_api_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep records one pipeline stage outcome and its duration.
func RecordStep(step string, err error, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status(err)}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords counts rows by kind (parsed, retained, inserted, ...).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordHTTP records one outbound HTTP attempt. status 0 means the request
// never produced a response.
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, bytes int64) {
	b := current()
	l := Labels{"job": job, "status": strconv.Itoa(statusCode)}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode < 200 || statusCode > 299 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDuration, reqDur.Seconds(), l)
	if respDur > 0 {
		b.ObserveHistogram(HTTPResponseDuration, respDur.Seconds(), l)
	}
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

// RecordQuery records one read-path query (kind is "schedule" or "options").
func RecordQuery(kind string, err error, d time.Duration) {
	b := current()
	l := Labels{"kind": kind, "status": status(err)}
	b.IncCounter(QueriesTotal, 1, l)
	if err != nil {
		b.IncCounter(QueryErrorsTotal, 1, Labels{"kind": kind})
	}
	b.ObserveHistogram(QueryDuration, d.Seconds(), l)
}

// RecordRequest records one inbound API request.
func RecordRequest(route string, statusCode int, d time.Duration) {
	b := current()
	l := Labels{"route": route, "status": strconv.Itoa(statusCode)}
	b.IncCounter(APIRequestsTotal, 1, l)
	b.ObserveHistogram(APIRequestDuration, d.Seconds(), Labels{"route": route})
}

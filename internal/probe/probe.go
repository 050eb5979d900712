// Package probe samples a City feed and reports how its shape compares with
// the headers the normalizer reads.
//
// A renamed column does not fail the build: the normalizer reads "" and every
// row gets a zero or an absent value. The probe catches that drift from a
// bounded prefix of the feed, without a full build.
//
// Sampling is best-effort: a truncated last line is dropped, and malformed
// rows degrade to empty values exactly as they do in the build.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"dropin/internal/metrics"
	"dropin/internal/normalize"
	"dropin/internal/parser/csv"
)

// Kind names a feed.
type Kind string

const (
	KindDropin    Kind = "dropin"
	KindLocations Kind = "locations"
)

// DefaultMaxBytes is the default sample size.
const DefaultMaxBytes = 64 << 10

const distinctCapPerColumn = 10000

// Expected returns the headers the normalizer reads for kind.
func Expected(kind Kind) ([]string, error) {
	switch kind {
	case KindDropin:
		return normalize.DropinHeaders, nil
	case KindLocations:
		return normalize.LocationHeaders, nil
	default:
		return nil, fmt.Errorf("probe: unknown feed kind %q (want dropin|locations)", kind)
	}
}

// Options control one probe run.
type Options struct {
	URL      string
	Kind     Kind
	MaxBytes int
	Encoding string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// ColumnStats summarizes one column over the sampled rows.
type ColumnStats struct {
	Name string `json:"name"`
	// Present counts rows with a non-blank value other than the sentinel.
	Present int `json:"present"`
	// Sentinel counts rows holding the feed's "None" token.
	Sentinel int  `json:"sentinel"`
	Distinct int  `json:"distinct"`
	Capped   bool `json:"capped,omitempty"`
}

// Report is the outcome of one probe.
type Report struct {
	URL          string        `json:"url"`
	Kind         Kind          `json:"kind"`
	SampledBytes int           `json:"sampled_bytes"`
	Truncated    bool          `json:"truncated"`
	Rows         int           `json:"rows"`
	Headers      []string      `json:"headers"`
	Missing      []string      `json:"missing"`
	Extra        []string      `json:"extra"`
	Columns      []ColumnStats `json:"columns"`
}

// OK reports whether every expected header is present.
func (r Report) OK() bool { return len(r.Missing) == 0 }

// Probe samples opt.URL and builds a Report. Only fetch and decode failures
// are errors; header drift is reported, not returned.
func Probe(ctx context.Context, opt Options) (Report, error) {
	expected, err := Expected(opt.Kind)
	if err != nil {
		return Report{}, err
	}
	n := opt.MaxBytes
	if n <= 0 {
		n = DefaultMaxBytes
	}
	client := opt.Client
	if client == nil {
		client = http.DefaultClient
	}

	sample, truncated, err := peekHTTP(ctx, client, opt.URL, n)
	if err != nil {
		return Report{}, err
	}
	if truncated {
		sample = cutToLastNewline(sample)
	}

	text, err := csv.Decode(bytes.NewReader(sample), opt.Encoding)
	if err != nil {
		return Report{}, err
	}
	headers, recs := csv.ParseTable(text)

	rep := Report{
		URL:          opt.URL,
		Kind:         opt.Kind,
		SampledBytes: len(sample),
		Truncated:    truncated,
		Rows:         len(recs),
		Headers:      nonNil(headers),
	}
	rep.Missing, rep.Extra = diff(expected, headers)
	rep.Columns = columnStats(headers, recs)
	return rep, nil
}

// peekHTTP asks for the first n bytes with a Range request and reads at most
// n bytes whether or not the server honours it.
func peekHTTP(ctx context.Context, client *http.Client, url string, n int) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))
	req.Header.Set("User-Agent", "dropin-probe/1.0")

	start := time.Now()
	resp, err := client.Do(req)
	reqDur := time.Since(start)
	if err != nil {
		metrics.RecordHTTP("probe", 0, err, reqDur, 0, 0)
		return nil, false, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.RecordHTTP("probe", resp.StatusCode, nil, reqDur, time.Since(start)-reqDur, int64(len(body)))
		return nil, false, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// One byte past the limit tells a full body from a cut one.
	buf, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)+1))
	metrics.RecordHTTP("probe", resp.StatusCode, err, reqDur, time.Since(start)-reqDur, int64(len(buf)))
	if err != nil {
		return nil, false, fmt.Errorf("read sample: %w", err)
	}
	truncated := len(buf) > n || resp.StatusCode == http.StatusPartialContent && len(buf) == n
	if len(buf) > n {
		buf = buf[:n]
	}
	return buf, truncated, nil
}

func cutToLastNewline(b []byte) []byte {
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[:i+1]
	}
	return b
}

// diff returns expected headers absent from got, and got headers nobody reads.
func diff(expected, got []string) (missing, extra []string) {
	have := make(map[string]bool, len(got))
	for _, h := range got {
		have[h] = true
	}
	want := make(map[string]bool, len(expected))
	missing = []string{}
	for _, h := range expected {
		want[h] = true
		if !have[h] {
			missing = append(missing, h)
		}
	}
	extra = []string{}
	for _, h := range got {
		if !want[h] {
			extra = append(extra, h)
		}
	}
	return missing, extra
}

func columnStats(headers []string, recs []csv.Record) []ColumnStats {
	out := make([]ColumnStats, len(headers))
	for i, h := range headers {
		st := ColumnStats{Name: h}
		seen := make(map[string]struct{})
		for _, r := range recs {
			v := r.Get(h)
			switch {
			case v == normalize.Sentinel:
				st.Sentinel++
				continue
			case strings.TrimSpace(v) == "":
				continue
			}
			st.Present++
			if st.Capped {
				continue
			}
			seen[v] = struct{}{}
			if len(seen) >= distinctCapPerColumn {
				st.Capped = true
				seen = nil
			}
		}
		if st.Capped {
			st.Distinct = distinctCapPerColumn
		} else {
			st.Distinct = len(seen)
		}
		out[i] = st
	}
	return out
}

// FormatReport renders r as a tab-separated text report. Columns are ordered
// by fill rate, emptiest first, since empty columns are the usual symptom of
// drift.
func FormatReport(r Report) string {
	var b strings.Builder
	status := "ok"
	if !r.OK() {
		status = "DRIFT"
	}
	fmt.Fprintf(&b, "probe %s:\tkind=%s\tstatus=%s\tsampled_rows=%d\tbytes=%d\ttruncated=%t\n",
		r.URL, r.Kind, status, r.Rows, r.SampledBytes, r.Truncated)
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "missing:\t%s\n", strings.Join(r.Missing, ", "))
	}
	if len(r.Extra) > 0 {
		fmt.Fprintf(&b, "extra:\t%s\n", strings.Join(r.Extra, ", "))
	}
	if r.Rows == 0 {
		b.WriteString("no rows sampled")
		return b.String()
	}

	cols := append([]ColumnStats(nil), r.Columns...)
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Present == cols[j].Present {
			return cols[i].Name < cols[j].Name
		}
		return cols[i].Present < cols[j].Present
	})

	fmt.Fprintf(&b, "%-18s\t%-7s\t%-8s\t%-8s\tfill\n", "col", "present", "sentinel", "distinct")
	for _, c := range cols {
		fmt.Fprintf(&b, "%-18s\t%-7d\t%-8d\t%-8d\t%.1f%%\n",
			c.Name, c.Present, c.Sentinel, c.Distinct, 100*float64(c.Present)/float64(r.Rows))
	}
	return strings.TrimRight(b.String(), "\n")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package feed downloads the City of Toronto drop-in CSV feeds.
package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dropin/internal/metrics"
	"dropin/internal/parser/csv"
)

// Default feed locations (City of Toronto open data, "Drop-in Programs").
const (
	DefaultDropinURL    = "https://ckan0.cf.opendata.inter.prod-toronto.ca/dataset/1a5be46a-4039-48cd-a2d2-8e702abf9516/resource/90f7fffe-658b-4a79-bce3-a91c1b5886de/download/drop-in.csv"
	DefaultLocationsURL = "https://ckan0.cf.opendata.inter.prod-toronto.ca/dataset/1a5be46a-4039-48cd-a2d2-8e702abf9516/resource/f4db24c4-1270-40e3-9c2d-44d7daf4f872/download/locations.csv"
)

const userAgent = "dropin-build/1.0"

// Logger is the minimal logging interface used by the fetcher.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Fetcher GETs a feed and parses it into records.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	encoding string

	// Job labels HTTP metrics.
	Job    string
	Logger Logger
}

// NewFetcher creates a Fetcher. If client is nil, http.DefaultClient is used.
// A non-positive timeout means no per-feed timeout beyond ctx.
func NewFetcher(client *http.Client, timeout time.Duration, encoding string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, timeout: timeout, encoding: encoding, Job: "build"}
}

// Feeds holds both parsed feeds.
type Feeds struct {
	Dropin    []csv.Record
	Locations []csv.Record
}

// FetchBoth downloads both feeds concurrently. If either fails the other is
// cancelled and the first error is returned.
func (f *Fetcher) FetchBoth(ctx context.Context, dropinURL, locationsURL string) (Feeds, error) {
	var out Feeds

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := f.Fetch(gctx, dropinURL)
		if err != nil {
			return fmt.Errorf("fetch drop-in feed: %w", err)
		}
		out.Dropin = recs
		return nil
	})
	g.Go(func() error {
		recs, err := f.Fetch(gctx, locationsURL)
		if err != nil {
			return fmt.Errorf("fetch locations feed: %w", err)
		}
		out.Locations = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Feeds{}, err
	}
	return out, nil
}

// Fetch downloads url and parses the body.
//
// On non-2xx HTTP responses, Fetch returns an error that includes the status
// code and up to 4KB of the response body for debugging.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]csv.Record, error) {
	logf := f.logger()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/csv, */*")

	start := time.Now()
	resp, err := f.client.Do(req)
	reqDur := time.Since(start)
	if err != nil {
		metrics.RecordHTTP(f.Job, 0, err, reqDur, 0, 0)
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.RecordHTTP(f.Job, resp.StatusCode, nil, reqDur, time.Since(start)-reqDur, int64(len(body)))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	cr := &countingReader{r: resp.Body}
	recs, err := csv.ParseReader(cr, f.encoding)
	respDur := time.Since(start) - reqDur
	metrics.RecordHTTP(f.Job, resp.StatusCode, err, reqDur, respDur, cr.n)
	if err != nil {
		return nil, err
	}

	logf("feed=%s status=%d bytes=%d records=%d duration=%s",
		url, resp.StatusCode, cr.n, len(recs), time.Since(start).Truncate(time.Millisecond))
	return recs, nil
}

func (f *Fetcher) logger() func(format string, v ...any) {
	if f.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return f.Logger.Printf
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

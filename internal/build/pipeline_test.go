package build

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"dropin/internal/feed"
	"dropin/internal/parser/csv"
)

const dropinCSV = `Location ID,Course_ID,Course Title,Section,Age Min,Age Max,Date Range,Start Hour,Start Minute,End Hour,End Min,First Date,Last Date,DayOftheWeek
10,501,Badminton,Adult,18,None,Jun 1 to Jun 30,18,0,0,0,2025-06-02,2025-06-30,Monday
10,502,Skating,All,None,None,Jun 1 to Jun 30,9,30,10,45,2025-06-01,2025-06-30,Sunday
99,503,Basketball,Youth,13,17,Jun 1 to Jun 30,x,0,21,0,2025-07-01,2025-07-30,Tuesday
10,504,Swim,Adult,18,None,May,7,0,8,0,2025-05-31,2025-05-31,Saturday
10,505,Tennis,Adult,18,None,Jul,7,0,8,0,2025-07-02,2025-07-02,Wednesday
`

const locationsCSV = `Location ID,Location Name,Location Type,Accessibility,Intersection,TTC Information,District,Street No,Street Name,Street Type,Street Direction,Postal Code
10,"Trinity Bellwoods CC",Community Centre,Fully Accessible,"Dundas St W, Crawford St",505 Dundas,Toronto and East York,155,Crawford,St,None,M6J 2V4
10,Duplicate Name,,,,,,,,,,
,No Id,,,,,,,,,,
`

type fakeSource struct {
	feeds feed.Feeds
	err   error
}

func (f fakeSource) FetchBoth(ctx context.Context, dropinURL, locationsURL string) (feed.Feeds, error) {
	return f.feeds, f.err
}

func fixedNow() time.Time { return time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC) }

func newPipeline(t *testing.T, src Source) (*Pipeline, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "public", "sports.db")
	return &Pipeline{
		Source: src,
		Config: Config{Output: out, HorizonDays: 30, Now: fixedNow, BatchSize: 2},
	}, out
}

func sampleSource() fakeSource {
	return fakeSource{feeds: feed.Feeds{
		Dropin:    csv.Parse(dropinCSV),
		Locations: csv.Parse(locationsCSV),
	}}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	p, out := newPipeline(t, sampleSource())
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Parsed != 5 || res.Retained != 3 {
		t.Fatalf("parsed=%d retained=%d want 5/3", res.Parsed, res.Retained)
	}
	if res.Stats.Facts != 3 || res.Stats.Locations != 1 || res.Stats.DuplicateLocations != 1 || res.Stats.InvalidLocations != 1 {
		t.Fatalf("stats=%+v", res.Stats)
	}
	if res.ScheduleRows != 3 || res.Bytes <= 0 || res.Path != out || res.RunID == "" {
		t.Fatalf("result=%+v", res)
	}
	if res.Horizon.From != "2025-06-01" || res.Horizon.To != "2025-07-01" {
		t.Fatalf("horizon=%+v", res.Horizon)
	}

	db, err := sql.Open("sqlite", out)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer db.Close()

	var (
		timeRange, age, address string
		location                sql.NullString
	)
	err = db.QueryRow(`SELECT time, age_range, address, location_name FROM sports_schedule WHERE sport = 'Badminton'`).
		Scan(&timeRange, &age, &address, &location)
	if err != nil {
		t.Fatalf("query badminton: %v", err)
	}
	if timeRange != "18:00 - 00:00" || age != "18+" || address != "155 Crawford St" || location.String != "Trinity Bellwoods CC" {
		t.Fatalf("badminton row: time=%q age=%q address=%q location=%q", timeRange, age, address, location.String)
	}

	// Unmatched location id keeps the row with NULL location columns.
	var startHour int64
	err = db.QueryRow(`SELECT location_name, start_hour, age_range FROM sports_schedule WHERE sport = 'Basketball'`).
		Scan(&location, &startHour, &age)
	if err != nil {
		t.Fatalf("query basketball: %v", err)
	}
	if location.Valid || startHour != 0 || age != "13-17" {
		t.Fatalf("basketball row: location=%v start_hour=%d age=%q", location, startHour, age)
	}

	var ids []int64
	rows, err := db.Query(`SELECT id FROM dropin ORDER BY id`)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		_ = rows.Scan(&id)
		ids = append(ids, id)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Fatalf("ids=%v want dense 0..2", ids)
	}

	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil || version != 1 {
		t.Fatalf("user_version=%d err=%v", version, err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(out), ".sports-*"))
	if len(leftovers) != 0 {
		t.Fatalf("staging files left behind: %v", leftovers)
	}
}

func TestRun_ZeroHorizonKeepsToday(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t, sampleSource())
	p.Config.HorizonDays = 0
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Horizon.From != "2025-06-01" || res.Horizon.To != "2025-06-01" {
		t.Fatalf("horizon=%+v want 2025-06-01..2025-06-01", res.Horizon)
	}
	// Only the Skating session starts on 2025-06-01.
	if res.Retained != 1 || res.ScheduleRows != 1 {
		t.Fatalf("retained=%d rows=%d want 1/1", res.Retained, res.ScheduleRows)
	}
}

func TestRun_NegativeHorizonRejected(t *testing.T) {
	t.Parallel()

	p, out := newPipeline(t, sampleSource())
	p.Config.HorizonDays = -1
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected error for negative horizon")
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact must not be published: %v", err)
	}
}

type lineLogger struct{ lines []string }

func (l *lineLogger) Printf(format string, v ...any) { l.lines = append(l.lines, fmt.Sprintf(format, v...)) }

func TestStage_ReturnsWrappedError(t *testing.T) {
	t.Parallel()

	lg := &lineLogger{}
	p := &Pipeline{Logger: lg}
	boom := errors.New("horizon out of range")

	err := p.stage("filter", func() error { return boom })
	if !errors.Is(err, boom) || err.Error() != "filter: horizon out of range" {
		t.Fatalf("err=%v", err)
	}
	if len(lg.lines) != 1 || !strings.HasPrefix(lg.lines[0], "stage=filter error duration=") {
		t.Fatalf("log=%q", lg.lines)
	}

	if err := p.stage("normalize", func() error { return nil }); err != nil {
		t.Fatalf("ok stage: %v", err)
	}
	if !strings.HasPrefix(lg.lines[1], "stage=normalize ok duration=") {
		t.Fatalf("log=%q", lg.lines)
	}
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()

	dump := func() []string {
		p, out := newPipeline(t, sampleSource())
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		db, err := sql.Open("sqlite", out)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer db.Close()
		rows, err := db.Query(`SELECT sport || '|' || time || '|' || date || '|' || IFNULL(age_range, '') FROM sports_schedule`)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		defer rows.Close()
		var out2 []string
		for rows.Next() {
			var s string
			_ = rows.Scan(&s)
			out2 = append(out2, s)
		}
		return out2
	}

	a, b := dump(), dump()
	if len(a) != len(b) {
		t.Fatalf("row counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d differs: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestRun_FetchFailureLeavesPreviousArtifact(t *testing.T) {
	t.Parallel()

	p, out := newPipeline(t, fakeSource{err: errors.New("dns")})
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	b, _ := os.ReadFile(out)
	if string(b) != "previous" {
		t.Fatalf("previous artifact was modified")
	}
}

func TestRun_EmptyFeedsStillPublish(t *testing.T) {
	t.Parallel()

	p, out := newPipeline(t, fakeSource{})
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ScheduleRows != 0 {
		t.Fatalf("rows=%d", res.ScheduleRows)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestRun_RequiresSourceAndOutput(t *testing.T) {
	t.Parallel()

	if _, err := (&Pipeline{}).Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing Source")
	}
	if _, err := (&Pipeline{Source: fakeSource{}}).Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing Output")
	}
}

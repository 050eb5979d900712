package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dropin/internal/loader"
	"dropin/internal/model"
	"dropin/internal/storage"
	"dropin/internal/storage/sqlite"
)

func i64(v int64) *int64 { return &v }

var fixtureFacts = []model.Dropin{
	{LocationID: 10, CourseID: 1, CourseTitle: "Badminton", AgeMin: i64(18), StartHour: 18, EndHour: 0, FirstDate: "2025-06-02", DayOfWeek: "Monday"},
	{LocationID: 10, CourseID: 2, CourseTitle: "Skating", StartHour: 9, StartMinute: 30, EndHour: 10, EndMinute: 45, FirstDate: "2025-06-01", DayOfWeek: "Sunday"},
	{LocationID: 99, CourseID: 3, CourseTitle: "Basketball", AgeMin: i64(13), AgeMax: i64(17), StartHour: 6, EndHour: 8, FirstDate: "2025-06-03", DayOfWeek: "Tuesday"},
	{LocationID: 11, CourseID: 4, CourseTitle: "Swim", AgeMin: i64(0), AgeMax: i64(0), StartHour: 12, EndHour: 13, FirstDate: "2025-06-04", DayOfWeek: "Wednesday"},
	{LocationID: 11, CourseID: 5, CourseTitle: "Yoga", StartHour: 22, EndHour: 23, FirstDate: "2025-06-05", DayOfWeek: "Thursday"},
	{LocationID: 11, CourseID: 6, CourseTitle: "Badminton", StartHour: 11, EndHour: 12, FirstDate: "2025-06-10", DayOfWeek: "Tuesday"},
	{LocationID: 11, CourseID: 7, CourseTitle: "Pickleball", AgeMax: i64(12), StartHour: 17, EndHour: 18, FirstDate: "2025-06-07", DayOfWeek: "Saturday"},
}

var fixtureLocations = []model.Location{
	{LocationID: 10, LocationName: "Trinity Bellwoods CC", District: "Toronto and East York", StreetNo: "155", StreetName: "Crawford", StreetType: "St"},
	{LocationID: 11, LocationName: "Wallace Emerson", District: "York", StreetNo: "1260", StreetName: "Dufferin", StreetType: "St"},
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Printf(format string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func writeArtifact(t *testing.T, version int, views []storage.ViewSpec) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sports.db")

	w, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer w.Close()

	if err := w.EnsureTables(ctx, storage.Artifact.Tables); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if _, err := (&loader.Loader{Repo: w}).Load(ctx, fixtureFacts, fixtureLocations); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := w.CreateIndexes(ctx, storage.Artifact.Indexes); err != nil {
		t.Fatalf("CreateIndexes: %v", err)
	}
	if err := w.CreateViews(ctx, views); err != nil {
		t.Fatalf("CreateViews: %v", err)
	}
	if err := w.SetFormatVersion(ctx, version); err != nil {
		t.Fatalf("SetFormatVersion: %v", err)
	}
	return path
}

func openFixture(t *testing.T) (*Engine, *captureLogger) {
	t.Helper()
	path := writeArtifact(t, storage.FormatVersion, storage.Artifact.Views)
	logger := &captureLogger{}
	e, err := Open(context.Background(), path, Config{Logger: logger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, logger
}

func week() Request { return Request{StartDate: "2025-06-01", EndDate: "2025-06-07"} }

func sports(rows []model.ScheduleRow) string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Sport)
	}
	return strings.Join(out, ",")
}

func TestQuery_Filters(t *testing.T) {
	t.Parallel()
	e, _ := openFixture(t)

	tests := []struct {
		name string
		mod  func(r *Request)
		want string
	}{
		{"window_only_default_order", func(r *Request) {}, "Skating,Badminton,Basketball,Swim,Yoga,Pickleball"},
		{"empty_sets_are_no_restriction", func(r *Request) {
			r.Sports, r.Days, r.Locations = []string{}, []string{}, []string{}
		}, "Skating,Badminton,Basketball,Swim,Yoga,Pickleball"},
		{"sport", func(r *Request) { r.Sports = []string{"Badminton"} }, "Badminton"},
		{"end_date_inclusive", func(r *Request) {
			r.EndDate = "2025-06-10"
			r.Sports = []string{"Badminton"}
		}, "Badminton,Badminton"},
		{"days", func(r *Request) { r.Days = []string{"Monday", "Sunday"} }, "Skating,Badminton"},
		{"locations", func(r *Request) { r.Locations = []string{"Wallace Emerson"} }, "Swim,Yoga,Pickleball"},
		{"morning", func(r *Request) { r.TimeOfDay = Morning }, "Skating,Basketball"},
		{"afternoon_lower_bound_inclusive", func(r *Request) { r.TimeOfDay = Afternoon }, "Swim"},
		{"evening_excludes_22", func(r *Request) { r.TimeOfDay = Evening }, "Badminton,Pickleball"},
		{"search_address_case_insensitive", func(r *Request) { r.Search = "crawford" }, "Skating,Badminton"},
		{"search_sport", func(r *Request) { r.Search = "ball" }, "Basketball,Pickleball"},
		{"conjunctive", func(r *Request) {
			r.Sports = []string{"Swim", "Yoga"}
			r.Locations = []string{"Wallace Emerson"}
			r.TimeOfDay = Afternoon
		}, "Swim"},
		{"start_after_end_is_empty", func(r *Request) { r.StartDate, r.EndDate = "2025-06-07", "2025-06-01" }, ""},
		{"sort_sport_desc", func(r *Request) {
			r.Sort = "sport"
			r.Desc = true
		}, "Yoga,Swim,Skating,Pickleball,Basketball,Badminton"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := week()
			tt.mod(&req)
			rows, err := e.Query(context.Background(), req)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if got := sports(rows); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestQuery_RowShape(t *testing.T) {
	t.Parallel()
	e, _ := openFixture(t)

	rows, err := e.Query(context.Background(), week())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	by := map[string]model.ScheduleRow{}
	for _, r := range rows {
		by[r.Sport] = r
	}

	b := by["Badminton"]
	if b.Time != "18:00 - 00:00" || b.AgeRange != "18+" || b.Address != "155 Crawford St" || b.District != "Toronto and East York" {
		t.Fatalf("badminton: %+v", b)
	}
	if by["Skating"].AgeRange != "All" || by["Skating"].Time != "09:30 - 10:45" {
		t.Fatalf("skating: %+v", by["Skating"])
	}
	if by["Swim"].AgeRange != "All" {
		t.Fatalf("swim age: %q", by["Swim"].AgeRange)
	}
	if by["Basketball"].AgeRange != "13-17" || by["Basketball"].LocationName != "" || by["Basketball"].Address != "" {
		t.Fatalf("unmatched location row: %+v", by["Basketball"])
	}
	if by["Pickleball"].AgeRange != "" {
		t.Fatalf("null-min age label: %q", by["Pickleball"].AgeRange)
	}

	for _, f := range fixtureFacts {
		r, ok := by[f.CourseTitle]
		if !ok || f.FirstDate > "2025-06-07" {
			continue
		}
		if want := model.AgeRange(f.AgeMin, f.AgeMax); r.AgeRange != want {
			t.Fatalf("%s: view age %q, model age %q", f.CourseTitle, r.AgeRange, want)
		}
	}
}

func TestQuery_MalformedRequests(t *testing.T) {
	t.Parallel()
	e, logger := openFixture(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing_start", Request{EndDate: "2025-06-07"}},
		{"bad_end", Request{StartDate: "2025-06-01", EndDate: "June 7"}},
		{"unknown_bucket", Request{StartDate: "2025-06-01", EndDate: "2025-06-07", TimeOfDay: "night"}},
		{"unknown_sort", Request{StartDate: "2025-06-01", EndDate: "2025-06-07", Sort: "id; DROP TABLE dropin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Query(context.Background(), tt.req); !errors.Is(err, ErrMalformedRequest) {
				t.Fatalf("err=%v want ErrMalformedRequest", err)
			}
			rows := e.Search(context.Background(), tt.req)
			if rows == nil || len(rows) != 0 {
				t.Fatalf("Search must return an empty, non-nil slice: %#v", rows)
			}
		})
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.lines) != len(tests) {
		t.Fatalf("diagnostic lines=%d want %d", len(logger.lines), len(tests))
	}
}

func TestOptions_DistinctSortedAndMemoized(t *testing.T) {
	t.Parallel()
	e, _ := openFixture(t)

	got, err := e.Options(context.Background())
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if s := strings.Join(got.Sports, ","); s != "Badminton,Basketball,Pickleball,Skating,Swim,Yoga" {
		t.Fatalf("sports=%s", s)
	}
	if l := strings.Join(got.Locations, ","); l != "Trinity Bellwoods CC,Wallace Emerson" {
		t.Fatalf("locations=%s", l)
	}
	if len(got.Days) != 7 || got.Days[0] != "Monday" || got.Days[6] != "Sunday" {
		t.Fatalf("days=%v", got.Days)
	}

	again, err := e.Options(context.Background())
	if err != nil || len(again.Sports) != len(got.Sports) {
		t.Fatalf("memoized Options: %v %v", again, err)
	}
}

func TestOpen_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := Open(ctx, filepath.Join(t.TempDir(), "nope.db"), Config{}); !errors.Is(err, storage.ErrArtifactMissing) {
		t.Fatalf("missing file: %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(garbage, []byte(strings.Repeat("not sqlite ", 200)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ctx, garbage, Config{}); !errors.Is(err, storage.ErrArtifactInvalid) {
		t.Fatalf("garbage file: %v", err)
	}

	newer := writeArtifact(t, storage.FormatVersion+1, storage.Artifact.Views)
	if _, err := Open(ctx, newer, Config{}); !errors.Is(err, storage.ErrArtifactInvalid) {
		t.Fatalf("newer version: %v", err)
	}

	noView := writeArtifact(t, storage.FormatVersion, nil)
	if _, err := Open(ctx, noView, Config{}); !errors.Is(err, storage.ErrArtifactInvalid) {
		t.Fatalf("missing view: %v", err)
	}

	unversioned := writeArtifact(t, 0, storage.Artifact.Views)
	e, err := Open(ctx, unversioned, Config{})
	if err != nil {
		t.Fatalf("unversioned artifact should open: %v", err)
	}
	_ = e.Close()
}

func TestOpen_PathWithURICharacters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := writeArtifact(t, storage.FormatVersion, storage.Artifact.Views)
	b, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	dir := filepath.Join(root, "release#2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "sports.db")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := Open(ctx, path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	rows, err := e.Query(ctx, Request{StartDate: "2025-06-01", EndDate: "2025-06-30"})
	if err != nil || len(rows) != len(fixtureFacts) {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	if _, err := e.db.ExecContext(ctx, "DELETE FROM dropin"); err == nil {
		t.Fatalf("artifact must be read-only")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "release#2" {
		var names []string
		for _, en := range entries {
			names = append(names, en.Name())
		}
		t.Fatalf("stray files created: %v", names)
	}
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dropin/internal/config"
	"dropin/internal/loader"
	"dropin/internal/model"
	"dropin/internal/query"
	"dropin/internal/storage"
	"dropin/internal/storage/sqlite"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func writeArtifact(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sports.db")

	w, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer w.Close()

	facts := []model.Dropin{
		{LocationID: 1, CourseID: 11, CourseTitle: "Badminton", StartHour: 19, FirstDate: "2025-06-02", DayOfWeek: "Monday"},
		{LocationID: 2, CourseID: 12, CourseTitle: "Pickleball", StartHour: 18, FirstDate: "2025-06-03", DayOfWeek: "Tuesday"},
		{LocationID: 2, CourseID: 13, CourseTitle: "Swim", StartHour: 7, FirstDate: "2025-06-03", DayOfWeek: "Tuesday"},
		{LocationID: 1, CourseID: 14, CourseTitle: "Badminton", StartHour: 19, FirstDate: "2025-06-25", DayOfWeek: "Wednesday"},
	}
	locs := []model.Location{
		{LocationID: 1, LocationName: "Bellwoods", StreetNo: "155", StreetName: "Crawford", StreetType: "St"},
		{LocationID: 2, LocationName: "Emerson", StreetNo: "1260", StreetName: "Dufferin", StreetType: "St"},
	}
	if err := w.EnsureTables(ctx, storage.Artifact.Tables); err != nil {
		t.Fatal(err)
	}
	if _, err := (&loader.Loader{Repo: w}).Load(ctx, facts, locs); err != nil {
		t.Fatal(err)
	}
	if err := w.CreateViews(ctx, storage.Artifact.Views); err != nil {
		t.Fatal(err)
	}
	if err := w.SetFormatVersion(ctx, storage.FormatVersion); err != nil {
		t.Fatal(err)
	}
	return path
}

func depsFor(path string) appDeps {
	return appDeps{
		loadConfig: func(o config.Options) (config.Config, error) {
			c := config.Config{DB: path}
			if v, ok := o.Overrides[config.KeyDB].(string); ok {
				c.DB = v
			}
			return c, nil
		},
		now: func() time.Time { return fixedNow },
	}
}

func lines(t *testing.T, out *bytes.Buffer) []model.ScheduleRow {
	t.Helper()
	var rows []model.ScheduleRow
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r model.ScheduleRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		rows = append(rows, r)
	}
	return rows
}

func TestRunMain_Queries(t *testing.T) {
	t.Parallel()
	path := writeArtifact(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default_week", nil, "11,13,12"},
		{"repeated_sport", []string{"-sport", "Badminton", "-sport", "Swim"}, "11,13"},
		{"evening", []string{"-time", "Evening"}, "11,12"},
		{"search_address", []string{"-q", "dufferin"}, "13,12"},
		{"explicit_window", []string{"-start", "2025-06-20", "-end", "2025-06-30"}, "14"},
		{"sorted_desc", []string{"-sort", "sport", "-desc"}, "13,12,11"},
		{"day", []string{"-day", "Tuesday", "-location", "Emerson"}, "13,12"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runMain(context.Background(), tc.args, &stdout, &stderr, depsFor(path)); code != 0 {
				t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
			}
			var ids []string
			for _, r := range lines(t, &stdout) {
				ids = append(ids, strconv.FormatInt(r.CourseID, 10))
			}
			if got := strings.Join(ids, ","); got != tc.want {
				t.Fatalf("course ids=%s want %s", got, tc.want)
			}
		})
	}
}

func TestRunMain_Options(t *testing.T) {
	t.Parallel()
	path := writeArtifact(t)

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-options"}, &stdout, &stderr, depsFor(path)); code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	var opts query.FilterOptions
	if err := json.Unmarshal(stdout.Bytes(), &opts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(opts.Sports, ",") != "Badminton,Pickleball,Swim" || strings.Join(opts.Locations, ",") != "Bellwoods,Emerson" {
		t.Fatalf("options=%+v", opts)
	}
}

func TestRunMain_Errors(t *testing.T) {
	t.Parallel()
	path := writeArtifact(t)

	tests := []struct {
		name          string
		args          []string
		wantCode      int
		wantStderrSub string
	}{
		{"unknown_flag", []string{"-nope"}, 2, "flag provided but not defined"},
		{"positional", []string{"Badminton"}, 2, "unexpected argument"},
		{"bad_bucket", []string{"-time", "night"}, 2, "unknown time of day"},
		{"bad_sort", []string{"-sort", "course_id"}, 2, "unknown sort key"},
		{"bad_date", []string{"-start", "tomorrow"}, 2, "malformed request"},
		{"missing_artifact", []string{"-db", filepath.Join(t.TempDir(), "none.db")}, 1, "open artifact:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runMain(context.Background(), tc.args, &stdout, &stderr, depsFor(path)); code != tc.wantCode {
				t.Fatalf("exit code=%d want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestFillWindow(t *testing.T) {
	t.Parallel()

	req := query.Request{}
	fillWindow(&req, fixedNow)
	if req.StartDate != "2025-06-01" || req.EndDate != "2025-06-08" {
		t.Fatalf("default=%s..%s", req.StartDate, req.EndDate)
	}

	req = query.Request{StartDate: "2025-06-20"}
	fillWindow(&req, fixedNow)
	if req.EndDate != "2025-06-27" {
		t.Fatalf("end from start=%s", req.EndDate)
	}

	req = query.Request{StartDate: "bad"}
	fillWindow(&req, fixedNow)
	if req.EndDate != "" {
		t.Fatalf("bad start must leave end empty: %q", req.EndDate)
	}
}

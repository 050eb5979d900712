package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrMalformedRequest marks requests the engine refuses to run: a missing or
// malformed date, an unknown time-of-day bucket or an unknown sort key.
var ErrMalformedRequest = errors.New("query: malformed request")

// DateLayout is the calendar date format of Request dates and the date column.
const DateLayout = "2006-01-02"

// Bucket is a time-of-day window over start_hour.
type Bucket string

const (
	AnyTime   Bucket = ""
	Morning   Bucket = "morning"
	Afternoon Bucket = "afternoon"
	Evening   Bucket = "evening"
)

// Hours returns the half-open start_hour interval [lo, hi) of b.
func (b Bucket) Hours() (lo, hi int, ok bool) {
	switch b {
	case Morning:
		return 6, 12, true
	case Afternoon:
		return 12, 17, true
	case Evening:
		return 17, 22, true
	}
	return 0, 0, false
}

// SortKey names a sortable schedule column.
type SortKey string

const DefaultSort SortKey = ""

var sortColumns = map[SortKey]string{
	"sport":         "sport",
	"location_name": "location_name",
	"day":           "day",
	"start_hour":    "start_hour",
	"date":          "date",
	"district":      "district",
	"age_range":     "age_range",
}

// Request is one schedule query. Empty sets and an empty Search impose no
// restriction; all present criteria are combined with AND.
type Request struct {
	StartDate string
	EndDate   string

	Sports    []string
	Days      []string
	Locations []string

	TimeOfDay Bucket
	Search    string

	Sort SortKey
	Desc bool
}

// Predicate is a WHERE fragment with its bound arguments. Only fixed SQL text
// is ever concatenated; every request value is an argument.
type Predicate struct {
	SQL  string
	Args []any
}

// Build folds the present criteria of req into a Predicate.
func Build(req Request) (Predicate, error) {
	if err := validDate(req.StartDate); err != nil {
		return Predicate{}, fmt.Errorf("%w: start date: %v", ErrMalformedRequest, err)
	}
	if err := validDate(req.EndDate); err != nil {
		return Predicate{}, fmt.Errorf("%w: end date: %v", ErrMalformedRequest, err)
	}

	clauses := []string{"date >= ? AND date <= ?"}
	args := []any{req.StartDate, req.EndDate}

	for _, f := range []struct {
		col  string
		vals []string
	}{
		{"sport", req.Sports},
		{"day", req.Days},
		{"location_name", req.Locations},
	} {
		if len(f.vals) == 0 {
			continue
		}
		q, a, err := sqlx.In(f.col+" IN (?)", f.vals)
		if err != nil {
			return Predicate{}, fmt.Errorf("expand %s: %w", f.col, err)
		}
		clauses = append(clauses, q)
		args = append(args, a...)
	}

	if req.TimeOfDay != AnyTime {
		lo, hi, ok := req.TimeOfDay.Hours()
		if !ok {
			return Predicate{}, fmt.Errorf("%w: unknown time of day %q", ErrMalformedRequest, req.TimeOfDay)
		}
		clauses = append(clauses, "start_hour >= ? AND start_hour < ?")
		args = append(args, lo, hi)
	}

	if req.Search != "" {
		// LIKE wildcards in the text are not escaped.
		pattern := "%" + req.Search + "%"
		clauses = append(clauses, "(sport LIKE ? OR location_name LIKE ? OR address LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	return Predicate{SQL: strings.Join(clauses, " AND "), Args: args}, nil
}

// orderBy returns the ORDER BY clause for req. The default matches the view.
func orderBy(req Request) (string, error) {
	if req.Sort == DefaultSort {
		if req.Desc {
			return "ORDER BY date DESC, start_hour DESC", nil
		}
		return "ORDER BY date, start_hour", nil
	}
	col, ok := sortColumns[req.Sort]
	if !ok {
		return "", fmt.Errorf("%w: unknown sort key %q", ErrMalformedRequest, req.Sort)
	}
	dir := "ASC"
	if req.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, date, start_hour", col, dir), nil
}

func validDate(s string) error {
	if s == "" {
		return errors.New("missing")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("want YYYY-MM-DD, got %q", s)
	}
	return nil
}

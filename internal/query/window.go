package query

import (
	"fmt"
	"time"

	"dropin/internal/model"
)

const (
	// DefaultPerPage matches the schedule table page size.
	DefaultPerPage = 50
	// MaxWindowDays bounds an interactive date window.
	MaxWindowDays = 7
)

// Page is one slice of a result set.
type Page struct {
	Rows       []model.ScheduleRow `json:"rows"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"total_pages"`
}

// Paginate returns page (1-based) of rows. page < 1 is treated as 1 and
// perPage <= 0 as DefaultPerPage; a page past the end has no rows.
func Paginate(rows []model.ScheduleRow, page, perPage int) Page {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	p := Page{
		Rows:       []model.ScheduleRow{},
		Page:       page,
		PerPage:    perPage,
		Total:      len(rows),
		TotalPages: (len(rows) + perPage - 1) / perPage,
	}
	start := (page - 1) * perPage
	if start >= len(rows) {
		return p
	}
	p.Rows = rows[start:min(start+perPage, len(rows))]
	return p
}

// DefaultWindow is today .. today+MaxWindowDays in UTC calendar dates.
func DefaultWindow(now time.Time) (start, end string) {
	now = now.UTC()
	return now.Format(DateLayout), now.AddDate(0, 0, MaxWindowDays).Format(DateLayout)
}

// ClampWindow keeps start and bounds end so that start <= end <= start+maxDays.
func ClampWindow(start, end string, maxDays int) (string, string, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return "", "", fmt.Errorf("%w: start date %q", ErrMalformedRequest, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return "", "", fmt.Errorf("%w: end date %q", ErrMalformedRequest, end)
	}
	if e.Before(s) {
		return start, start, nil
	}
	if limit := s.AddDate(0, 0, maxDays); e.After(limit) {
		return start, limit.Format(DateLayout), nil
	}
	return start, end, nil
}

package normalize

import (
	"time"

	"dropin/internal/model"
)

// DefaultHorizonDays is the build-time retention window for drop-in sessions.
const DefaultHorizonDays = 30

// DateLayout is the calendar date format used by the feeds and the artifact.
const DateLayout = "2006-01-02"

// Horizon is an inclusive window of calendar dates in DateLayout form.
//
// Comparison is lexical on the raw First Date value, so values with a time
// suffix on the last day ("2025-07-02T00:00:00") fall outside the window.
type Horizon struct {
	From string
	To   string
}

// NewHorizon returns [today, today+days] using UTC calendar dates.
func NewHorizon(now time.Time, days int) Horizon {
	now = now.UTC()
	return Horizon{
		From: now.Format(DateLayout),
		To:   now.Add(time.Duration(days) * 24 * time.Hour).Format(DateLayout),
	}
}

// Contains reports whether firstDate falls inside the window.
func (h Horizon) Contains(firstDate string) bool {
	return firstDate >= h.From && firstDate <= h.To
}

// FilterHorizon keeps the rows whose FirstDate is inside h, in input order.
func FilterHorizon(rows []model.Dropin, h Horizon) []model.Dropin {
	out := make([]model.Dropin, 0, len(rows))
	for _, r := range rows {
		if h.Contains(r.FirstDate) {
			out = append(out, r)
		}
	}
	return out
}

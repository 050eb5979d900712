// Package model holds the row shapes shared by the build and query phases.
//
// Dropin and Location are the typed, normalized forms of the two source feeds.
// ScheduleRow is one row of the sports_schedule view as seen by consumers.
package model

import (
	"fmt"
	"strconv"
)

// Dropin is one scheduled session from the drop-in feed (the fact row).
//
// AgeMin/AgeMax are nil when the source did not specify an age. A present zero
// is kept as zero. Scheduling integers default to 0 when the source value is
// malformed.
type Dropin struct {
	ID          int64
	LocationID  int64
	CourseID    int64
	CourseTitle string
	Section     string
	AgeMin      *int64
	AgeMax      *int64
	DateRange   string
	StartHour   int64
	StartMinute int64
	EndHour     int64
	EndMinute   int64
	FirstDate   string
	LastDate    string
	DayOfWeek   string
}

// Location is one facility from the locations feed (the dimension row).
type Location struct {
	LocationID      int64
	LocationName    string
	LocationType    string
	Accessibility   string
	Intersection    string
	TTCInfo         string
	District        string
	StreetNo        string
	StreetName      string
	StreetType      string
	StreetDirection string
	PostalCode      string
}

// ScheduleRow mirrors the sports_schedule view column for column.
type ScheduleRow struct {
	CourseID      int64  `db:"course_id" json:"course_id"`
	Sport         string `db:"sport" json:"sport"`
	LocationName  string `db:"location_name" json:"location_name"`
	District      string `db:"district" json:"district"`
	Address       string `db:"address" json:"address"`
	Intersection  string `db:"intersection" json:"intersection"`
	Accessibility string `db:"accessibility" json:"accessibility"`
	TTCInfo       string `db:"ttc_info" json:"ttc_info"`
	Day           string `db:"day" json:"day"`
	Time          string `db:"time" json:"time"`
	StartHour     int64  `db:"start_hour" json:"start_hour"`
	Date          string `db:"date" json:"date"`
	AgeRange      string `db:"age_range" json:"age_range"`
}

// Weekdays is the fixed day enumeration offered as a filter option.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// AgeRange renders the age label exactly as the sports_schedule view does.
//
//	(nil, nil)          -> "All"
//	(0, nil|0)          -> "All"
//	(n, nil|0)          -> "n+"
//	(n, m)              -> "n-m"
//
// A nil minimum with a set maximum has no label in the view (NULL), which is
// returned here as "".
func AgeRange(min, max *int64) string {
	openMax := max == nil || *max == 0
	switch {
	case min == nil && max == nil:
		return "All"
	case min != nil && *min == 0 && openMax:
		return "All"
	case openMax:
		if min == nil {
			return ""
		}
		return strconv.FormatInt(*min, 10) + "+"
	case min == nil:
		return ""
	default:
		return strconv.FormatInt(*min, 10) + "-" + strconv.FormatInt(*max, 10)
	}
}

// TimeRange renders "HH:MM - HH:MM" with zero padding.
func TimeRange(startHour, startMinute, endHour, endMinute int64) string {
	return fmt.Sprintf("%02d:%02d - %02d:%02d", startHour, startMinute, endHour, endMinute)
}

// Package normalize turns raw feed records into typed model rows.
//
// Field rules:
//   - scheduling and identity integers parse a leading numeric prefix and fall
//     back to 0 (never NULL);
//   - ages distinguish "absent" (empty or the "None" sentinel -> nil) from a
//     present value, including a literal 0;
//   - location strings replace the sentinel, blank or absent values with "".
package normalize

import (
	"strconv"
	"strings"
	"unicode"

	"dropin/internal/model"
	"dropin/internal/parser/csv"
)

// Sentinel is the token the City feeds use for "no value".
const Sentinel = "None"

// Source headers of the drop-in feed.
const (
	HdrLocationID  = "Location ID"
	HdrCourseID    = "Course_ID"
	HdrCourseTitle = "Course Title"
	HdrSection     = "Section"
	HdrAgeMin      = "Age Min"
	HdrAgeMax      = "Age Max"
	HdrDateRange   = "Date Range"
	HdrStartHour   = "Start Hour"
	HdrStartMinute = "Start Minute"
	HdrEndHour     = "End Hour"
	HdrEndMinute   = "End Min"
	HdrFirstDate   = "First Date"
	HdrLastDate    = "Last Date"
	HdrDayOfWeek   = "DayOftheWeek"
)

// Source headers of the locations feed.
const (
	HdrLocationName    = "Location Name"
	HdrLocationType    = "Location Type"
	HdrAccessibility   = "Accessibility"
	HdrIntersection    = "Intersection"
	HdrTTCInfo         = "TTC Information"
	HdrDistrict        = "District"
	HdrStreetNo        = "Street No"
	HdrStreetName      = "Street Name"
	HdrStreetType      = "Street Type"
	HdrStreetDirection = "Street Direction"
	HdrPostalCode      = "Postal Code"
)

// DropinHeaders lists every drop-in header the normalizer reads.
var DropinHeaders = []string{
	HdrLocationID, HdrCourseID, HdrCourseTitle, HdrSection, HdrAgeMin, HdrAgeMax,
	HdrDateRange, HdrStartHour, HdrStartMinute, HdrEndHour, HdrEndMinute,
	HdrFirstDate, HdrLastDate, HdrDayOfWeek,
}

// LocationHeaders lists every locations header the normalizer reads.
var LocationHeaders = []string{
	HdrLocationID, HdrLocationName, HdrLocationType, HdrAccessibility, HdrIntersection,
	HdrTTCInfo, HdrDistrict, HdrStreetNo, HdrStreetName, HdrStreetType,
	HdrStreetDirection, HdrPostalCode,
}

// Int parses the leading integer prefix of s ("12", " 7pm", "-3", "4.5" -> 4).
// Anything without a leading digit yields 0.
func Int(s string) int64 {
	n, ok := leadingInt(s)
	if !ok {
		return 0
	}
	return n
}

// Age parses an age bound. Empty and the sentinel are absent (nil); a present
// but unparseable value is also nil. A literal "0" stays 0.
func Age(s string) *int64 {
	if s == "" || s == Sentinel {
		return nil
	}
	n, ok := leadingInt(s)
	if !ok {
		return nil
	}
	return &n
}

// Clean maps the sentinel and blank values to "" and passes everything else
// through untouched.
func Clean(s string) string {
	if s == "" || s == Sentinel || strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// Dropin maps one drop-in feed record. ID is assigned later by the loader.
func Dropin(rec csv.Record) model.Dropin {
	return model.Dropin{
		LocationID:  Int(rec.Get(HdrLocationID)),
		CourseID:    Int(rec.Get(HdrCourseID)),
		CourseTitle: rec.Get(HdrCourseTitle),
		Section:     rec.Get(HdrSection),
		AgeMin:      Age(rec.Get(HdrAgeMin)),
		AgeMax:      Age(rec.Get(HdrAgeMax)),
		DateRange:   rec.Get(HdrDateRange),
		StartHour:   Int(rec.Get(HdrStartHour)),
		StartMinute: Int(rec.Get(HdrStartMinute)),
		EndHour:     Int(rec.Get(HdrEndHour)),
		EndMinute:   Int(rec.Get(HdrEndMinute)),
		FirstDate:   rec.Get(HdrFirstDate),
		LastDate:    rec.Get(HdrLastDate),
		DayOfWeek:   rec.Get(HdrDayOfWeek),
	}
}

// Dropins maps every record, preserving input order.
func Dropins(recs []csv.Record) []model.Dropin {
	out := make([]model.Dropin, 0, len(recs))
	for _, r := range recs {
		out = append(out, Dropin(r))
	}
	return out
}

// Location maps one locations feed record. ok is false when the record has no
// usable id (0 or unparseable); such records must not be loaded.
func Location(rec csv.Record) (loc model.Location, ok bool) {
	id := Int(rec.Get(HdrLocationID))
	if id == 0 {
		return model.Location{}, false
	}
	return model.Location{
		LocationID:      id,
		LocationName:    Clean(rec.Get(HdrLocationName)),
		LocationType:    Clean(rec.Get(HdrLocationType)),
		Accessibility:   Clean(rec.Get(HdrAccessibility)),
		Intersection:    Clean(rec.Get(HdrIntersection)),
		TTCInfo:         Clean(rec.Get(HdrTTCInfo)),
		District:        Clean(rec.Get(HdrDistrict)),
		StreetNo:        Clean(rec.Get(HdrStreetNo)),
		StreetName:      Clean(rec.Get(HdrStreetName)),
		StreetType:      Clean(rec.Get(HdrStreetType)),
		StreetDirection: Clean(rec.Get(HdrStreetDirection)),
		PostalCode:      Clean(rec.Get(HdrPostalCode)),
	}, true
}

// Locations maps every record with a usable id, preserving input order and
// duplicates (first-wins dedupe is the loader's job). invalid counts the
// records dropped for a missing id.
func Locations(recs []csv.Record) (out []model.Location, invalid int) {
	out = make([]model.Location, 0, len(recs))
	for _, r := range recs {
		loc, ok := Location(r)
		if !ok {
			invalid++
			continue
		}
		out = append(out, loc)
	}
	return out, invalid
}

// leadingInt reads optional leading whitespace, an optional sign and at least
// one decimal digit. Overflowing prefixes are treated as unparseable.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

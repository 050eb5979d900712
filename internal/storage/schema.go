// Package storage declares the artifact schema shared by the writer and the
// query engine, and the backend-agnostic write interface.
package storage

// FormatVersion is stored in PRAGMA user_version. Readers accept 0
// (unversioned artifacts) up to FormatVersion and reject anything newer.
const FormatVersion = 1

const (
	TableDropin    = "dropin"
	TableLocations = "locations"
	ViewSchedule   = "sports_schedule"
)

type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

type IndexSpec struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

type ViewSpec struct {
	Name   string `json:"name"`
	Select string `json:"select"`
}

// Schema is the complete artifact layout.
type Schema struct {
	Tables  []TableSpec
	Indexes []IndexSpec
	Views   []ViewSpec
}

var notNull = func() *bool { b := false; return &b }()

func col(name, typ string) ColumnSpec { return ColumnSpec{Name: name, Type: typ} }

func required(name, typ string) ColumnSpec {
	return ColumnSpec{Name: name, Type: typ, Nullable: notNull}
}

// DropinTable is the fact table. id is supplied by the loader.
var DropinTable = TableSpec{
	Name:       TableDropin,
	PrimaryKey: &PrimaryKeySpec{Name: "id", Type: "INTEGER"},
	Columns: []ColumnSpec{
		required("location_id", "INTEGER"),
		required("course_id", "INTEGER"),
		required("course_title", "TEXT"),
		col("section", "TEXT"),
		col("age_min", "INTEGER"),
		col("age_max", "INTEGER"),
		col("date_range", "TEXT"),
		col("start_hour", "INTEGER"),
		col("start_minute", "INTEGER"),
		col("end_hour", "INTEGER"),
		col("end_minute", "INTEGER"),
		col("first_date", "TEXT"),
		col("last_date", "TEXT"),
		col("day_of_week", "TEXT"),
	},
}

// LocationsTable is the dimension table, keyed by the source location id.
var LocationsTable = TableSpec{
	Name:       TableLocations,
	PrimaryKey: &PrimaryKeySpec{Name: "location_id", Type: "INTEGER"},
	Columns: []ColumnSpec{
		required("location_name", "TEXT"),
		col("location_type", "TEXT"),
		col("accessibility", "TEXT"),
		col("intersection", "TEXT"),
		col("ttc_info", "TEXT"),
		col("district", "TEXT"),
		col("street_no", "TEXT"),
		col("street_name", "TEXT"),
		col("street_type", "TEXT"),
		col("street_direction", "TEXT"),
		col("postal_code", "TEXT"),
	},
}

var Indexes = []IndexSpec{
	{Name: "idx_sport", Table: TableDropin, Columns: []string{"course_title"}},
	{Name: "idx_day", Table: TableDropin, Columns: []string{"day_of_week"}},
	{Name: "idx_date", Table: TableDropin, Columns: []string{"first_date"}},
	{Name: "idx_district", Table: TableLocations, Columns: []string{"district"}},
}

// ScheduleSelect defines sports_schedule. Every drop-in row appears exactly
// once; location columns are NULL when the location id has no match.
const ScheduleSelect = `SELECT
  d.course_id,
  d.course_title AS sport,
  l.location_name,
  l.district,
  TRIM(
    COALESCE(l.street_no || ' ', '') ||
    COALESCE(l.street_name || ' ', '') ||
    COALESCE(l.street_type || ' ', '') ||
    COALESCE(l.street_direction, '')
  ) AS address,
  l.intersection,
  l.accessibility,
  l.ttc_info,
  d.day_of_week AS day,
  printf('%02d:%02d', d.start_hour, d.start_minute) || ' - ' ||
    printf('%02d:%02d', d.end_hour, d.end_minute) AS time,
  d.start_hour,
  d.first_date AS date,
  CASE
    WHEN d.age_min IS NULL AND d.age_max IS NULL THEN 'All'
    WHEN d.age_min = 0 AND (d.age_max IS NULL OR d.age_max = 0) THEN 'All'
    WHEN d.age_max IS NULL OR d.age_max = 0 THEN CAST(d.age_min AS TEXT) || '+'
    ELSE CAST(d.age_min AS TEXT) || '-' || CAST(d.age_max AS TEXT)
  END AS age_range
FROM dropin d
LEFT JOIN locations l ON d.location_id = l.location_id
ORDER BY d.first_date, d.start_hour`

var Views = []ViewSpec{{Name: ViewSchedule, Select: ScheduleSelect}}

// Artifact is the schema written by the build and expected by readers.
var Artifact = Schema{
	Tables:  []TableSpec{DropinTable, LocationsTable},
	Indexes: Indexes,
	Views:   Views,
}

// ColumnNames returns the insert column order for t, primary key first.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Relations lists every table and view name readers require.
func (s Schema) Relations() []string {
	out := make([]string, 0, len(s.Tables)+len(s.Views))
	for _, t := range s.Tables {
		out = append(out, t.Name)
	}
	for _, v := range s.Views {
		out = append(out, v.Name)
	}
	return out
}

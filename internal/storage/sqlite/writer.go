package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"dropin/internal/storage"
)

// maxVars stays well under SQLITE_MAX_VARIABLE_NUMBER for every build of the
// driver.
const maxVars = 30000

// Writer implements storage.Repository for a SQLite artifact file.
//
// The artifact is written by a single process with no concurrent readers, so
// the connection pool is pinned to one connection and journaling is kept in
// memory.
type Writer struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// FileURI returns a file: URI for path with rawQuery appended. The path is
// made absolute and percent-encoded, so '?', '#' and '%' in directory or file
// names cannot end the filename early.
func FileURI(path, rawQuery string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("sqlite: resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: rawQuery}
	if !strings.HasPrefix(u.Path, "/") {
		// Windows volume paths.
		u.Path = "/" + u.Path
	}
	return u.String(), nil
}

// New opens (creating if needed) the SQLite file named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return Open(ctx, cfg.DSN)
}

// Open opens a writer on path.
func Open(ctx context.Context, path string) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	dsn, err := FileURI(path, "")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &Writer{db: db}, nil
}

func (w *Writer) Close() error { return w.db.Close() }

// EnsureTables creates every table if it does not exist yet.
func (w *Writer) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows performs multi-row inserts inside one transaction, splitting the
// rows so that no statement exceeds maxVars bound parameters.
func (w *Writer) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	per := maxVars / len(columns)
	if per < 1 {
		per = 1
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (w *Writer) CreateIndexes(ctx context.Context, indexes []storage.IndexSpec) error {
	for _, ix := range indexes {
		if _, err := w.db.ExecContext(ctx, buildCreateIndexSQL(ix)); err != nil {
			return fmt.Errorf("create index %s: %w", ix.Name, err)
		}
	}
	return nil
}

func (w *Writer) CreateViews(ctx context.Context, views []storage.ViewSpec) error {
	for _, v := range views {
		q := fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS\n%s", sqlIdent(v.Name), v.Select)
		if _, err := w.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create view %s: %w", v.Name, err)
		}
	}
	return nil
}

func (w *Writer) SetFormatVersion(ctx context.Context, version int) error {
	// PRAGMA does not accept bound parameters.
	_, err := w.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

func (w *Writer) Count(ctx context.Context, relation string) (int64, error) {
	var n int64
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(relation)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", relation, err)
	}
	return n, nil
}

// Vacuum compacts the file before it is published.
func (w *Writer) Vacuum(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, "VACUUM")
	return err
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		// INTEGER PRIMARY KEY aliases the rowid; values are supplied by the loader.
		parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("%s: column with empty name", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		if c.Nullable != nil && !*c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%s: no columns", t.Name)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildCreateIndexSQL(ix storage.IndexSpec) string {
	cols := make([]string, 0, len(ix.Columns))
	for _, c := range ix.Columns {
		cols = append(cols, sqlIdent(c))
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", sqlIdent(ix.Name), sqlIdent(ix.Table), strings.Join(cols, ", "))
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrArtifactMissing means the artifact file does not exist.
	ErrArtifactMissing = errors.New("storage: artifact missing")
	// ErrArtifactInvalid means the file exists but is not a usable artifact
	// (not SQLite, missing relations, or a newer format version).
	ErrArtifactInvalid = errors.New("storage: artifact invalid")
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the write side of the artifact. The build pipeline drives it
// in a fixed order: EnsureTables, InsertRows (facts then locations),
// CreateIndexes, CreateViews, SetFormatVersion.
type Repository interface {
	// Close releases the underlying handle. Call once.
	Close() error

	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows inserts rows verbatim; no dedupe is applied at this level.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	CreateIndexes(ctx context.Context, indexes []IndexSpec) error
	CreateViews(ctx context.Context, views []ViewSpec) error
	SetFormatVersion(ctx context.Context, version int) error

	// Count returns the row count of a table or view.
	Count(ctx context.Context, relation string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind (e.g. "sqlite").
//
// Call it from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

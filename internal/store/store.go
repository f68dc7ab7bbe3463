// Package store provides data storage interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// Store errors.
var (
	ErrNotFound = errors.New("item not found")
	ErrNilItem  = errors.New("item cannot be nil")

	ErrInvalidTable = errors.New("invalid table name")
)

// OpError wraps a failure of the underlying persistence layer.
type OpError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Store defines the interface for item storage operations.
type Store interface {
	// List returns up to limit items ordered by ascending ID, skipping offset.
	List(ctx context.Context, offset, limit int) ([]model.Item, error)

	// Count returns the total number of stored items.
	Count(ctx context.Context) (int, error)

	// Get retrieves an item by its ID.
	Get(ctx context.Context, id int64) (*model.Item, error)

	// Create adds a new item to the store and returns it with the assigned ID.
	Create(ctx context.Context, item *model.Item) (*model.Item, error)

	// Update writes the supplied patch fields and returns the new state.
	Update(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error)

	// Delete removes an item and returns it as it was before removal.
	Delete(ctx context.Context, id int64) (*model.Item, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Supported driver names.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Option configures a SQL-backed store.
type Option func(*options)

type options struct {
	table string
}

// WithTable sets the table items are read from and written to. An empty
// name keeps DefaultTable.
func WithTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// Open creates a Store for the given driver and data source. Options only
// affect the SQL drivers.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres:
		s, err := OpenSQL(ctx, driver, dsn, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/items-api/internal/model"
)

const itemColumns = "id, title, content, status"

// SQLStore implements Store on top of a relational database.
// Every operation runs inside its own transaction that is committed on
// success and rolled back on any other exit path.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	table   string // quoted
}

// OpenSQL connects to the database, verifies connectivity and makes sure the
// items table exists.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}

	o := options{table: DefaultTable}
	for _, opt := range opts {
		opt(&o)
	}
	table, err := quoteTable(o.table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, &OpError{Op: "open", Err: err}
	}
	if d.maxOpenConns > 0 {
		db.SetMaxOpenConns(d.maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &OpError{Op: "ping", Err: err}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(d.schema, table)); err != nil {
		_ = db.Close()
		return nil, &OpError{Op: "create schema", Err: err}
	}

	return &SQLStore{db: db, dialect: d, table: table}, nil
}

// query substitutes the table name and rebinds placeholders.
func (s *SQLStore) query(format string) string {
	return s.dialect.rebind(fmt.Sprintf(format, s.table))
}

// List returns a window of items ordered by ascending ID.
func (s *SQLStore) List(ctx context.Context, offset, limit int) ([]model.Item, error) {
	items := make([]model.Item, 0)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			s.query("SELECT "+itemColumns+" FROM %s ORDER BY id ASC LIMIT ? OFFSET ?"),
			limit, offset,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("list items", err)
	}

	return items, nil
}

// Count returns the total number of stored items.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var total int

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, s.query("SELECT COUNT(*) FROM %s")).Scan(&total)
	})
	if err != nil {
		return 0, wrapErr("count items", err)
	}

	return total, nil
}

// Get retrieves an item by its ID.
func (s *SQLStore) Get(ctx context.Context, id int64) (*model.Item, error) {
	var item *model.Item

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		item, err = scanItem(tx.QueryRowContext(ctx,
			s.query("SELECT "+itemColumns+" FROM %s WHERE id = ?"), id,
		))
		return err
	})
	if err != nil {
		return nil, wrapErr("get item", err)
	}

	return item, nil
}

// Create inserts a new row and returns it with the database-assigned ID.
func (s *SQLStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	if item == nil {
		return nil, ErrNilItem
	}

	var created *model.Item

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanItem(tx.QueryRowContext(ctx,
			s.query("INSERT INTO %s (title, content, status) VALUES (?, ?, ?) RETURNING "+itemColumns),
			item.Title, item.Content, string(item.Status),
		))
		return err
	})
	if err != nil {
		return nil, wrapErr("create item", err)
	}

	return created, nil
}

// Update writes only the supplied patch fields in a single statement.
func (s *SQLStore) Update(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	var updated *model.Item

	var status sql.NullString
	if patch.Status != nil {
		status = sql.NullString{String: string(*patch.Status), Valid: true}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		updated, err = scanItem(tx.QueryRowContext(ctx,
			s.query(`UPDATE %s SET
				title = COALESCE(?, title),
				content = COALESCE(?, content),
				status = COALESCE(?, status)
			WHERE id = ? RETURNING `+itemColumns),
			nullString(patch.Title), nullString(patch.Content), status, id,
		))
		return err
	})
	if err != nil {
		return nil, wrapErr("update item", err)
	}

	return updated, nil
}

// Delete removes the row and returns its last state.
func (s *SQLStore) Delete(ctx context.Context, id int64) (*model.Item, error) {
	var deleted *model.Item

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = scanItem(tx.QueryRowContext(ctx,
			s.query("DELETE FROM %s WHERE id = ? RETURNING "+itemColumns), id,
		))
		return err
	})
	if err != nil {
		return nil, wrapErr("delete item", err)
	}

	return deleted, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &OpError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction. The deferred rollback is a no-op once
// the transaction has been committed.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem reads one item row. Missing rows map to ErrNotFound.
func scanItem(row rowScanner) (*model.Item, error) {
	var (
		item    model.Item
		content sql.NullString
		status  sql.NullString
	)

	if err := row.Scan(&item.ID, &item.Title, &content, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	item.Content = content.String
	item.Status = model.Status(status.String)

	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// wrapErr classifies err as a store failure unless it is a not-found result.
func wrapErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return &OpError{Op: op, Err: err}
}

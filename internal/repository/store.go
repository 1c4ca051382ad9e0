package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store is a small generic read helper shared by entity repositories through
// composition. It covers the lookup/list plumbing that is identical across
// tables; anything entity-specific stays on the owning repository.
type Store[T any] struct {
	db      *sqlx.DB
	table   string
	columns string
}

// NewStore builds a Store bound to a table and its selectable column list.
func NewStore[T any](db *sqlx.DB, table, columns string) Store[T] {
	return Store[T]{db: db, table: table, columns: columns}
}

// GetByID fetches a single row by primary key.
func (s Store[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 LIMIT 1", s.columns, s.table)
	var entity T
	if err := s.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, err
	}
	return &entity, nil
}

// ListAll returns every row ordered by primary key.
func (s Store[T]) ListAll(ctx context.Context) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", s.columns, s.table)
	var entities []T
	if err := s.db.SelectContext(ctx, &entities, query); err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	return entities, nil
}

// DeleteByID removes a row by primary key.
func (s Store[T]) DeleteByID(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}
	return nil
}

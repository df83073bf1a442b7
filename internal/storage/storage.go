// Package storage is the engine's single storage abstraction: every durable
// table (quizzes, sessions, attempts, mistakes, bookmarks, grants) is reached
// through DB, and every statement is parameterized. Services consume narrow
// interfaces satisfied by DB, so nothing above this package touches SQL.
package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row. Services translate it
// into their own taxonomy.
var ErrNotFound = errors.New("storage: not found")

type DB struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

const codeUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// retryOnUniqueViolation runs fn up to n times, repeating only while it fails
// with a 23505 unique violation. Any other outcome, including nil, is returned
// as is. When every try conflicts the last error is returned wrapped.
func retryOnUniqueViolation(n int, fn func() error) error {
	var err error
	for i := 0; i < n; i++ {
		err = fn()
		if !isUniqueViolation(err) {
			return err
		}
	}

	return fmt.Errorf("retries exhausted: %w", err)
}

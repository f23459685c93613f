package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// validID reports whether id can be compared against a UUID column. Ids that
// cannot are treated as missing rows rather than query errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

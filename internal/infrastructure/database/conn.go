package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the query surface handed to operations run through the
// manager. *pgx.Conn satisfies it directly.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn is the connection surface the manager needs beyond querying. It
// exists so tests can substitute a scripted connection.
type conn interface {
	Querier
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
}

// dialPostgres opens a single pgx connection. Package variable so tests
// can inject fake connections without a listening server.
var dialPostgres = func(ctx context.Context, dsn string) (conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

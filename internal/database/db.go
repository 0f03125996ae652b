// internal/database/db.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu postgres dialect
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 5 * time.Minute
	pingTimeout            = 5 * time.Second
)

// Postgres SQLSTATE codes the services react to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// Dialect builds the dynamic list queries.
var Dialect = goqu.Dialect("postgres")

// Options configures the connection pool.
type Options struct {
	Driver  string // "postgres" (lib/pq) or "pgx"
	DSN     string
	MaxOpen int
	MaxIdle int
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpen > 0 {
		db.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ConstraintViolation describes a failed integrity constraint.
type ConstraintViolation struct {
	Code       string
	Constraint string
}

// AsConstraintViolation unwraps integrity errors from either driver.
func AsConstraintViolation(err error) (ConstraintViolation, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ConstraintViolation{Code: string(pqErr.Code), Constraint: pqErr.Constraint}, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ConstraintViolation{Code: pgErr.Code, Constraint: pgErr.ConstraintName}, true
	}
	return ConstraintViolation{}, false
}

func IsUniqueViolation(err error) bool {
	v, ok := AsConstraintViolation(err)
	return ok && v.Code == codeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	v, ok := AsConstraintViolation(err)
	return ok && v.Code == codeForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	v, ok := AsConstraintViolation(err)
	return ok && v.Code == codeCheckViolation
}

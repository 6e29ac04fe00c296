package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// querier is the subset shared by the pool and a running transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database is the PostgreSQL implementation of Store.
type Database struct {
	Pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ Store = (*Database)(nil)

func NewDatabase() *Database {
	return &Database{
		Pool: nil,
	}
}

func (db *Database) Connect(ctx context.Context, connString string, pool PoolConfig) error {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("unable to parse database configuration: %w", err)
	}
	if pool.MaxConns > 0 {
		config.MaxConns = pool.MaxConns
	}
	if pool.MinConns > 0 {
		config.MinConns = pool.MinConns
	}

	db.Pool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create database pool: %w", err)
	}

	return nil
}

func (db *Database) Close() {
	db.Pool.Close()
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Database) conn() querier {
	if db.tx != nil {
		return db.tx
	}
	return db.Pool
}

// InTx runs fn inside a transaction. Calls nested in an open transaction join it.
func (db *Database) InTx(ctx context.Context, fn func(tx Store) error) error {
	if db.tx != nil {
		return fn(db)
	}
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		return fn(&Database{Pool: db.Pool, tx: tx})
	})
}

// wrapError maps constraint violations onto the model error kinds.
func wrapError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23P01":
			return fmt.Errorf("database: failed to %s: %w: %s", action, model.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("database: failed to %s: %w: %s", action, model.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("database: failed to %s: %w", action, err)
}

// where accumulates numbered placeholders for the dynamic filters of List queries.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Package postgres is the read model the indexer projects notifications
// into. Nothing in the ledger reads it back.
package postgres

import (
	"context"
	_ "embed"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type DB struct {
	raw *sqlx.DB
	q   sqlx.ExtContext
}

func Open(dsn string) (*DB, error) {
	raw, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	return New(raw), nil
}

func New(raw *sqlx.DB) *DB {
	return &DB{raw: raw, q: raw}
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return errors.Wrap(db.raw.PingContext(ctx), "failed to ping database")
}

func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.q.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to apply schema")
}

func (db *DB) Exec(ctx context.Context, stmt sq.Sqlizer) (int64, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "failed to build query")
	}
	res, err := db.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) Get(ctx context.Context, dest interface{}, stmt sq.Sqlizer) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build query")
	}
	return sqlx.GetContext(ctx, db.q, dest, query, args...)
}

func (db *DB) Select(ctx context.Context, dest interface{}, stmt sq.Sqlizer) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build query")
	}
	return sqlx.SelectContext(ctx, db.q, dest, query, args...)
}

// Transaction runs fn against a DB bound to one transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	tx, err := db.raw.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(&DB{raw: db.raw, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

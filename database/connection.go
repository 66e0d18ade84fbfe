// Package database is the Catalog Store: a SQLCipher-backed database/sql
// connection with dialect-aware raw SQL helpers. Modeled on catalog-api's
// database package (connection.go, dialect.go, tx_helpers.go,
// migrations.go), generalized from the media-catalog schema to SubDAAP's
// artist/album/item/container schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher"

	"github.com/basilfx/subdaap/internal/errkind"
)

// DB wraps a *sql.DB with the dialect and a single writer mutex. SQLite
// serializes writers at the file level; a process-wide mutex avoids
// SQLITE_BUSY retries under concurrent synchronizer/cache-manager access
// the way catalog-api's connection pool does for its embedded mode.
type DB struct {
	conn    *sql.DB
	dialect *Dialect

	writeMu sync.Mutex
}

// Options configures a new DB.
type Options struct {
	Path            string
	Key             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens (creating if necessary) a SQLCipher database at opts.Path. An
// empty opts.Key disables encryption (plain SQLite), useful for tests.
func Open(opts Options) (*DB, error) {
	dsn := opts.Path
	if opts.Key != "" {
		dsn = fmt.Sprintf("%s?_pragma_key=%s&_pragma_cipher_page_size=4096", opts.Path, opts.Key)
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errkind.New(errkind.CatalogIO, "database.Open", err)
	}

	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	} else {
		conn.SetMaxOpenConns(1)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errkind.New(errkind.CatalogIO, "database.Open", err)
	}

	return &DB{conn: conn, dialect: NewDialect(DialectSQLite)}, nil
}

// Dialect returns the database's SQL dialect.
func (db *DB) Dialect() *Dialect {
	return db.dialect
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// HealthCheck pings the database, returning a CatalogIO error on failure.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return errkind.New(errkind.CatalogIO, "database.HealthCheck", err)
	}
	return nil
}

// Stats returns the connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.conn.Stats()
}

// Query runs a read query and returns *sql.Rows. Callers must Close it.
func (db *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.RewritePlaceholders(query), args...)
	if err != nil {
		return nil, errkind.New(errkind.CatalogIO, "database.Query", err)
	}
	return rows, nil
}

// QueryValue runs a query expected to return a single scalar column,
// scanning it into dest. Returns sql.ErrNoRows if empty.
func (db *DB) QueryValue(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	row := db.conn.QueryRowContext(ctx, db.dialect.RewritePlaceholders(query), args...)
	if err := row.Scan(dest); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return errkind.New(errkind.CatalogIO, "database.QueryValue", err)
	}
	return nil
}

// QueryDict runs a query and returns each row as a column-name-to-value
// map, in the style of the original's cursor.query_dict.
func (db *DB) QueryDict(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errkind.New(errkind.CatalogIO, "database.QueryDict", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errkind.New(errkind.CatalogIO, "database.QueryDict", err)
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.New(errkind.CatalogIO, "database.QueryDict", err)
	}

	return out, nil
}

// Exec runs a write statement under the writer mutex, rewriting dialect
// shorthand as needed.
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.ExecContext(ctx, db.dialect.RewritePlaceholders(query), args...)
	if err != nil {
		return nil, errkind.New(errkind.CatalogIO, "database.Exec", err)
	}
	return result, nil
}

// WithTx runs fn inside a transaction under the writer mutex, committing on
// success and rolling back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.CatalogIO, "database.WithTx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errkind.New(errkind.CatalogIO, "database.WithTx", fmt.Errorf("%w (rollback: %v)", err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.CatalogIO, "database.WithTx", err)
	}
	return nil
}

// InsertReturningIDAutoCommit runs query in its own transaction and returns
// the new row's primary key, for callers that don't need to batch it with
// other writes.
func (db *DB) InsertReturningIDAutoCommit(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.InsertReturningID(ctx, tx, query, args...)
		return err
	})
	return id, err
}

// InsertReturningID runs an insert and returns the new row's primary key,
// branching on dialect the way catalog-api's TxInsertReturningID does.
func (db *DB) InsertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	query = db.dialect.RewritePlaceholders(query)

	if db.dialect.IsPostgres() {
		var id int64
		if err := tx.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, errkind.New(errkind.CatalogIO, "database.InsertReturningID", err)
		}
		return id, nil
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errkind.New(errkind.CatalogIO, "database.InsertReturningID", err)
	}
	return result.LastInsertId()
}

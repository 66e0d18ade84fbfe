package database

import (
	"context"
	"database/sql"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.CreateSchema(context.Background(), false); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	return db
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.CreateSchema(context.Background(), false); err != nil {
		t.Fatalf("second CreateSchema: %v", err)
	}
}

func TestInsertAndQueryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertReturningIDAutoCommit(ctx,
		`INSERT INTO databases (persistent_id, name) VALUES (?, ?)`, "lib1", "Library One")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var name string
	if err := db.QueryValue(ctx, &name, `SELECT name FROM databases WHERE id = ?`, id); err != nil {
		t.Fatalf("query: %v", err)
	}
	if name != "Library One" {
		t.Fatalf("got %q, want %q", name, "Library One")
	}
}

func TestQueryDictReturnsColumnMaps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.InsertReturningIDAutoCommit(ctx,
		`INSERT INTO databases (persistent_id, name) VALUES (?, ?)`, "lib1", "Library One"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := db.QueryDict(ctx, `SELECT persistent_id, name FROM databases`)
	if err != nil {
		t.Fatalf("QueryDict: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Library One" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	wantErr := errTest{}
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO databases (persistent_id, name) VALUES (?, ?)`, "x", "x"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}

	var count int
	if err := db.QueryValue(ctx, &count, `SELECT COUNT(*) FROM databases`); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard insert, got %d rows", count)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

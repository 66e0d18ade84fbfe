package database

import "regexp"

// DialectType identifies the SQL engine behind a DB.
type DialectType string

const (
	DialectSQLite   DialectType = "sqlite"
	DialectPostgres DialectType = "postgres"
)

// Dialect abstracts the handful of SQL differences between SQLite and
// Postgres that the catalog store touches: placeholder style, upsert
// shorthand, boolean literals and auto-increment columns. SubDAAP ships
// against SQLCipher by default, but the catalog schema is simple enough
// to keep portable the way catalog-api's database layer does.
type Dialect struct {
	Type DialectType
}

var booleanLiteralRe = regexp.MustCompile(`(?i)\bTRUE\b|\bFALSE\b`)

// NewDialect returns the Dialect for the given type.
func NewDialect(t DialectType) *Dialect {
	return &Dialect{Type: t}
}

func (d *Dialect) IsSQLite() bool   { return d.Type == DialectSQLite }
func (d *Dialect) IsPostgres() bool { return d.Type == DialectPostgres }

// AutoIncrement returns the column type clause for a primary key that
// auto-increments.
func (d *Dialect) AutoIncrement() string {
	if d.IsPostgres() {
		return "SERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// TimestampType returns the column type for a Unix timestamp.
func (d *Dialect) TimestampType() string {
	if d.IsPostgres() {
		return "BIGINT"
	}
	return "INTEGER"
}

// BooleanType returns the column type for a boolean flag.
func (d *Dialect) BooleanType() string {
	if d.IsPostgres() {
		return "BOOLEAN"
	}
	return "INTEGER"
}

// BooleanDefault renders a boolean default clause.
func (d *Dialect) BooleanDefault(value bool) string {
	if d.IsPostgres() {
		if value {
			return "DEFAULT TRUE"
		}
		return "DEFAULT FALSE"
	}
	if value {
		return "DEFAULT 1"
	}
	return "DEFAULT 0"
}

// CurrentTimestamp returns the function call for "now" as a Unix timestamp.
func (d *Dialect) CurrentTimestamp() string {
	if d.IsPostgres() {
		return "EXTRACT(EPOCH FROM NOW())::BIGINT"
	}
	return "strftime('%s', 'now')"
}

// RewriteInsertOrIgnore rewrites the "INSERT OR IGNORE" shorthand used in
// SQLite-flavored statements into the Postgres ON CONFLICT equivalent.
// conflictCols names the unique/primary key columns to conflict on.
func (d *Dialect) RewriteInsertOrIgnore(query string, conflictCols string) string {
	if d.IsSQLite() {
		return query
	}
	return insertOrIgnoreRe.ReplaceAllString(query, "INSERT") + " ON CONFLICT (" + conflictCols + ") DO NOTHING"
}

// RewriteInsertOrReplace rewrites "INSERT OR REPLACE" into the Postgres
// upsert equivalent. setClause is the "col = EXCLUDED.col, ..." list.
func (d *Dialect) RewriteInsertOrReplace(query string, conflictCols string, setClause string) string {
	if d.IsSQLite() {
		return query
	}
	return insertOrReplaceRe.ReplaceAllString(query, "INSERT") +
		" ON CONFLICT (" + conflictCols + ") DO UPDATE SET " + setClause
}

var (
	insertOrIgnoreRe  = regexp.MustCompile(`(?i)INSERT\s+OR\s+IGNORE`)
	insertOrReplaceRe = regexp.MustCompile(`(?i)INSERT\s+OR\s+REPLACE`)
)

// RewriteBooleanLiterals rewrites bare TRUE/FALSE literals into the 1/0
// form SQLite expects in comparisons.
func (d *Dialect) RewriteBooleanLiterals(query string) string {
	if d.IsPostgres() {
		return query
	}
	return booleanLiteralRe.ReplaceAllStringFunc(query, func(m string) string {
		if m[0] == 'T' || m[0] == 't' {
			return "1"
		}
		return "0"
	})
}

// RewritePlaceholders rewrites "?" placeholders into Postgres "$N" form.
func (d *Dialect) RewritePlaceholders(query string) string {
	if d.IsSQLite() {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(itoa(n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

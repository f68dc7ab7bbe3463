package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	// Database drivers registered with database/sql.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	driverName   string
	schema       string
	numbered     bool // $1, $2 placeholders instead of ?
	maxOpenConns int
}

// DefaultTable is the table items are kept in unless WithTable says otherwise.
const DefaultTable = "items"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS %s (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	title   TEXT NOT NULL,
	content TEXT,
	status  TEXT DEFAULT 'active' CHECK (status IN ('active', 'not_active'))
)`

const postgresSchema = `CREATE TABLE IF NOT EXISTS %s (
	id      BIGSERIAL PRIMARY KEY,
	title   TEXT NOT NULL,
	content TEXT,
	status  TEXT DEFAULT 'active' CHECK (status IN ('active', 'not_active'))
)`

var dialects = map[string]dialect{
	// SQLite allows a single writer.
	DriverSQLite: {
		driverName:   "sqlite",
		schema:       sqliteSchema,
		maxOpenConns: 1,
	},
	DriverPostgres: {
		driverName: "postgres",
		schema:     postgresSchema,
		numbered:   true,
	},
}

// quoteTable returns name as a quoted identifier. Quoting keeps mixed-case
// names such as "Item" intact on Postgres.
func quoteTable(name string) (string, error) {
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return `"` + name + `"`, nil
}

// rebind rewrites ? placeholders for dialects that use numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

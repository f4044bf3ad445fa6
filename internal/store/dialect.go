package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// dialect captures the few places the two supported databases differ.
// Everything else (ON CONFLICT, RETURNING, partial indexes) is shared SQL.
type dialect struct {
	driver string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return dialect{driver: driver}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q (want %s or %s)", driver, DriverSQLite, DriverPostgres)
	}
}

// rebind rewrites ? placeholders to $n for postgres. Queries in this
// package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is the row-locking suffix for reads inside a transaction.
// SQLite serializes writers on its single connection, so it needs none.
func (d dialect) forUpdate() string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

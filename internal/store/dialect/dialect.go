// Package dialect papers over the SQL differences between the Postgres and
// SQLite drivers the stores run on.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect describes one SQL backend.
type Dialect struct {
	// Name is the registered database/sql driver name.
	Name string
	// TimestampType is the column type used for instants.
	TimestampType string
	positional    bool
}

var (
	Postgres = Dialect{Name: "pgx", TimestampType: "timestamptz"}
	SQLite   = Dialect{Name: "sqlite", TimestampType: "timestamp", positional: true}
)

// ForDriver returns the dialect for a database/sql driver name.
func ForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("dialect: unsupported driver %q", driver)
	}
}

// Rebind rewrites $N placeholders for drivers that only take "?". Queries must
// use each placeholder once, in order.
func (d Dialect) Rebind(query string) string {
	if !d.positional || !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inString = !inString
		}
		if c == '$' && !inString {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				b.WriteByte('?')
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Placeholder returns the n-th (1-based) bind marker.
func (d Dialect) Placeholder(n int) string {
	if d.positional {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

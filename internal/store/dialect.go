package store

import (
	"strconv"

	"github.com/aristath/matchsync/internal/database"
)

// dialect captures the few places SQLite and PostgreSQL differ.
type dialect struct {
	numbered  bool // $1, $2 placeholders instead of ?
	returning bool // INSERT ... RETURNING id instead of LastInsertId
	intBools  bool // booleans stored as 0/1
}

func dialectFor(driver string) dialect {
	if driver == database.DriverPostgres {
		return dialect{numbered: true, returning: true}
	}
	return dialect{intBools: true}
}

type argList struct {
	d      dialect
	values []any
}

func newArgs(d dialect) *argList {
	return &argList{d: d}
}

// add appends a bind value and returns its placeholder.
func (a *argList) add(v any) string {
	if b, ok := v.(bool); ok && a.d.intBools {
		if b {
			v = 1
		} else {
			v = 0
		}
	}
	a.values = append(a.values, v)
	if a.d.numbered {
		return "$" + strconv.Itoa(len(a.values))
	}
	return "?"
}

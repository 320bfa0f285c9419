// Package store is the generic relational access layer. Callers address rows
// by entity name and a filter map; no caller issues raw SQL or joins, so the
// backing database can be swapped.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned by FindOne when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("unique constraint conflict")
	// ErrUnknownEntity is returned for entities or columns outside the schema.
	ErrUnknownEntity = errors.New("unknown entity or column")
)

// Filter is a conjunction of column conditions. Plain values compare with
// equality; Like, In and Null build the other operators.
type Filter map[string]any

// Record is one row keyed by column name.
type Record map[string]any

// Store is the minimal CRUD surface used by reconciliation and merge.
type Store interface {
	FindOne(ctx context.Context, entity string, filter Filter) (Record, error)
	FindMany(ctx context.Context, entity string, filter Filter, opts ...QueryOption) ([]Record, error)
	Insert(ctx context.Context, entity string, values Record) (int64, error)
	Update(ctx context.Context, entity string, filter Filter, values Record) (int64, error)
	Count(ctx context.Context, entity string, filter Filter) (int, error)
}

type likeCond struct{ pattern string }
type inCond struct{ values []any }
type nullCond struct{}

// Like matches a SQL LIKE pattern.
func Like(pattern string) any { return likeCond{pattern: pattern} }

// In matches any of values. An empty list matches nothing.
func In(values ...any) any { return inCond{values: values} }

// Null matches SQL NULL.
var Null any = nullCond{}

type queryOptions struct {
	orderBy string
	desc    bool
	limit   int
}

// QueryOption adjusts a FindMany query.
type QueryOption func(*queryOptions)

// OrderBy sorts by column.
func OrderBy(column string, desc bool) QueryOption {
	return func(o *queryOptions) {
		o.orderBy = column
		o.desc = desc
	}
}

// Limit caps the number of rows returned. Zero means no limit.
func Limit(n int) QueryOption {
	return func(o *queryOptions) {
		o.limit = n
	}
}

// Int64 reads an integer column. Drivers disagree on the concrete type so
// every numeric representation is accepted.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// String reads a text column.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Float64 reads a real column.
func (r Record) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// Bool reads a boolean column stored as BOOLEAN or as 0/1.
func (r Record) Bool(key string) bool {
	if b, ok := r[key].(bool); ok {
		return b
	}
	return r.Int64(key) != 0
}

// Time reads a unix-seconds column. The second return is false for NULL.
func (r Record) Time(key string) (time.Time, bool) {
	if r[key] == nil {
		return time.Time{}, false
	}
	return time.Unix(r.Int64(key), 0).UTC(), true
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/database"
)

// Entity names.
const (
	EntityMatches = "matches"
	EntityBets    = "bets"
)

// schema whitelists entities and their columns. Identifiers are interpolated
// into SQL, so anything outside this map is rejected with ErrUnknownEntity.
var schema = map[string][]string{
	EntityMatches: {
		"id", "external_id", "bevent_id", "bmarket_id", "event_id",
		"status", "is_live", "is_deleted", "title", "tournament",
		"home_team", "away_team", "start_time", "remarks",
		"created_at", "updated_at",
	},
	EntityBets: {
		"id", "match_id", "user_id", "stake", "status",
		"created_at", "updated_at",
	},
}

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	conn    *sql.DB
	dialect dialect
	columns map[string]map[string]bool
	log     zerolog.Logger
}

// NewSQLStore creates a store over an open database.
func NewSQLStore(db *database.DB, log zerolog.Logger) *SQLStore {
	columns := make(map[string]map[string]bool, len(schema))
	for entity, cols := range schema {
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[c] = true
		}
		columns[entity] = set
	}

	return &SQLStore{
		conn:    db.Conn(),
		dialect: dialectFor(db.Driver()),
		columns: columns,
		log:     log.With().Str("component", "sql_store").Logger(),
	}
}

// FindOne returns the first matching row or ErrNotFound.
func (s *SQLStore) FindOne(ctx context.Context, entity string, filter Filter) (Record, error) {
	rows, err := s.FindMany(ctx, entity, filter, OrderBy("id", false), Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// FindMany returns every matching row.
func (s *SQLStore) FindMany(ctx context.Context, entity string, filter Filter, opts ...QueryOption) ([]Record, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := s.checkEntity(entity); err != nil {
		return nil, err
	}

	args := newArgs(s.dialect)
	where, err := s.where(entity, filter, args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(schema[entity], ", "), entity, where)
	if o.orderBy != "" {
		if !s.columns[entity][o.orderBy] {
			return nil, fmt.Errorf("order by %s.%s: %w", entity, o.orderBy, ErrUnknownEntity)
		}
		query += " ORDER BY " + o.orderBy
		if o.desc {
			query += " DESC"
		}
	}
	if o.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", o.limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", entity, err)
	}
	defer rows.Close()

	cols := schema[entity]
	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", entity, err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", entity, err)
	}
	return out, nil
}

// Insert writes one row and returns its surrogate id.
func (s *SQLStore) Insert(ctx context.Context, entity string, values Record) (int64, error) {
	if err := s.checkEntity(entity); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("insert into %s: no values", entity)
	}

	keys := sortedKeys(values)
	args := newArgs(s.dialect)
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		if !s.columns[entity][k] {
			return 0, fmt.Errorf("insert %s.%s: %w", entity, k, ErrUnknownEntity)
		}
		placeholders[i] = args.add(values[k])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		entity, strings.Join(keys, ", "), strings.Join(placeholders, ", "))

	if s.dialect.returning {
		var id int64
		err := s.conn.QueryRowContext(ctx, query+" RETURNING id", args.values...).Scan(&id)
		if err != nil {
			return 0, s.wrapWriteErr("insert into", entity, err)
		}
		return id, nil
	}

	res, err := s.conn.ExecContext(ctx, query, args.values...)
	if err != nil {
		return 0, s.wrapWriteErr("insert into", entity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s insert id: %w", entity, err)
	}
	return id, nil
}

// Update sets values on every matching row and returns the affected count.
func (s *SQLStore) Update(ctx context.Context, entity string, filter Filter, values Record) (int64, error) {
	if err := s.checkEntity(entity); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	args := newArgs(s.dialect)
	keys := sortedKeys(values)
	sets := make([]string, len(keys))
	for i, k := range keys {
		if !s.columns[entity][k] || k == "id" {
			return 0, fmt.Errorf("update %s.%s: %w", entity, k, ErrUnknownEntity)
		}
		sets[i] = k + " = " + args.add(values[k])
	}

	where, err := s.where(entity, filter, args)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s%s", entity, strings.Join(sets, ", "), where)
	res, err := s.conn.ExecContext(ctx, query, args.values...)
	if err != nil {
		return 0, s.wrapWriteErr("update", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s rows affected: %w", entity, err)
	}
	return n, nil
}

// Count returns the number of matching rows.
func (s *SQLStore) Count(ctx context.Context, entity string, filter Filter) (int, error) {
	if err := s.checkEntity(entity); err != nil {
		return 0, err
	}

	args := newArgs(s.dialect)
	where, err := s.where(entity, filter, args)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", entity, where)
	if err := s.conn.QueryRowContext(ctx, query, args.values...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", entity, err)
	}
	return n, nil
}

func (s *SQLStore) checkEntity(entity string) error {
	if _, ok := s.columns[entity]; !ok {
		return fmt.Errorf("entity %s: %w", entity, ErrUnknownEntity)
	}
	return nil
}

func (s *SQLStore) where(entity string, filter Filter, args *argList) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}

	conds := make([]string, 0, len(filter))
	for _, col := range sortedKeys(filter) {
		if !s.columns[entity][col] {
			return "", fmt.Errorf("filter %s.%s: %w", entity, col, ErrUnknownEntity)
		}

		switch v := filter[col].(type) {
		case nil, nullCond:
			conds = append(conds, col+" IS NULL")
		case likeCond:
			conds = append(conds, col+" LIKE "+args.add(v.pattern))
		case inCond:
			if len(v.values) == 0 {
				conds = append(conds, "1 = 0")
				continue
			}
			ph := make([]string, len(v.values))
			for i, val := range v.values {
				ph[i] = args.add(val)
			}
			conds = append(conds, col+" IN ("+strings.Join(ph, ", ")+")")
		default:
			conds = append(conds, col+" = "+args.add(v))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (s *SQLStore) wrapWriteErr(op, entity string, err error) error {
	if isUniqueViolation(err) {
		s.log.Debug().Err(err).Str("entity", entity).Msg("Unique constraint conflict")
		return fmt.Errorf("%s %s: %w", op, entity, ErrConflict)
	}
	return fmt.Errorf("failed to %s %s: %w", op, entity, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/matchsync/internal/testing"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "matches")
	t.Cleanup(cleanup)
	return NewSQLStore(db, zerolog.Nop())
}

func insertMatch(t *testing.T, s *SQLStore, externalID string, extra Record) int64 {
	t.Helper()
	values := Record{
		"external_id": externalID,
		"status":      "UPCOMING",
		"is_live":     false,
		"is_deleted":  false,
		"created_at":  int64(1000),
		"updated_at":  int64(1000),
	}
	for k, v := range extra {
		values[k] = v
	}
	id, err := s.Insert(context.Background(), EntityMatches, values)
	require.NoError(t, err)
	return id
}

func TestSQLStore_InsertAndFindOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := insertMatch(t, s, "34626187", Record{"bevent_id": "34626187", "title": "India v Australia"})
	assert.Positive(t, id)

	rec, err := s.FindOne(ctx, EntityMatches, Filter{"external_id": "34626187", "is_deleted": false})
	require.NoError(t, err)
	assert.Equal(t, id, rec.Int64("id"))
	assert.Equal(t, "India v Australia", rec.String("title"))
	assert.False(t, rec.Bool("is_live"))
	_, hasStart := rec.Time("start_time")
	assert.False(t, hasStart)

	created, ok := rec.Time("created_at")
	require.True(t, ok)
	assert.Equal(t, int64(1000), created.Unix())
}

func TestSQLStore_FindOne_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindOne(context.Background(), EntityMatches, Filter{"external_id": "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_InsertConflict(t *testing.T) {
	s := newTestStore(t)

	insertMatch(t, s, "100", nil)
	_, err := s.Insert(context.Background(), EntityMatches, Record{
		"external_id": "100",
		"is_deleted":  false,
		"created_at":  int64(1),
		"updated_at":  int64(1),
	})
	assert.ErrorIs(t, err, ErrConflict)

	// A soft-deleted duplicate does not conflict.
	insertMatch(t, s, "100", Record{"is_deleted": true})
}

func TestSQLStore_UpdateAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	matchID := insertMatch(t, s, "prov-1000", nil)
	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, EntityBets, Record{
			"match_id":   matchID,
			"user_id":    "u1",
			"stake":      10.5,
			"status":     "OPEN",
			"created_at": int64(1),
			"updated_at": int64(1),
		})
		require.NoError(t, err)
	}

	n, err := s.Count(ctx, EntityBets, Filter{"match_id": matchID})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	newID := insertMatch(t, s, "34626187", nil)
	affected, err := s.Update(ctx, EntityBets, Filter{"match_id": matchID}, Record{"match_id": newID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	bets, err := s.FindMany(ctx, EntityBets, Filter{"match_id": newID})
	require.NoError(t, err)
	require.Len(t, bets, 3)
	assert.InDelta(t, 10.5, bets[0].Float64("stake"), 0.0001)
}

func TestSQLStore_FindMany_Operators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertMatch(t, s, "prov-1", Record{"updated_at": int64(10)})
	insertMatch(t, s, "prov-2", Record{"updated_at": int64(30)})
	insertMatch(t, s, "777", Record{"updated_at": int64(20)})
	insertMatch(t, s, "prov-3", Record{"is_deleted": true})

	rows, err := s.FindMany(ctx, EntityMatches,
		Filter{"external_id": Like("prov-%"), "is_deleted": false},
		OrderBy("updated_at", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "prov-2", rows[0].String("external_id"))
	assert.Equal(t, "prov-1", rows[1].String("external_id"))

	rows, err = s.FindMany(ctx, EntityMatches, Filter{"external_id": In("777", "prov-1")}, Limit(1))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.FindMany(ctx, EntityMatches, Filter{"external_id": In()})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.FindMany(ctx, EntityMatches, Filter{"start_time": Null})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestSQLStore_RejectsUnknownIdentifiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindMany(ctx, "users", nil)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = s.FindMany(ctx, EntityMatches, Filter{"1=1; DROP TABLE matches; --": 1})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = s.Update(ctx, EntityMatches, Filter{"external_id": "x"}, Record{"id": 5})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = s.FindMany(ctx, EntityMatches, nil, OrderBy("random()", false))
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestArgList_Placeholders(t *testing.T) {
	pg := newArgs(dialect{numbered: true})
	assert.Equal(t, "$1", pg.add("a"))
	assert.Equal(t, "$2", pg.add(true))
	assert.Equal(t, []any{"a", true}, pg.values)

	lite := newArgs(dialect{intBools: true})
	assert.Equal(t, "?", lite.add(true))
	assert.Equal(t, "?", lite.add(false))
	assert.Equal(t, []any{1, 0}, lite.values)
}

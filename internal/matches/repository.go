// Package matches persists MatchRecords and moves their dependents.
// All access composes the generic store primitives, never raw SQL.
package matches

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/store"
)

// Dependent is an entity whose rows reference matches by surrogate id.
type Dependent struct {
	Entity string
	Column string
	// Stamp is the column set to the migration time, if any.
	Stamp string
}

// DefaultDependents lists every entity that references matches.
var DefaultDependents = []Dependent{
	{Entity: store.EntityBets, Column: "match_id", Stamp: "updated_at"},
}

// MigrationResult counts per-row outcomes of a dependent migration.
type MigrationResult struct {
	Migrated int
	Failed   int
}

// Repository handles match persistence.
type Repository struct {
	store      store.Store
	dependents []Dependent
	log        zerolog.Logger
	now        func() time.Time
}

// NewRepository creates a repository. A nil dependents list uses
// DefaultDependents.
func NewRepository(s store.Store, dependents []Dependent, log zerolog.Logger) *Repository {
	if dependents == nil {
		dependents = DefaultDependents
	}
	return &Repository{
		store:      s,
		dependents: dependents,
		log:        log.With().Str("repo", "matches").Logger(),
		now:        time.Now,
	}
}

// FindLive returns the non-deleted match with the given external id.
func (r *Repository) FindLive(ctx context.Context, externalID string) (domain.MatchRecord, error) {
	return r.findOne(ctx, store.Filter{"external_id": externalID, "is_deleted": false})
}

// FindLiveByBEventID returns the oldest non-deleted match with beventID.
func (r *Repository) FindLiveByBEventID(ctx context.Context, beventID string) (domain.MatchRecord, error) {
	if beventID == "" {
		return domain.MatchRecord{}, store.ErrNotFound
	}
	return r.findOne(ctx, store.Filter{"bevent_id": beventID, "is_deleted": false})
}

// FindLiveByAliases returns the oldest non-deleted match whose external id
// is one of aliases.
func (r *Repository) FindLiveByAliases(ctx context.Context, aliases []string) (domain.MatchRecord, error) {
	if len(aliases) == 0 {
		return domain.MatchRecord{}, store.ErrNotFound
	}
	values := make([]any, len(aliases))
	for i, a := range aliases {
		values[i] = a
	}
	return r.findOne(ctx, store.Filter{"external_id": store.In(values...), "is_deleted": false})
}

// Get returns a match by surrogate id, deleted or not.
func (r *Repository) Get(ctx context.Context, id int64) (domain.MatchRecord, error) {
	return r.findOne(ctx, store.Filter{"id": id})
}

// ListPlaceholders returns live matches whose external id starts with any
// of prefixes.
func (r *Repository) ListPlaceholders(ctx context.Context, prefixes []string) ([]domain.MatchRecord, error) {
	var out []domain.MatchRecord
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		rows, err := r.store.FindMany(ctx, store.EntityMatches,
			store.Filter{"external_id": store.Like(prefix + "%"), "is_deleted": false},
			store.OrderBy("id", false))
		if err != nil {
			return nil, fmt.Errorf("failed to list placeholder matches: %w", err)
		}
		for _, row := range rows {
			out = append(out, recordToMatch(row))
		}
	}
	return out, nil
}

// ListByStatus returns live matches in any of statuses, most recently
// updated first. A non-positive limit means no limit.
func (r *Repository) ListByStatus(ctx context.Context, statuses []domain.MatchStatus, limit int) ([]domain.MatchRecord, error) {
	values := make([]any, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	opts := []store.QueryOption{store.OrderBy("updated_at", true)}
	if limit > 0 {
		opts = append(opts, store.Limit(limit))
	}

	rows, err := r.store.FindMany(ctx, store.EntityMatches,
		store.Filter{"status": store.In(values...), "is_deleted": false}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches by status: %w", err)
	}
	out := make([]domain.MatchRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordToMatch(row))
	}
	return out, nil
}

// Create inserts a match for fixture f and returns the stored record.
// ErrConflict means a live record with the same external id already exists.
func (r *Repository) Create(ctx context.Context, f domain.NormalizedFixture) (domain.MatchRecord, error) {
	now := r.now().Unix()
	values := fixtureValues(f)
	values["external_id"] = f.ID
	values["is_deleted"] = false
	values["created_at"] = now
	values["updated_at"] = now

	id, err := r.store.Insert(ctx, store.EntityMatches, values)
	if err != nil {
		return domain.MatchRecord{}, fmt.Errorf("failed to create match %s: %w", f.ID, err)
	}
	return r.Get(ctx, id)
}

// ApplyFixture writes the fixture's descriptive fields and status onto m and
// reports whether anything changed. Empty fixture fields never blank stored
// ones.
func (r *Repository) ApplyFixture(ctx context.Context, m domain.MatchRecord, f domain.NormalizedFixture) (bool, error) {
	changes := diff(m, f)
	if len(changes) == 0 {
		return false, nil
	}
	if err := r.update(ctx, m.ID, changes); err != nil {
		return false, err
	}
	return true, nil
}

// Relabel corrects m's identifiers in place to those of f.
func (r *Repository) Relabel(ctx context.Context, m domain.MatchRecord, f domain.NormalizedFixture) error {
	changes := diff(m, f)
	changes["external_id"] = f.ID
	return r.update(ctx, m.ID, changes)
}

// SoftDelete marks m deleted with an audit remark.
func (r *Repository) SoftDelete(ctx context.Context, id int64, remark string) error {
	return r.update(ctx, id, store.Record{"is_deleted": true, "remarks": remark})
}

func (r *Repository) update(ctx context.Context, id int64, values store.Record) error {
	values["updated_at"] = r.now().Unix()
	n, err := r.store.Update(ctx, store.EntityMatches, store.Filter{"id": id}, values)
	if err != nil {
		return fmt.Errorf("failed to update match %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update match %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// CountDependents returns how many rows across all dependents reference id.
func (r *Repository) CountDependents(ctx context.Context, id int64) (int, error) {
	total := 0
	for _, d := range r.dependents {
		n, err := r.store.Count(ctx, d.Entity, store.Filter{d.Column: id})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s for match %d: %w", d.Entity, id, err)
		}
		total += n
	}
	return total, nil
}

// MigrateDependents repoints every dependent row from one match to another,
// row by row, and counts the outcomes. A row that moved concurrently is
// neither migrated nor failed.
func (r *Repository) MigrateDependents(ctx context.Context, from, to int64) (MigrationResult, error) {
	var res MigrationResult
	for _, d := range r.dependents {
		rows, err := r.store.FindMany(ctx, d.Entity, store.Filter{d.Column: from}, store.OrderBy("id", false))
		if err != nil {
			return res, fmt.Errorf("failed to list %s for match %d: %w", d.Entity, from, err)
		}

		for _, row := range rows {
			rowID := row.Int64("id")
			values := store.Record{d.Column: to}
			if d.Stamp != "" {
				values[d.Stamp] = r.now().Unix()
			}

			n, err := r.store.Update(ctx, d.Entity, store.Filter{"id": rowID, d.Column: from}, values)
			if err != nil {
				res.Failed++
				r.log.Error().
					Err(err).
					Str("entity", d.Entity).
					Int64("row_id", rowID).
					Int64("from_match", from).
					Int64("to_match", to).
					Msg("Failed to migrate dependent")
				continue
			}
			if n > 0 {
				res.Migrated++
			}
		}
	}
	return res, nil
}

// BetsFor returns the bets referencing a match.
func (r *Repository) BetsFor(ctx context.Context, matchID int64) ([]domain.Bet, error) {
	rows, err := r.store.FindMany(ctx, store.EntityBets, store.Filter{"match_id": matchID}, store.OrderBy("id", false))
	if err != nil {
		return nil, fmt.Errorf("failed to list bets for match %d: %w", matchID, err)
	}
	out := make([]domain.Bet, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordToBet(row))
	}
	return out, nil
}

func (r *Repository) findOne(ctx context.Context, filter store.Filter) (domain.MatchRecord, error) {
	row, err := r.store.FindOne(ctx, store.EntityMatches, filter)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MatchRecord{}, store.ErrNotFound
		}
		return domain.MatchRecord{}, fmt.Errorf("failed to find match: %w", err)
	}
	return recordToMatch(row), nil
}

func fixtureValues(f domain.NormalizedFixture) store.Record {
	values := store.Record{
		"bevent_id":  f.BEventID,
		"bmarket_id": f.BMarketID,
		"event_id":   f.EventID,
		"status":     string(f.Status),
		"is_live":    f.IsLive,
		"title":      f.Title,
		"tournament": f.Tournament,
		"home_team":  f.HomeTeam,
		"away_team":  f.AwayTeam,
	}
	if f.StartTime != nil {
		values["start_time"] = f.StartTime.Unix()
	}
	return values
}

// diff returns the columns of m that f would change.
func diff(m domain.MatchRecord, f domain.NormalizedFixture) store.Record {
	changes := store.Record{}
	text := []struct {
		column  string
		current string
		next    string
	}{
		{"bevent_id", m.BEventID, f.BEventID},
		{"bmarket_id", m.BMarketID, f.BMarketID},
		{"event_id", m.EventID, f.EventID},
		{"title", m.Title, f.Title},
		{"tournament", m.Tournament, f.Tournament},
		{"home_team", m.HomeTeam, f.HomeTeam},
		{"away_team", m.AwayTeam, f.AwayTeam},
	}
	for _, t := range text {
		if t.next != "" && t.next != t.current {
			changes[t.column] = t.next
		}
	}
	if f.Status != "" && f.Status != m.Status {
		changes["status"] = string(f.Status)
	}
	if f.IsLive != m.IsLive {
		changes["is_live"] = f.IsLive
	}
	if f.StartTime != nil && (m.StartTime == nil || f.StartTime.Unix() != m.StartTime.Unix()) {
		changes["start_time"] = f.StartTime.Unix()
	}
	return changes
}

func recordToMatch(row store.Record) domain.MatchRecord {
	m := domain.MatchRecord{
		ID:         row.Int64("id"),
		ExternalID: row.String("external_id"),
		BEventID:   row.String("bevent_id"),
		BMarketID:  row.String("bmarket_id"),
		EventID:    row.String("event_id"),
		Status:     domain.MatchStatus(row.String("status")),
		IsLive:     row.Bool("is_live"),
		IsDeleted:  row.Bool("is_deleted"),
		Title:      row.String("title"),
		Tournament: row.String("tournament"),
		HomeTeam:   row.String("home_team"),
		AwayTeam:   row.String("away_team"),
		Remarks:    row.String("remarks"),
	}
	if t, ok := row.Time("start_time"); ok {
		m.StartTime = &t
	}
	m.CreatedAt, _ = row.Time("created_at")
	m.UpdatedAt, _ = row.Time("updated_at")
	return m
}

func recordToBet(row store.Record) domain.Bet {
	b := domain.Bet{
		ID:      row.Int64("id"),
		MatchID: row.Int64("match_id"),
		UserID:  row.String("user_id"),
		Stake:   row.Float64("stake"),
		Status:  row.String("status"),
	}
	b.CreatedAt, _ = row.Time("created_at")
	b.UpdatedAt, _ = row.Time("updated_at")
	return b
}

// Package domain holds the fixture and match types shared by the cache,
// reconciliation and merge layers. The package is pure: no I/O.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoIdentifier is returned when an upstream record carries none of the
// identifier aliases. Such records are discarded.
var ErrNoIdentifier = errors.New("upstream record has no resolvable identifier")

// Identifier aliases in preference order.
var idAliases = []string{"beventId", "eventId", "id"}

// UpstreamRecord is a raw provider payload. Providers expose the same concept
// under several key names, so all access goes through the typed helpers.
type UpstreamRecord map[string]any

// String returns the first non-empty value among keys, formatted as a string.
func (r UpstreamRecord) String(keys ...string) string {
	for _, key := range keys {
		if s, ok := scalarString(r[key]); ok && s != "" {
			return s
		}
	}
	return ""
}

// Bool returns the first boolean-ish value among keys.
func (r UpstreamRecord) Bool(keys ...string) (bool, bool) {
	for _, key := range keys {
		switch v := r[key].(type) {
		case bool:
			return v, true
		case float64:
			return v != 0, true
		case int:
			return v != 0, true
		case int64:
			return v != 0, true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f != 0, true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n":
				return false, true
			}
		}
	}
	return false, false
}

// Time returns the first parseable timestamp among keys. Numeric values are
// epoch seconds, or epoch milliseconds when larger than 1e12.
func (r UpstreamRecord) Time(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch v := r[key].(type) {
		case string:
			if t, ok := parseTimeString(v); ok {
				return t, true
			}
		case float64:
			return epochToTime(int64(v)), true
		case int64:
			return epochToTime(v), true
		case int:
			return epochToTime(int64(v)), true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return epochToTime(n), true
			}
		}
	}
	return time.Time{}, false
}

// ResolveID picks the canonical identifier: beventId, then eventId, then id.
func ResolveID(rec UpstreamRecord) (string, bool) {
	id := rec.String(idAliases...)
	return id, id != ""
}

// NormalizedFixture is the typed view of one upstream record. It is rebuilt
// on every refresh cycle and never patched in place.
type NormalizedFixture struct {
	ID         string         `json:"id" msgpack:"id"`
	BEventID   string         `json:"beventId,omitempty" msgpack:"beventId,omitempty"`
	BMarketID  string         `json:"bmarketId,omitempty" msgpack:"bmarketId,omitempty"`
	EventID    string         `json:"eventId,omitempty" msgpack:"eventId,omitempty"`
	Status     MatchStatus    `json:"status" msgpack:"status"`
	IsLive     bool           `json:"isLive" msgpack:"isLive"`
	Title      string         `json:"title,omitempty" msgpack:"title,omitempty"`
	Tournament string         `json:"tournament,omitempty" msgpack:"tournament,omitempty"`
	HomeTeam   string         `json:"homeTeam,omitempty" msgpack:"homeTeam,omitempty"`
	AwayTeam   string         `json:"awayTeam,omitempty" msgpack:"awayTeam,omitempty"`
	StartTime  *time.Time     `json:"startTime,omitempty" msgpack:"startTime,omitempty"`
	Raw        UpstreamRecord `json:"raw,omitempty" msgpack:"raw,omitempty"`
}

// Normalizer converts upstream records. The zero value derives statuses with
// DefaultLiveWindow.
type Normalizer struct {
	LiveWindow time.Duration
}

// Normalize converts an upstream record with the default Normalizer.
func Normalize(rec UpstreamRecord, now time.Time) (NormalizedFixture, error) {
	return Normalizer{}.Normalize(rec, now)
}

// NormalizeAll normalizes a batch with the default Normalizer.
func NormalizeAll(records []UpstreamRecord, now time.Time) ([]NormalizedFixture, int) {
	return Normalizer{}.NormalizeAll(records, now)
}

// Normalize converts an upstream record into a NormalizedFixture.
func (n Normalizer) Normalize(rec UpstreamRecord, now time.Time) (NormalizedFixture, error) {
	id, ok := ResolveID(rec)
	if !ok {
		return NormalizedFixture{}, ErrNoIdentifier
	}

	raw := make(UpstreamRecord, len(rec))
	for k, v := range rec {
		raw[k] = v
	}

	f := NormalizedFixture{
		ID:         id,
		BEventID:   rec.String("beventId"),
		BMarketID:  rec.String("bmarketId", "marketId"),
		EventID:    rec.String("eventId"),
		Title:      rec.String("title", "eventName", "name"),
		Tournament: rec.String("tournament", "competition", "competitionName", "league"),
		HomeTeam:   rec.String("homeTeam", "home", "team1"),
		AwayTeam:   rec.String("awayTeam", "away", "team2"),
		Raw:        raw,
	}
	if f.Title == "" && f.HomeTeam != "" && f.AwayTeam != "" {
		f.Title = f.HomeTeam + " v " + f.AwayTeam
	}
	if start, ok := rec.Time(startTimeAliases...); ok {
		f.StartTime = &start
	}
	f.Status = DeriveStatus(rec, now, n.LiveWindow)
	f.IsLive = f.Status == StatusLive

	return f, nil
}

// NormalizeAll normalizes a batch, skipping records without an identifier.
// The number of skipped records is returned so callers can log it.
func (n Normalizer) NormalizeAll(records []UpstreamRecord, now time.Time) ([]NormalizedFixture, int) {
	out := make([]NormalizedFixture, 0, len(records))
	skipped := 0
	for _, rec := range records {
		f, err := n.Normalize(rec, now)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, f)
	}
	return out, skipped
}

// DedupKey returns the cross-source identity of a fixture.
func (f NormalizedFixture) DedupKey() string {
	if f.BEventID != "" {
		return f.BEventID
	}
	return f.BMarketID
}

// View converts the fixture into a merge row.
func (f NormalizedFixture) View(source string, updatedAt time.Time) FixtureView {
	return FixtureView{
		Key:        f.ID,
		BEventID:   f.BEventID,
		BMarketID:  f.BMarketID,
		Status:     f.Status,
		IsLive:     f.IsLive,
		Title:      f.Title,
		Tournament: f.Tournament,
		HomeTeam:   f.HomeTeam,
		AwayTeam:   f.AwayTeam,
		StartTime:  f.StartTime,
		UpdatedAt:  updatedAt,
		Source:     source,
	}
}

// IsPlaceholder reports whether id was assigned speculatively, before the
// true upstream identifier was known.
func IsPlaceholder(id string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// PlaceholderAliases lists the placeholder identifiers a record for this
// fixture could have been created under. Placeholders are minted from the
// eventId only; market ids and raw ids live in other namespaces and may share
// digits with an unrelated event.
func PlaceholderAliases(f NormalizedFixture, prefixes []string) []string {
	if f.EventID == "" || IsPlaceholder(f.EventID, prefixes) {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		candidate := prefix + f.EventID
		if !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}

var startTimeAliases = []string{"startTime", "openDate", "start_time", "eventDate", "scheduledAt"}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int8, int16, int32, uint8, uint16, uint32, uint64, float32:
		return fmt.Sprint(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochToTime(n), true
	}
	return time.Time{}, false
}

func epochToTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

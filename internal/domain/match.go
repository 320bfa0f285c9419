package domain

import "time"

// MatchRecord is the durable fixture row. At most one non-deleted record
// exists per external identifier; superseded records are soft-deleted.
type MatchRecord struct {
	ID         int64
	ExternalID string
	BEventID   string
	BMarketID  string
	EventID    string
	Status     MatchStatus
	IsLive     bool
	IsDeleted  bool
	Title      string
	Tournament string
	HomeTeam   string
	AwayTeam   string
	StartTime  *time.Time
	Remarks    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// View converts the record into a merge row.
func (m MatchRecord) View(source string) FixtureView {
	return FixtureView{
		Key:        m.ExternalID,
		BEventID:   m.BEventID,
		BMarketID:  m.BMarketID,
		Status:     m.Status,
		IsLive:     m.IsLive,
		Title:      m.Title,
		Tournament: m.Tournament,
		HomeTeam:   m.HomeTeam,
		AwayTeam:   m.AwayTeam,
		StartTime:  m.StartTime,
		UpdatedAt:  m.UpdatedAt,
		Source:     source,
	}
}

// Bet is a financial record referencing a MatchRecord by surrogate id.
// Stake and payout arithmetic live elsewhere; this service only ever moves
// MatchID between records.
type Bet struct {
	ID        int64
	MatchID   int64
	UserID    string
	Stake     float64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FixtureView is one row of the merged fixture list.
type FixtureView struct {
	Key        string      `json:"key"`
	BEventID   string      `json:"beventId,omitempty"`
	BMarketID  string      `json:"bmarketId,omitempty"`
	Status     MatchStatus `json:"status"`
	IsLive     bool        `json:"isLive"`
	Title      string      `json:"title,omitempty"`
	Tournament string      `json:"tournament,omitempty"`
	HomeTeam   string      `json:"homeTeam,omitempty"`
	AwayTeam   string      `json:"awayTeam,omitempty"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Source     string      `json:"source"`
}

// DedupKey returns beventId, falling back to bmarketId.
func (v FixtureView) DedupKey() string {
	if v.BEventID != "" {
		return v.BEventID
	}
	return v.BMarketID
}

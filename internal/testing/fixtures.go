package testing

import (
	"fmt"
	"time"

	"github.com/aristath/matchsync/internal/domain"
)

// NewUpstreamRecords returns n provider records with distinct identifiers,
// starting an hour apart from start.
func NewUpstreamRecords(n int, start time.Time) []domain.UpstreamRecord {
	teams := [][2]string{
		{"India", "Australia"},
		{"England", "New Zealand"},
		{"Pakistan", "South Africa"},
		{"Sri Lanka", "West Indies"},
	}

	records := make([]domain.UpstreamRecord, 0, n)
	for i := 0; i < n; i++ {
		pair := teams[i%len(teams)]
		records = append(records, domain.UpstreamRecord{
			"beventId":   fmt.Sprintf("%d", 34626000+i),
			"eventId":    fmt.Sprintf("%d", 1000+i),
			"bmarketId":  fmt.Sprintf("1.%d", 200000+i),
			"homeTeam":   pair[0],
			"awayTeam":   pair[1],
			"tournament": "Test Series",
			"startTime":  start.Add(time.Duration(i) * time.Hour).UTC().Format(time.RFC3339),
		})
	}
	return records
}

// NewUpstreamRecord returns a single provider record.
func NewUpstreamRecord(beventID, eventID, status string) domain.UpstreamRecord {
	rec := domain.UpstreamRecord{
		"eventId":    eventID,
		"homeTeam":   "India",
		"awayTeam":   "Australia",
		"tournament": "Test Series",
	}
	if beventID != "" {
		rec["beventId"] = beventID
	}
	if status != "" {
		rec["status"] = status
	}
	return rec
}

// NewNormalizedFixtures normalizes records, failing loudly on malformed input.
func NewNormalizedFixtures(records []domain.UpstreamRecord, now time.Time) []domain.NormalizedFixture {
	fixtures, skipped := domain.NormalizeAll(records, now)
	if skipped > 0 {
		panic(fmt.Sprintf("fixture records without identifiers: %d", skipped))
	}
	return fixtures
}

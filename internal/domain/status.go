package domain

import (
	"strings"
	"time"
)

// MatchStatus is the lifecycle state of a fixture.
type MatchStatus string

const (
	StatusUpcoming  MatchStatus = "UPCOMING"
	StatusLive      MatchStatus = "LIVE"
	StatusCompleted MatchStatus = "COMPLETED"
	StatusSettled   MatchStatus = "SETTLED"
	StatusCanceled  MatchStatus = "CANCELED"
	StatusAbandoned MatchStatus = "ABANDONED"
	StatusSuspended MatchStatus = "SUSPENDED"
	StatusPostponed MatchStatus = "POSTPONED"
)

// DefaultLiveWindow is how long after kick-off a fixture without an explicit
// status is still considered live.
const DefaultLiveWindow = 4 * time.Hour

// statusAliases maps normalized upstream status strings to a MatchStatus.
var statusAliases = map[string]MatchStatus{
	"upcoming":    StatusUpcoming,
	"not_started": StatusUpcoming,
	"notstarted":  StatusUpcoming,
	"scheduled":   StatusUpcoming,
	"prematch":    StatusUpcoming,
	"pre_match":   StatusUpcoming,
	"open":        StatusUpcoming,
	"live":        StatusLive,
	"in_play":     StatusLive,
	"inplay":      StatusLive,
	"in_progress": StatusLive,
	"started":     StatusLive,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"finished":    StatusCompleted,
	"ended":       StatusCompleted,
	"closed":      StatusCompleted,
	"ft":          StatusCompleted,
	"settled":     StatusSettled,
	"canceled":    StatusCanceled,
	"cancelled":   StatusCanceled,
	"abandoned":   StatusAbandoned,
	"suspended":   StatusSuspended,
	"postponed":   StatusPostponed,
}

// ParseStatus maps an explicit upstream status string.
func ParseStatus(s string) (MatchStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return "", false
	}
	status, ok := statusAliases[key]
	return status, ok
}

// overrideFlags are checked in order; the first raised flag wins over any
// mapped or time-derived status.
var overrideFlags = []struct {
	keys   []string
	status MatchStatus
}{
	{[]string{"isCancelled", "isCanceled", "cancelled", "canceled"}, StatusCanceled},
	{[]string{"isAbandoned", "abandoned"}, StatusAbandoned},
	{[]string{"isPostponed", "postponed"}, StatusPostponed},
	{[]string{"isSuspended", "suspended"}, StatusSuspended},
}

// DeriveStatus is the status state machine: override flags, then the explicit
// status string, then the live flag, then start time against now. A
// non-positive liveWindow means DefaultLiveWindow.
func DeriveStatus(rec UpstreamRecord, now time.Time, liveWindow time.Duration) MatchStatus {
	for _, flag := range overrideFlags {
		if raised, ok := rec.Bool(flag.keys...); ok && raised {
			return flag.status
		}
	}

	if status, ok := ParseStatus(rec.String("status", "matchStatus", "eventStatus", "state")); ok {
		return status
	}

	if live, ok := rec.Bool("isLive", "inPlay", "inplay"); ok && live {
		return StatusLive
	}

	start, ok := rec.Time(startTimeAliases...)
	if !ok {
		return StatusUpcoming
	}
	return StatusFromTime(start, now, liveWindow)
}

// StatusFromTime derives a status from kick-off time alone. Anything before
// kick-off is upcoming; the fixture stays live for liveWindow after it.
func StatusFromTime(start, now time.Time, liveWindow time.Duration) MatchStatus {
	if liveWindow <= 0 {
		liveWindow = DefaultLiveWindow
	}
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.Before(start.Add(liveWindow)):
		return StatusLive
	default:
		return StatusCompleted
	}
}

// Priority orders statuses for display: live first, then upcoming, then
// completed, then everything else.
func (s MatchStatus) Priority() int {
	switch s {
	case StatusLive:
		return 3
	case StatusUpcoming:
		return 2
	case StatusCompleted:
		return 1
	default:
		return 0
	}
}

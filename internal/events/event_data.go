// Package events carries cross-instance "data changed" notifications.
// Delivery is at-least-once with no ordering. Every consumer also polls on
// its own timer.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channels.
const (
	// FixturesUpdated fires after a fixtures snapshot was written.
	FixturesUpdated = "fixtures:updated"
	// MatchesSynced fires after a reconciliation tick changed rows.
	MatchesSynced = "matches:synced"
	// FixturesRefreshRequested asks any instance to refresh fixtures.
	FixturesRefreshRequested = "fixtures:refresh-requested"
)

// Envelope is the small JSON payload published on every channel.
type Envelope struct {
	EventID string `json:"eventId,omitempty"`
	TS      int64  `json:"ts"`
	Count   *int   `json:"count,omitempty"`
	Source  string `json:"source,omitempty"`
}

// NewEnvelope stamps an envelope with the current time in milliseconds.
func NewEnvelope(source string) Envelope {
	return Envelope{TS: time.Now().UnixMilli(), Source: source}
}

// WithCount returns a copy carrying count.
func (e Envelope) WithCount(count int) Envelope {
	e.Count = &count
	return e
}

// WithEventID returns a copy carrying eventID.
func (e Envelope) WithEventID(eventID string) Envelope {
	e.EventID = eventID
	return e
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a published payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return e, nil
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/merge"
	"github.com/aristath/matchsync/internal/queue"
)

// FixturesResponse is the body of GET /api/fixtures.
type FixturesResponse struct {
	Count    int                  `json:"count"`
	Fixtures []domain.FixtureView `json:"fixtures"`
}

// LiveSnapshotResponse is the body of GET /api/fixtures/live.
type LiveSnapshotResponse struct {
	Confirmed  bool                       `json:"confirmed"`
	Refreshing bool                       `json:"refreshing"`
	FetchedAt  *time.Time                 `json:"fetched_at,omitempty"`
	TTLSeconds int64                      `json:"ttl_seconds"`
	Count      int                        `json:"count"`
	Fixtures   []domain.NormalizedFixture `json:"fixtures"`
}

// RefreshResponse is the body of POST /api/fixtures/refresh.
type RefreshResponse struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Duplicate bool   `json:"duplicate"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	Database      string  `json:"database,omitempty"`
	InstanceID    string  `json:"instance_id"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	MemoryPercent float64 `json:"memory_percent"`
}

// handleListFixtures handles GET /api/fixtures
func (s *Server) handleListFixtures(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows := s.cfg.Fixtures.List(r.Context(), opts)
	s.writeJSON(w, http.StatusOK, FixturesResponse{Count: len(rows), Fixtures: rows})
}

func parseListOptions(r *http.Request) (merge.Options, error) {
	q := r.URL.Query()
	var opts merge.Options

	if v := q.Get("status"); v != "" {
		status, ok := domain.ParseStatus(v)
		if !ok {
			return opts, fmt.Errorf("unknown status %q", v)
		}
		opts.Status = status
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"live", &opts.LiveOnly},
		{"upcoming", &opts.UpcomingOnly},
		{"completed", &opts.CompletedOnly},
	}
	for _, f := range flags {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s flag %q", f.name, v)
		}
		*f.dst = b
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}

	return opts, nil
}

// handleLiveSnapshot handles GET /api/fixtures/live
func (s *Server) handleLiveSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Live.Get(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read fixtures snapshot")
		s.writeError(w, http.StatusServiceUnavailable, "fixtures cache unavailable")
		return
	}

	resp := LiveSnapshotResponse{
		Confirmed:  snap.Confirmed,
		Refreshing: s.cfg.Live.Refreshing(),
		Count:      len(snap.Fixtures),
		Fixtures:   snap.Fixtures,
	}
	if resp.Fixtures == nil {
		resp.Fixtures = []domain.NormalizedFixture{}
	}
	if !snap.FetchedAt.IsZero() {
		fetchedAt := snap.FetchedAt
		resp.FetchedAt = &fetchedAt
	}
	if ttl, err := s.cfg.Live.TTL(r.Context()); err == nil {
		resp.TTLSeconds = int64(ttl / time.Second)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleRefresh handles POST /api/fixtures/refresh. The optional eventId
// (query or JSON body) only narrows the dedup key; a refresh always
// reloads the whole snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" && r.ContentLength != 0 {
		var body struct {
			EventID string `json:"eventId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		eventID = body.EventID
	}
	eventID = strings.TrimSpace(eventID)

	target := eventID
	if target == "" {
		target = "all"
	}

	job, err := s.cfg.Queues.Enqueue(r.Context(), queue.QueueFixtures, queue.JobTypeFixturesRefresh,
		map[string]interface{}{"eventId": eventID, "requestedBy": "api"},
		queue.Options{JobID: "refresh:" + target})

	duplicate := errors.Is(err, queue.ErrDuplicateJob)
	if err != nil && !duplicate {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("Failed to enqueue refresh")
		s.writeError(w, http.StatusServiceUnavailable, "failed to enqueue refresh")
		return
	}

	s.writeJSON(w, http.StatusAccepted, RefreshResponse{
		JobID:     job.ID,
		State:     string(job.State()),
		Duplicate: duplicate,
	})
}

// handleQueues handles GET /api/queues
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Queues.Status())
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Service:       "matchsync",
		InstanceID:    s.cfg.InstanceID,
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
		Goroutines:    runtime.NumGoroutine(),
	}

	// Memory statistics are instant, no sampling interval
	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemoryPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	status := http.StatusOK
	if s.cfg.Database != nil {
		resp.Database = "ok"
		if err := s.cfg.Database.HealthCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("Database health check failed")
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, status, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/matchsync/internal/domain"
)

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(Config{URL: url, Timeout: timeout, RetryDelay: 5 * time.Millisecond}, zerolog.Nop())
}

func TestFetchFixtures_Array(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"beventId": 34626187, "status": "live"}, {"eventId": "1001"}]`))
	}))
	defer server.Close()

	records, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	id, ok := domain.ResolveID(records[0])
	require.True(t, ok)
	assert.Equal(t, "34626187", id)
	assert.Equal(t, json.Number("34626187"), records[0]["beventId"])
}

func TestFetchFixtures_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"data", `{"data": [{"id": "a"}, {"id": "b"}]}`, 2},
		{"events", `{"events": [{"id": "a"}]}`, 1},
		{"confirmed empty", `[]`, 0},
		{"empty data", `{"data": []}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			records, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, records)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestFetchFixtures_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`[{"id": "x"}]`))
		}
	}))
	defer server.Close()

	records, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchFixtures_GivesUpAfterThreeTries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(MaxTries), calls.Load())
}

func TestFetchFixtures_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchFixtures_TimeoutIsRetriedThenFails(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newTestClient(server.URL, 30*time.Millisecond).FetchFixtures(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(MaxTries), calls.Load())
}

func TestFetchFixtures_MalformedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, time.Second).FetchFixtures(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMaxFetchDuration(t *testing.T) {
	c := NewClient(Config{URL: "http://localhost", Timeout: 10 * time.Second, RetryDelay: time.Second}, zerolog.Nop())

	// Three 10s tries, then waits of at most 1.5s and 2.25s.
	assert.Equal(t, 33750*time.Millisecond, c.MaxFetchDuration())

	c = NewClient(Config{URL: "http://localhost"}, zerolog.Nop())
	assert.Equal(t, 33750*time.Millisecond, c.MaxFetchDuration(), "defaults")
}

func TestDecodeRecords(t *testing.T) {
	_, err := DecodeRecords([]byte(`   `))
	assert.Error(t, err)

	_, err = DecodeRecords([]byte(`{"items": []}`))
	assert.Error(t, err)

	records, err := DecodeRecords([]byte(`{"data": [{"beventId": 12345678901234}]}`))
	require.NoError(t, err)
	id, _ := domain.ResolveID(records[0])
	assert.Equal(t, "12345678901234", id)
}

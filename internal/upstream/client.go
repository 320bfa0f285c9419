// Package upstream fetches raw fixture records from the sports data provider.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/domain"
)

// ErrUnavailable is returned when the provider could not be reached after
// all retries, or answered with a non-retryable error.
var ErrUnavailable = errors.New("upstream unavailable")

// MaxTries is the number of attempts per fetch (one call plus two retries).
const MaxTries = 3

// maxBodySize caps how much of a response is read.
const maxBodySize = 32 << 20

// Config configures a Client.
type Config struct {
	URL        string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Client is the fixtures provider client.
type Client struct {
	url        string
	timeout    time.Duration
	retryDelay time.Duration
	client     *http.Client
	log        zerolog.Logger
}

// NewClient creates a provider client with an explicit per-request timeout.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Client{
		url:        cfg.URL,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("client", "upstream").Logger(),
	}
}

// MaxFetchDuration bounds one FetchFixtures call: every try running into the
// request timeout, plus the longest randomized wait between tries.
func (c *Client) MaxFetchDuration() time.Duration {
	total := time.Duration(MaxTries) * c.timeout
	interval := float64(c.retryDelay)
	for i := 1; i < MaxTries; i++ {
		total += time.Duration(interval * (1 + backoff.DefaultRandomizationFactor))
		interval = math.Min(interval*backoff.DefaultMultiplier, float64(backoff.DefaultMaxInterval))
	}
	return total
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.code)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// FetchFixtures returns every record the provider currently lists.
// Network errors, timeouts, 5xx, 429 and 408 are retried with exponential
// backoff; other failures are returned immediately. Every returned error
// wraps ErrUnavailable.
func (c *Client) FetchFixtures(ctx context.Context) ([]domain.UpstreamRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay

	attempt := 0
	records, err := backoff.Retry(ctx, func() ([]domain.UpstreamRecord, error) {
		attempt++
		return c.fetchOnce(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("Upstream fetch failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.log.Debug().
		Int("records", len(records)).
		Int("attempts", attempt).
		Msg("Fetched fixtures")
	return records, nil
}

func (c *Client) fetchOnce(ctx context.Context) ([]domain.UpstreamRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &statusError{code: resp.StatusCode}
		if retryable(resp.StatusCode) {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return records, nil
}

// DecodeRecords accepts a bare JSON array or an object wrapping it under
// "data" or "events". Numbers are kept as json.Number so large identifiers
// survive intact.
func DecodeRecords(body []byte) ([]domain.UpstreamRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("failed to parse response: empty body")
	}

	if body[0] == '[' {
		var records []domain.UpstreamRecord
		if err := decodeNumbers(body, &records); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		return nonNil(records), nil
	}

	var envelope struct {
		Data   []domain.UpstreamRecord `json:"data"`
		Events []domain.UpstreamRecord `json:"events"`
	}
	if err := decodeNumbers(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	if envelope.Events != nil {
		return envelope.Events, nil
	}
	return nil, fmt.Errorf("failed to parse response: no data or events array")
}

func decodeNumbers(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func nonNil(records []domain.UpstreamRecord) []domain.UpstreamRecord {
	if records == nil {
		return []domain.UpstreamRecord{}
	}
	return records
}

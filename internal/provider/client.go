// Package provider talks to the recording platform's REST API.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/npezzotti/meeting-relay/internal/stats"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	appSessionsPath  = "/api/v1/app_sessions"
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
	breakerName      = "attendee-api"
)

// ErrUpstream wraps every failure to obtain a usable response from the
// recording platform, including an open circuit.
var ErrUpstream = errors.New("upstream request failed")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client registers app sessions. Calls are bounded by Config.Timeout and
// guarded by a circuit breaker; nothing is retried.
type Client struct {
	log     zerolog.Logger
	stats   stats.StatsProvider
	http    *http.Client
	baseURL string
	apiKey  string
	cb      *gobreaker.CircuitBreaker[map[string]any]
}

func NewClient(cfg Config, logger zerolog.Logger, sp stats.StatsProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if sp == nil {
		sp = stats.NoopStats{}
	}
	sp.RegisterMetric(stats.RegistrationFailures)

	c := &Client{
		log:     logger,
		stats:   sp,
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}

	c.cb = gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return c
}

type registerRequest struct {
	ZoomRTMS map[string]any `json:"zoom_rtms"`
}

// RegisterSession creates an app session for the meeting described by
// zoomRTMS and returns the platform's response body.
func (c *Client) RegisterSession(ctx context.Context, zoomRTMS map[string]any) (map[string]any, error) {
	resp, err := c.cb.Execute(func() (map[string]any, error) {
		return c.post(ctx, appSessionsPath, registerRequest{ZoomRTMS: zoomRTMS})
	})
	if err != nil {
		c.stats.Incr(stats.RegistrationFailures)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	c.log.Debug().
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("upstream response")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, res.StatusCode, truncate(payload, 256))
	}

	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package nazk provides the NAZK public declarations API client with
// request pacing, bounded retry, and error classification.
package nazk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openveris/nazk-harvester/pkg/logging"
)

// Prometheus metrics for API client operations.
var (
	nazkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nazk_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	nazkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nazk_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	nazkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nazk_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// defaultUserAgents is the rotation pool used when the config provides none.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the public API, e.g. "https://public-api.nazk.gov.ua/v2".
	BaseURL string

	// RequestsPerSecond is the outbound request ceiling shared by all
	// goroutines using this client.
	RequestsPerSecond float64

	// Timeout applies per request attempt.
	Timeout time.Duration

	// UserAgents rotated across attempts. Defaults to a builtin pool.
	UserAgents []string

	// Retry controls the bounded backoff loop for transient failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		RequestsPerSecond: 0.5,
		Timeout:           30 * time.Second,
		Retry:             DefaultRetryConfig(),
	}
}

// Client is the NAZK API client. It never mutates shared pipeline state and
// is safe for concurrent use; all callers share its rate limiter.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
	uaCounter  atomic.Uint32
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		config:  cfg,
		logger:  logging.NewLogger("nazk-client"),
	}, nil
}

// Search fetches one page of document summaries. The second return value
// reports whether more pages may follow; the remote API signals exhaustion
// with an empty page rather than a count.
func (c *Client) Search(ctx context.Context, filters SearchFilters, page int) ([]Summary, bool, error) {
	body, err := c.getJSON(ctx, "/documents/list", filters.QueryParams(page))
	if err != nil {
		return nil, false, err
	}

	summaries, err := decodeSearchBody(body)
	if err != nil {
		return nil, false, err
	}

	c.logger.Debug().
		Int("page", page).
		Int("records", len(summaries)).
		Msg("Search page fetched")

	return summaries, len(summaries) > 0, nil
}

// FetchDetail fetches the full record for a document identifier. The raw
// payload is returned verbatim so the write path can preserve it. A missing
// document surfaces as ErrNotFound, never retried.
func (c *Client) FetchDetail(ctx context.Context, documentID string) (json.RawMessage, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	body, err := c.getJSON(ctx, "/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: document %s", ErrMalformedResponse, documentID)
	}

	return json.RawMessage(body), nil
}

// getJSON performs a paced GET with the bounded retry loop. Each attempt
// waits for a rate limiter slot before going out, so retries and concurrent
// callers never exceed the configured ceiling.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	start := time.Now()
	defer func() {
		nazkRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	reqURL := strings.TrimRight(c.config.BaseURL, "/") + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte

	err := retryWithBackoff(ctx, c.config.Retry, func(attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.nextUserAgent())
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Language", "uk-UA,uk;q=0.9,en;q=0.8")

		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Msg("Executing API request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			nazkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			nazkRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		nazkRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			nazkErrorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("API request error")
			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: class,
				Message:    resp.Status,
			}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			nazkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}

		body = data
		return nil
	}, classifyError)

	if err != nil {
		return nil, err
	}
	return body, nil
}

// nextUserAgent rotates through the configured pool. Rotation happens per
// attempt, so a retried request goes out under a different identity.
func (c *Client) nextUserAgent() string {
	idx := c.uaCounter.Add(1)
	return c.config.UserAgents[int(idx)%len(c.config.UserAgents)]
}

// classifyStatus categorizes an HTTP status for retry decisions.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError maps an attempt error to its class for the retry loop.
func classifyError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	// ErrNotFound and decode failures are terminal.
	return ErrorClassClient
}

// Package client fetches single pages from a paginated HTTP search API with
// bounded retry and optional shared rate limit tracking.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/search-stream/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultSearchEndpoint is the GitHub repository search API.
const DefaultSearchEndpoint = "https://api.github.com/search/repositories"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 10 << 20

// Prometheus metrics for search client operations.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Total search requests by HTTP status",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_request_duration_seconds",
		Help:    "Page fetch duration in seconds (all attempts) by outcome",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_errors_total",
		Help: "Total search errors by class",
	}, []string{"class"})
)

// RateLimiter gates requests on a rate limit window shared between clients.
// *ratelimit.Tracker implements it.
type RateLimiter interface {
	// ShouldAllowRequest reports whether a request may be sent now. It may
	// block while throttling.
	ShouldAllowRequest(ctx context.Context) (bool, error)

	// UpdateFromHeaders records the window reported by a response.
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Config holds the client configuration.
type Config struct {
	// SearchEndpoint is the absolute URL the query is appended to as ?q=.
	SearchEndpoint string

	// UserAgent header sent with every request.
	UserAgent string

	// HTTPClient performs the GET requests. Defaults to a client with Timeout.
	HTTPClient *http.Client

	// Timeout for the default HTTPClient.
	Timeout time.Duration

	Retry RetryConfig

	// RetryMalformed makes decode and Link header failures consume the retry
	// budget like transport failures do.
	RetryMalformed bool

	// RateLimits is optional shared rate limit tracking. While it reports an
	// exhausted window FetchPage returns OutcomeRateLimited without a request.
	RateLimits RateLimiter

	// Logger defaults to logging.NewLogger("search-client").
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration for the given User-Agent.
func DefaultConfig(userAgent string) Config {
	return Config{
		SearchEndpoint: DefaultSearchEndpoint,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		Retry:          DefaultRetryConfig(),
		RetryMalformed: true,
	}
}

// Client fetches and classifies search result pages.
type Client struct {
	httpClient  *http.Client
	endpoint    *url.URL
	rateLimiter RateLimiter
	config      Config
	logger      zerolog.Logger
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.SearchEndpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}

	endpoint, err := url.Parse(cfg.SearchEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	if !endpoint.IsAbs() {
		return nil, fmt.Errorf("search endpoint must be an absolute URL (got %q)", cfg.SearchEndpoint)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := logging.NewLogger("search-client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient:  httpClient,
		endpoint:    endpoint,
		rateLimiter: cfg.RateLimits,
		config:      cfg,
		logger:      logger,
	}, nil
}

// SearchURL returns the first page URL for query. Existing query parameters
// of the endpoint are kept.
func (c *Client) SearchURL(query string) (*url.URL, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return &u, nil
}

// FetchPage performs one GET of pageURL, retrying transient failures within
// the configured budget.
//
// A rate limited response (or an exhausted shared window) returns
// OutcomeRateLimited with a nil error. When the retry budget runs out the
// outcome is OutcomeServiceUnavailable together with the last error. A
// cancelled ctx returns an error wrapping ErrContextCancelled.
func (c *Client) FetchPage(ctx context.Context, pageURL *url.URL) (PageOutcome, error) {
	start := time.Now()
	result := OutcomeServiceUnavailable
	defer func() {
		searchRequestDuration.WithLabelValues(result.String()).Observe(time.Since(start).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		switch {
		case ctx.Err() != nil:
			return PageOutcome{}, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case err != nil:
			c.logger.Warn().Err(err).Msg("Rate limit check failed, sending request anyway")
		case !allowed:
			searchRequestsTotal.WithLabelValues("rate_limited").Inc()
			result = OutcomeRateLimited
			return PageOutcome{Kind: OutcomeRateLimited}, nil
		}
	}

	c.logger.Debug().Str("url", pageURL.String()).Msg("Fetching page")

	var outcome PageOutcome
	err := retryWithBackoff(ctx, c.logger, c.config.Retry, func() error {
		o, err := c.attempt(ctx, pageURL)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	}, func(class ErrorClass) bool {
		return shouldRetry(class, c.config.RetryMalformed)
	})

	if err != nil {
		if errors.Is(err, ErrContextCancelled) {
			c.logger.Debug().Str("url", pageURL.String()).Msg("Page fetch cancelled")
			return PageOutcome{}, err
		}
		c.logger.Error().
			Err(err).
			Str("url", pageURL.String()).
			Str("error_class", string(ClassOf(err))).
			Msg("Page fetch failed")
		return PageOutcome{Kind: OutcomeServiceUnavailable}, err
	}

	result = outcome.Kind
	return outcome, nil
}

// attempt performs a single GET and classifies the response.
func (c *Client) attempt(ctx context.Context, pageURL *url.URL) (PageOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return PageOutcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return PageOutcome{}, ctx.Err()
		}
		searchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		searchRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("url", pageURL.String()).Msg("HTTP request failed")
		return PageOutcome{}, &SearchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	searchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return PageOutcome{}, ctx.Err()
		}
		searchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return PageOutcome{}, &SearchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	outcome, err := Classify(resp.StatusCode, resp.Header, body)
	if err != nil {
		class := ClassOf(err)
		searchErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Err(err).
			Str("url", pageURL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Search response rejected")
		return PageOutcome{}, err
	}

	if outcome.Kind == OutcomeRateLimited {
		c.logger.Warn().Str("url", pageURL.String()).Msg("Search API rate limit exceeded")
	}

	return outcome, nil
}

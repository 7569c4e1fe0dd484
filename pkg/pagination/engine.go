package pagination

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/Sternrassler/search-stream/pkg/client"
	"github.com/Sternrassler/search-stream/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Run results recorded in search_runs_total.
const (
	ResultExhausted    = "exhausted"
	ResultMaxPages     = "max_pages"
	ResultRateLimited  = "rate_limited"
	ResultOffline      = "offline"
	ResultCancelled    = "cancelled"
	ResultSignalClosed = "signal_closed"
)

var (
	searchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_runs_total",
		Help: "Total pagination runs by how they ended",
	}, []string{"result"})

	searchPagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_pages_fetched_total",
		Help: "Total result pages fetched successfully",
	})
)

// PageFetcher is implemented by client.Client.
type PageFetcher interface {
	// SearchURL builds the first page URL for query.
	SearchURL(query string) (*url.URL, error)

	// FetchPage fetches and classifies one page.
	FetchPage(ctx context.Context, pageURL *url.URL) (client.PageOutcome, error)
}

// Config holds engine configuration.
type Config struct {
	// PageTimeout bounds a single page fetch including retries. Zero disables it.
	PageTimeout time.Duration

	// MaxPages ends a run after this many pages. Zero means no limit.
	MaxPages int

	// Logger defaults to logging.NewLogger("pagination").
	Logger *zerolog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PageTimeout: 30 * time.Second,
	}
}

// Engine runs paginated searches.
type Engine struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(fetcher PageFetcher, config Config) *Engine {
	if config.PageTimeout < 0 {
		config.PageTimeout = 0
	}
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	logger := logging.NewLogger("pagination")
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Engine{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Run starts a run for query and returns its snapshots. The empty State is
// already buffered on the returned channel when Run returns.
//
// After each page that links to another one the run waits for a value on
// next. Closing next or cancelling ctx ends the run; after ctx is cancelled no
// further State is sent. The channel is closed when the run ends.
func (e *Engine) Run(ctx context.Context, query string, next <-chan struct{}) (<-chan State, error) {
	firstURL, err := e.fetcher.SearchURL(query)
	if err != nil {
		return nil, fmt.Errorf("build search url: %w", err)
	}

	out := make(chan State, 1)
	out <- EmptyState()

	go e.run(ctx, query, firstURL, next, out)

	return out, nil
}

func (e *Engine) run(ctx context.Context, query string, pageURL *url.URL, next <-chan struct{}, out chan<- State) {
	defer close(out)

	logger := e.logger.With().Str("query", query).Logger()
	logger.Info().Msg("Search run started")

	items := []client.Item{}
	result := ResultCancelled
	defer func() {
		searchRunsTotal.WithLabelValues(result).Inc()
		logger.Info().
			Str("result", result).
			Int("items", len(items)).
			Msg("Search run finished")
	}()

	for page := 1; ; page++ {
		outcome, err := e.fetch(ctx, pageURL)
		if ctx.Err() != nil {
			return
		}

		var state State
		done := true

		switch {
		case err != nil || outcome.Kind == client.OutcomeServiceUnavailable:
			logger.Warn().
				Err(err).
				Int("page", page).
				Str("url", pageURL.String()).
				Msg("Search service unavailable, ending run")
			state = State{Items: items, Status: StatusOffline}
			result = ResultOffline

		case outcome.Kind == client.OutcomeRateLimited:
			logger.Warn().Int("page", page).Msg("Search rate limit exceeded, ending run")
			state = State{Items: items, Status: StatusOnline, LimitExceeded: true}
			result = ResultRateLimited

		default:
			searchPagesFetchedTotal.Inc()
			// Clip forces a copy so earlier snapshots keep their own backing array.
			items = append(slices.Clip(items), outcome.Items...)
			state = State{Items: items, Status: StatusOnline}

			switch {
			case outcome.NextURL == nil:
				result = ResultExhausted
			case e.config.MaxPages > 0 && page >= e.config.MaxPages:
				result = ResultMaxPages
			default:
				done = false
				pageURL = outcome.NextURL
			}

			logger.Debug().
				Int("page", page).
				Int("page_items", len(outcome.Items)).
				Int("items", len(items)).
				Bool("has_next", !done).
				Msg("Page fetched")
		}

		if !emit(ctx, out, state) {
			result = ResultCancelled
			return
		}
		if done {
			return
		}

		logger.Debug().Int("page", page).Msg("Waiting for next page signal")
		select {
		case <-ctx.Done():
			return
		case _, ok := <-next:
			if !ok {
				result = ResultSignalClosed
				return
			}
		}
	}
}

func (e *Engine) fetch(ctx context.Context, pageURL *url.URL) (client.PageOutcome, error) {
	if e.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.PageTimeout)
		defer cancel()
	}
	return e.fetcher.FetchPage(ctx, pageURL)
}

// emit sends state unless ctx is done first.
func emit(ctx context.Context, out chan<- State, state State) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- state:
		return true
	case <-ctx.Done():
		return false
	}
}

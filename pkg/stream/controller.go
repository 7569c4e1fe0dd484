// Package stream turns a stream of query strings into a single stream of
// search snapshots, restarting the pagination run whenever the query changes.
package stream

import (
	"context"
	"fmt"

	"github.com/Sternrassler/search-stream/pkg/logging"
	"github.com/Sternrassler/search-stream/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var searchQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "search_queries_total",
	Help: "Total query changes seen by the stream controller",
}, []string{"kind"})

// Runner starts one pagination run. *pagination.Engine implements it.
type Runner interface {
	Run(ctx context.Context, query string, next <-chan struct{}) (<-chan pagination.State, error)
}

// Controller owns at most one active run at a time.
type Controller struct {
	runner Runner
	logger zerolog.Logger
}

// NewController creates a controller. A nil logger defaults to
// logging.NewLogger("stream").
func NewController(runner Runner, logger *zerolog.Logger) *Controller {
	l := logging.NewLogger("stream")
	if logger != nil {
		l = *logger
	}
	return &Controller{runner: runner, logger: l}
}

// activeRun is the run whose snapshots are currently forwarded.
type activeRun struct {
	cancel context.CancelFunc
	states <-chan pagination.State
	next   chan struct{}
	// armed is set once the consumer has received a page of this run and
	// cleared when a continuation is forwarded.
	armed      bool
	nextClosed bool
}

func (r *activeRun) closeNext() {
	if !r.nextClosed {
		close(r.next)
		r.nextClosed = true
	}
}

func (r *activeRun) stop() {
	if r != nil {
		r.cancel()
	}
}

// Run consumes queries and nextPage until ctx is done or queries is closed
// and the last run has ended. The returned channel never carries errors:
// an empty query, or a run that fails to start, yields the empty State.
//
// Each new query cancels the previous run before any of the new run's
// snapshots are sent, so snapshots of different runs never interleave.
// A nextPage event is forwarded only after the consumer has received a
// page of the current run; events arriving earlier are dropped. Once
// nextPage is closed, runs end after their current page.
func (c *Controller) Run(ctx context.Context, queries <-chan string, nextPage <-chan struct{}) <-chan pagination.State {
	out := make(chan pagination.State)

	go func() {
		defer close(out)

		var run *activeRun
		defer func() { run.stop() }()

		send := func(state pagination.State) bool {
			select {
			case out <- state:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			if queries == nil && run == nil {
				return
			}

			var states <-chan pagination.State
			if run != nil {
				states = run.states
			}

			select {
			case <-ctx.Done():
				return

			case query, ok := <-queries:
				if !ok {
					queries = nil
					continue
				}

				run.stop()
				run = nil

				if query == "" {
					searchQueriesTotal.WithLabelValues("empty").Inc()
					c.logger.Debug().Msg("Query cleared")
					if !send(pagination.EmptyState()) {
						return
					}
					continue
				}

				searchQueriesTotal.WithLabelValues("search").Inc()
				started, err := c.start(ctx, query)
				if err != nil {
					c.logger.Error().Err(err).Str("query", query).Msg("Failed to start search run")
					if !send(pagination.EmptyState()) {
						return
					}
					continue
				}
				if nextPage == nil {
					started.closeNext()
				}
				run = started

			case _, ok := <-nextPage:
				if !ok {
					nextPage = nil
					if run != nil {
						run.closeNext()
					}
					continue
				}
				if run == nil || !run.armed {
					continue
				}
				select {
				case run.next <- struct{}{}:
					run.armed = false
				default:
				}

			case state, ok := <-states:
				if !ok {
					run.stop()
					run = nil
					continue
				}
				if !send(state) {
					return
				}
				if state.Status != pagination.StatusUnknown {
					run.armed = true
				}
			}
		}
	}()

	return out
}

// start begins a run, converting a panicking runner into an error.
func (c *Controller) start(ctx context.Context, query string) (run *activeRun, err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
		if err != nil {
			cancel()
			run = nil
		}
	}()

	next := make(chan struct{}, 1)
	states, err := c.runner.Run(runCtx, query, next)
	if err != nil {
		return nil, err
	}

	return &activeRun{cancel: cancel, states: states, next: next}, nil
}

// Command search-stream runs paginated searches typed on stdin.
//
// Each input line is a query; a line containing only "+" loads the next page
// of the current query and an empty line clears it. Every snapshot is printed
// as a summary line followed by the items it added.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/search-stream/pkg/client"
	"github.com/Sternrassler/search-stream/pkg/logging"
	"github.com/Sternrassler/search-stream/pkg/metrics"
	"github.com/Sternrassler/search-stream/pkg/pagination"
	"github.com/Sternrassler/search-stream/pkg/ratelimit"
	"github.com/Sternrassler/search-stream/pkg/stream"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// nextPageCommand is the input line that requests the next page.
const nextPageCommand = "+"

type appConfig struct {
	SearchEndpoint string
	UserAgent      string
	RedisURL       string
	MetricsAddr    string
	MaxAttempts    int
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	logging.Setup(logging.ConfigFromEnv(os.Getenv))
	logger := logging.NewLogger("cli")

	cfg, err := loadConfig(getEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		logger.Fatal().Err(err).Msg("search-stream failed")
	}
}

func loadConfig(getenv func(key, defaultValue string) string) (appConfig, error) {
	maxAttempts, err := strconv.Atoi(getenv("MAX_ATTEMPTS", "3"))
	if err != nil {
		return appConfig{}, fmt.Errorf("parse MAX_ATTEMPTS: %w", err)
	}

	return appConfig{
		SearchEndpoint: getenv("SEARCH_ENDPOINT", client.DefaultSearchEndpoint),
		UserAgent:      getenv("USER_AGENT", "search-stream/0.1.0"),
		RedisURL:       getenv("REDIS_URL", ""),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		MaxAttempts:    maxAttempts,
	}, nil
}

func run(ctx context.Context, cfg appConfig, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	clientCfg := client.DefaultConfig(cfg.UserAgent)
	clientCfg.SearchEndpoint = cfg.SearchEndpoint
	clientCfg.Retry.MaxAttempts = cfg.MaxAttempts

	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Sharing rate limit state through Redis")
		clientCfg.RateLimits = ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))
	}

	searchClient, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create search client: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving /health and /metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	engine := pagination.NewEngine(searchClient, pagination.DefaultConfig())
	controller := stream.NewController(engine, nil)

	queries := make(chan string)
	nextPage := make(chan struct{})
	go readCommands(ctx, in, queries, nextPage)

	logger.Info().
		Str("endpoint", cfg.SearchEndpoint).
		Str("user_agent", cfg.UserAgent).
		Msg("Reading queries from stdin")

	p := &printer{w: out}
	for state := range controller.Run(ctx, queries, nextPage) {
		p.print(state)
	}

	return nil
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// parseCommand interprets one input line.
func parseCommand(line string) (query string, next bool) {
	line = strings.TrimSpace(line)
	if line == nextPageCommand {
		return "", true
	}
	return line, false
}

// readCommands feeds input lines to the controller and closes both channels
// at end of input.
func readCommands(ctx context.Context, in io.Reader, queries chan<- string, nextPage chan<- struct{}) {
	defer close(queries)
	defer close(nextPage)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		query, next := parseCommand(scanner.Text())

		if next {
			select {
			case nextPage <- struct{}{}:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case queries <- query:
		case <-ctx.Done():
			return
		}
	}
}

// printer writes snapshots, listing only the items each one added.
type printer struct {
	w       io.Writer
	printed int
}

func (p *printer) print(state pagination.State) {
	if state.IsEmpty() {
		p.printed = 0
		fmt.Fprintln(p.w, "-- no results")
		return
	}

	summary := fmt.Sprintf("-- %d items, service %s", len(state.Items), state.Status)
	if state.LimitExceeded {
		summary += ", rate limit exceeded"
	}
	fmt.Fprintln(p.w, summary)

	if p.printed > len(state.Items) {
		p.printed = 0
	}
	for _, item := range state.Items[p.printed:] {
		fmt.Fprintf(p.w, "   %s  %s\n", item.Name, item.URL)
	}
	p.printed = len(state.Items)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package pagination

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/search-stream/internal/testutil"
	"github.com/Sternrassler/search-stream/pkg/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fetchFunc func(ctx context.Context) (client.PageOutcome, error)

// scriptedFetcher serves canned outcomes keyed by page URL.
type scriptedFetcher struct {
	mu    sync.Mutex
	pages map[string]fetchFunc
	calls atomic.Int32
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{pages: make(map[string]fetchFunc)}
}

func (f *scriptedFetcher) SearchURL(query string) (*url.URL, error) {
	return url.Parse("https://api.x/search?q=" + url.QueryEscape(query))
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, pageURL *url.URL) (client.PageOutcome, error) {
	f.calls.Add(1)
	f.mu.Lock()
	fn, ok := f.pages[pageURL.String()]
	f.mu.Unlock()
	if !ok {
		return client.PageOutcome{Kind: client.OutcomeServiceUnavailable}, errors.New("unexpected url " + pageURL.String())
	}
	return fn(ctx)
}

func (f *scriptedFetcher) set(rawURL string, fn fetchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[rawURL] = fn
}

func (f *scriptedFetcher) page(rawURL, next string, names ...string) {
	outcome := client.PageOutcome{Kind: client.OutcomePage, Items: items(names...)}
	if next != "" {
		outcome.NextURL, _ = url.Parse(next)
	}
	f.set(rawURL, func(context.Context) (client.PageOutcome, error) { return outcome, nil })
}

func (f *scriptedFetcher) outcome(rawURL string, kind client.OutcomeKind, err error) {
	f.set(rawURL, func(context.Context) (client.PageOutcome, error) {
		return client.PageOutcome{Kind: kind}, err
	})
}

func items(names ...string) []client.Item {
	out := make([]client.Item, 0, len(names))
	for _, n := range names {
		out = append(out, client.Item{Name: n, URL: "https://example.com/" + n})
	}
	return out
}

func names(s State) []string {
	out := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.Name)
	}
	return out
}

func newTestEngine(f PageFetcher, cfg Config) *Engine {
	logger := zerolog.Nop()
	cfg.Logger = &logger
	return NewEngine(f, cfg)
}

func receive(t *testing.T, states <-chan State) State {
	t.Helper()
	select {
	case s, ok := <-states:
		require.True(t, ok, "states channel closed, expected a snapshot")
		return s
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for snapshot")
		return State{}
	}
}

func requireClosed(t *testing.T, states <-chan State) {
	t.Helper()
	select {
	case s, ok := <-states:
		require.False(t, ok, "expected closed channel, got snapshot %+v", s)
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for run to end")
	}
}

func requireSilent(t *testing.T, states <-chan State) {
	t.Helper()
	select {
	case s, ok := <-states:
		if ok {
			require.FailNow(t, "unexpected snapshot", "%+v", s)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

const (
	page1 = "https://api.x/search?q=go"
	page2 = "https://api.x/page/2"
	page3 = "https://api.x/page/3"
)

func TestRun_FirstStateIsEmptyAndImmediate(t *testing.T) {
	f := newScriptedFetcher()
	block := make(chan struct{})
	defer close(block)
	f.set(page1, func(ctx context.Context) (client.PageOutcome, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return client.PageOutcome{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states, err := newTestEngine(f, DefaultConfig()).Run(ctx, "go", nil)
	require.NoError(t, err)

	select {
	case s := <-states:
		assert.True(t, s.IsEmpty())
		assert.NotNil(t, s.Items)
		assert.Equal(t, StatusUnknown, s.Status)
		assert.False(t, s.LimitExceeded)
	default:
		t.Fatal("empty state was not available synchronously")
	}
}

func TestRun_PaginatesOnSignal(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a", "b")
	f.page(page2, page3, "c")
	f.page(page3, "", "d", "e")

	next := make(chan struct{})
	states, err := newTestEngine(f, DefaultConfig()).Run(context.Background(), "go", next)
	require.NoError(t, err)

	assert.True(t, receive(t, states).IsEmpty())

	s1 := receive(t, states)
	assert.Equal(t, []string{"a", "b"}, names(s1))
	assert.Equal(t, StatusOnline, s1.Status)

	// Suspended until the consumer asks for more.
	requireSilent(t, states)
	assert.EqualValues(t, 1, f.calls.Load())

	next <- struct{}{}
	s2 := receive(t, states)
	assert.Equal(t, []string{"a", "b", "c"}, names(s2))

	next <- struct{}{}
	s3 := receive(t, states)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names(s3))
	assert.Equal(t, StatusOnline, s3.Status)
	assert.False(t, s3.LimitExceeded)

	requireClosed(t, states)
	assert.EqualValues(t, 3, f.calls.Load())

	// Earlier snapshots are prefixes and were not mutated by later appends.
	assert.Equal(t, []string{"a", "b"}, names(s1))
	assert.Equal(t, s2.Items, s3.Items[:len(s2.Items)])
}

func TestRun_NoNextRelationStops(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, "", "only")

	states, err := newTestEngine(f, DefaultConfig()).Run(context.Background(), "go", make(chan struct{}))
	require.NoError(t, err)

	var emitted []State
	for s := range states {
		emitted = append(emitted, s)
	}

	require.Len(t, emitted, 2)
	assert.True(t, emitted[0].IsEmpty())
	assert.Equal(t, []string{"only"}, names(emitted[1]))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestRun_RateLimitedKeepsEarlierPages(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a", "b")
	f.page(page2, page3, "c")
	f.outcome(page3, client.OutcomeRateLimited, nil)

	next := make(chan struct{}, 2)
	next <- struct{}{}
	next <- struct{}{}

	states, err := newTestEngine(f, DefaultConfig()).Run(context.Background(), "go", next)
	require.NoError(t, err)

	var last State
	for s := range states {
		last = s
	}

	assert.True(t, last.LimitExceeded)
	assert.Equal(t, StatusOnline, last.Status)
	assert.Equal(t, []string{"a", "b", "c"}, names(last))
}

func TestRun_FailureBecomesOffline(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a")
	f.outcome(page2, client.OutcomeServiceUnavailable, client.ErrRetryExhausted)

	next := make(chan struct{}, 1)
	next <- struct{}{}

	states, err := newTestEngine(f, DefaultConfig()).Run(context.Background(), "go", next)
	require.NoError(t, err)

	receive(t, states)
	receive(t, states)
	last := receive(t, states)
	assert.Equal(t, StatusOffline, last.Status)
	assert.False(t, last.LimitExceeded)
	assert.Equal(t, []string{"a"}, names(last))
	requireClosed(t, states)
}

func TestRun_CancelWhileWaitingForSignal(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a")
	f.page(page2, "", "b")

	ctx, cancel := context.WithCancel(context.Background())
	next := make(chan struct{})

	states, err := newTestEngine(f, DefaultConfig()).Run(ctx, "go", next)
	require.NoError(t, err)

	receive(t, states)
	receive(t, states)

	cancel()
	requireClosed(t, states)

	select {
	case next <- struct{}{}:
		t.Fatal("cancelled run still accepted a continuation signal")
	case <-time.After(50 * time.Millisecond):
	}
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestRun_ClosedSignalEndsRun(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a")
	f.page(page2, "", "b")

	next := make(chan struct{})
	states, err := newTestEngine(f, DefaultConfig()).Run(context.Background(), "go", next)
	require.NoError(t, err)

	receive(t, states)
	receive(t, states)
	close(next)

	requireClosed(t, states)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestRun_CancelDuringFetchEmitsNothing(t *testing.T) {
	f := newScriptedFetcher()
	started := make(chan struct{})
	f.set(page1, func(ctx context.Context) (client.PageOutcome, error) {
		close(started)
		<-ctx.Done()
		return client.PageOutcome{}, client.ErrContextCancelled
	})

	ctx, cancel := context.WithCancel(context.Background())
	states, err := newTestEngine(f, DefaultConfig()).Run(ctx, "go", nil)
	require.NoError(t, err)

	assert.True(t, receive(t, states).IsEmpty())
	<-started
	cancel()

	requireClosed(t, states)
}

func TestRun_MaxPages(t *testing.T) {
	f := newScriptedFetcher()
	f.page(page1, page2, "a")
	f.page(page2, page3, "b")
	f.page(page3, "", "c")

	next := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		next <- struct{}{}
	}

	cfg := DefaultConfig()
	cfg.MaxPages = 2
	states, err := newTestEngine(f, cfg).Run(context.Background(), "go", next)
	require.NoError(t, err)

	var last State
	for s := range states {
		last = s
	}
	assert.Equal(t, []string{"a", "b"}, names(last))
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestRun_PageTimeoutBecomesOffline(t *testing.T) {
	f := newScriptedFetcher()
	f.set(page1, func(ctx context.Context) (client.PageOutcome, error) {
		<-ctx.Done()
		return client.PageOutcome{}, client.ErrContextCancelled
	})

	cfg := DefaultConfig()
	cfg.PageTimeout = 50 * time.Millisecond
	states, err := newTestEngine(f, cfg).Run(context.Background(), "go", nil)
	require.NoError(t, err)

	receive(t, states)
	last := receive(t, states)
	assert.Equal(t, StatusOffline, last.Status)
	requireClosed(t, states)
}

func TestRun_SearchURLError(t *testing.T) {
	_, err := newTestEngine(badURLFetcher{}, DefaultConfig()).Run(context.Background(), "go", nil)
	require.Error(t, err)
}

type badURLFetcher struct{}

func (badURLFetcher) SearchURL(string) (*url.URL, error) {
	return nil, errors.New("bad endpoint")
}

func (badURLFetcher) FetchPage(context.Context, *url.URL) (client.PageOutcome, error) {
	return client.PageOutcome{}, errors.New("not reached")
}

func newHTTPEngine(t *testing.T, mock *testutil.MockSearchAPI) *Engine {
	t.Helper()
	logger := zerolog.Nop()
	cfg := client.DefaultConfig("search-stream-test/1.0")
	cfg.SearchEndpoint = mock.SearchURL()
	cfg.Retry = client.RetryConfig{MaxAttempts: 3}
	cfg.Logger = &logger

	c, err := client.New(cfg)
	require.NoError(t, err)
	return newTestEngine(c, DefaultConfig())
}

func TestRun_HTTP_EscapesQuery(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(1, testutil.NewPageResponse("", "a"))

	states, err := newHTTPEngine(t, mock).Run(context.Background(), "a b", nil)
	require.NoError(t, err)
	for range states {
	}

	uris := mock.GetRequestURIs()
	require.Len(t, uris, 1)
	assert.NotContains(t, uris[0], " ")
	assert.True(t, strings.Contains(uris[0], "q=a+b") || strings.Contains(uris[0], "q=a%20b"), uris[0])
}

func TestRun_HTTP_ThreeTransientFailuresGoOffline(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(1, testutil.NewPageResponse(mock.PageURL(2), "a", "b"))
	mock.SetSequence(testutil.PagePath(2),
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewPageResponse("", "never"),
	)

	next := make(chan struct{}, 1)
	next <- struct{}{}

	states, err := newHTTPEngine(t, mock).Run(context.Background(), "go", next)
	require.NoError(t, err)

	var emitted []State
	for s := range states {
		emitted = append(emitted, s)
	}

	require.Len(t, emitted, 3)
	last := emitted[2]
	assert.Equal(t, StatusOffline, last.Status)
	assert.Equal(t, []string{"a", "b"}, names(last))
	assert.Equal(t, 4, mock.GetRequestCount())
}

func TestRun_HTTP_LinkHeaderWithoutTokenEndsRun(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	page := testutil.NewPageResponse("", "a")
	page.Headers["Link"] = "garbage"
	mock.SetPage(1, page)

	states, err := newHTTPEngine(t, mock).Run(context.Background(), "go", make(chan struct{}))
	require.NoError(t, err)

	var emitted []State
	for s := range states {
		emitted = append(emitted, s)
	}

	require.Len(t, emitted, 2)
	last := emitted[1]
	assert.Equal(t, StatusOnline, last.Status)
	assert.False(t, last.LimitExceeded)
	assert.Equal(t, []string{"a"}, names(last))
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestRun_HTTP_RateLimitAtSecondPage(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(1, testutil.NewPageResponse(mock.PageURL(2), "a"))
	mock.SetPage(2, testutil.NewRateLimitResponse())

	next := make(chan struct{}, 1)
	next <- struct{}{}

	states, err := newHTTPEngine(t, mock).Run(context.Background(), "go", next)
	require.NoError(t, err)

	var last State
	for s := range states {
		last = s
	}
	assert.True(t, last.LimitExceeded)
	assert.Equal(t, []string{"a"}, names(last))
	assert.Equal(t, 2, mock.GetRequestCount())
}

func TestRun_HTTP_CancelBeforeSignalStopsFetching(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(1, testutil.NewPageResponse(mock.PageURL(2), "a"))
	mock.SetPage(2, testutil.NewPageResponse("", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	states, err := newHTTPEngine(t, mock).Run(ctx, "go", make(chan struct{}))
	require.NoError(t, err)

	receive(t, states)
	receive(t, states)
	cancel()
	requireClosed(t, states)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestServiceStatus_String(t *testing.T) {
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "online", StatusOnline.String())
	assert.Equal(t, "offline", StatusOffline.String())
}

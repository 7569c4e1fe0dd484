// Package testutil provides a mock paginated search API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// SearchPath is the path of the first result page.
const SearchPath = "/search/repositories"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSearchAPI is a configurable mock search server for testing.
type MockSearchAPI struct {
	server    *httptest.Server
	mu        sync.RWMutex
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	sequences map[string][]MockResponse

	// Tracking
	RequestCount      int
	RequestURIs       []string
	LastRequestHeader http.Header
}

// NewMockSearchAPI creates and starts a new mock search server.
func NewMockSearchAPI() *MockSearchAPI {
	mock := &MockSearchAPI{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		sequences: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestURIs = append(mock.RequestURIs, r.URL.RequestURI())
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// SearchURL returns the search endpoint (first page) URL.
func (m *MockSearchAPI) SearchURL() string {
	return m.server.URL + SearchPath
}

// PagePath returns the path of page n. Page 1 is SearchPath.
func PagePath(n int) string {
	if n <= 1 {
		return SearchPath
	}
	return fmt.Sprintf("%s/page/%d", SearchPath, n)
}

// PageURL returns the absolute URL of page n.
func (m *MockSearchAPI) PageURL(n int) string {
	return m.server.URL + PagePath(n)
}

// Close shuts down the mock server.
func (m *MockSearchAPI) Close() {
	m.server.Close()
}

func (m *MockSearchAPI) setHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

func (m *MockSearchAPI) setResponse(path string, resp MockResponse) {
	m.setHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, resp)
	})
}

// SetSequence serves the given responses for path in order; the last one
// repeats once the sequence is used up.
func (m *MockSearchAPI) SetSequence(path string, responses ...MockResponse) {
	m.mu.Lock()
	m.sequences[path] = responses
	m.mu.Unlock()

	m.setHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		seq := m.sequences[path]
		resp := seq[0]
		if len(seq) > 1 {
			m.sequences[path] = seq[1:]
		}
		m.mu.Unlock()

		writeResponse(w, r, resp)
	})
}

// SetPage configures page n.
func (m *MockSearchAPI) SetPage(n int, resp MockResponse) {
	m.setResponse(PagePath(n), resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSearchAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestURIs returns the request URIs received so far, in order.
func (m *MockSearchAPI) GetRequestURIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.RequestURIs...)
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func resetIn(d time.Duration) string {
	return strconv.FormatInt(time.Now().Add(d).Unix(), 10)
}

type mockItem struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// itemsBody builds a search response body with one item per name. Each item
// gets url "https://example.com/<name>" and an extra field that clients ignore.
func itemsBody(names ...string) string {
	items := make([]mockItem, 0, len(names))
	for _, name := range names {
		items = append(items, mockItem{
			Name:        name,
			URL:         "https://example.com/" + name,
			Description: "repository " + name,
		})
	}

	body, _ := json.Marshal(map[string]any{
		"total_count":        len(items),
		"incomplete_results": false,
		"items":              items,
	})
	return string(body)
}

// NewPageResponse creates a 200 OK page. A non-empty next adds a Link header
// with rel="next".
func NewPageResponse(next string, names ...string) MockResponse {
	headers := map[string]string{
		"Content-Type":          "application/json; charset=utf-8",
		"X-RateLimit-Limit":     "10",
		"X-RateLimit-Remaining": "9",
		"X-RateLimit-Reset":     resetIn(time.Minute),
	}
	if next != "" {
		headers["Link"] = fmt.Sprintf(`<%s>; rel="next", <%s>; rel="last"`, next, next)
	}

	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       itemsBody(names...),
		Headers:    headers,
	}
}

// NewRateLimitResponse creates a 403 rate limit response with a non-JSON body.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       "API rate limit exceeded",
		Headers: map[string]string{
			"Content-Type":          "text/plain",
			"X-RateLimit-Limit":     "10",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     resetIn(time.Minute),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not a search result.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"message": "unexpected"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

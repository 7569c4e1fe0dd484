package client

import "net/url"

// Item is one search result entry.
type Item struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// OutcomeKind tags the variant held by a PageOutcome.
type OutcomeKind int

const (
	// OutcomeServiceUnavailable means the response was malformed, non-2xx, or
	// could not be fetched within the retry budget.
	OutcomeServiceUnavailable OutcomeKind = iota

	// OutcomePage carries a page of items and an optional next page URL.
	OutcomePage

	// OutcomeRateLimited means the search API refused the request with 403.
	OutcomeRateLimited
)

// String returns the outcome kind name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomePage:
		return "page"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// PageOutcome is the result of fetching one page. Items and NextURL are only
// set when Kind is OutcomePage; a nil NextURL means there are no more pages.
type PageOutcome struct {
	Kind    OutcomeKind
	Items   []Item
	NextURL *url.URL
}

// HasNext reports whether another page can be requested.
func (o PageOutcome) HasNext() bool {
	return o.Kind == OutcomePage && o.NextURL != nil
}

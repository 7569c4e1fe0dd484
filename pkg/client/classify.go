package client

import (
	"encoding/json"
	"net/http"

	"github.com/Sternrassler/search-stream/pkg/linkheader"
)

// Classify turns a raw response into a PageOutcome.
//
// 403 is reported as OutcomeRateLimited before the body is looked at, since a
// rate limit body need not be JSON. Other non-2xx statuses return an
// ErrorClassHTTP error; a body that is not {"items": [{"name": "...", "url": "..."}]}
// returns ErrorClassDecode; an unparseable Link header returns ErrorClassLinkHeader.
func Classify(status int, header http.Header, body []byte) (PageOutcome, error) {
	if status == http.StatusForbidden {
		return PageOutcome{Kind: OutcomeRateLimited}, nil
	}

	if status < 200 || status >= 300 {
		return PageOutcome{}, &SearchError{
			StatusCode: status,
			ErrorClass: ErrorClassHTTP,
			Message:    http.StatusText(status),
		}
	}

	items, err := parseItems(status, body)
	if err != nil {
		return PageOutcome{}, err
	}

	next, err := linkheader.NextURL(header)
	if err != nil {
		return PageOutcome{}, &SearchError{
			StatusCode: status,
			ErrorClass: ErrorClassLinkHeader,
			Message:    "parse Link header",
			Err:        err,
		}
	}

	return PageOutcome{Kind: OutcomePage, Items: items, NextURL: next}, nil
}

func parseItems(status int, body []byte) ([]Item, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		e := decodeError(status, "response is not a JSON object")
		e.Err = err
		return nil, e
	}
	if root == nil {
		return nil, decodeError(status, "response is not a JSON object")
	}

	rawItems, ok := root["items"]
	if !ok {
		return nil, decodeError(status, "missing items")
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawItems, &entries); err != nil || entries == nil {
		return nil, decodeError(status, "items is not an array")
	}

	items := make([]Item, 0, len(entries))
	for i, raw := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return nil, decodeError(status, "item %d is not an object", i)
		}

		name, ok := stringField(fields, "name")
		if !ok {
			return nil, decodeError(status, "item %d: name is missing or not a string", i)
		}
		u, ok := stringField(fields, "url")
		if !ok {
			return nil, decodeError(status, "item %d: url is missing or not a string", i)
		}

		items = append(items, Item{Name: name, URL: u})
	}

	return items, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

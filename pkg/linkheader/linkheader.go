// Package linkheader parses RFC 8288 style HTTP Link headers as returned by
// paginated search APIs, e.g.
//
//	<https://api.example.com/search?q=go&page=2>; rel="next", <https://api.example.com/search?q=go&page=5>; rel="last"
package linkheader

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// RelNext is the relation naming the following page.
const RelNext = "next"

// ErrMalformedLinkHeader indicates a Link header that could not be parsed.
var ErrMalformedLinkHeader = errors.New("malformed link header")

var linkPattern = regexp.MustCompile(`\s*,?\s*<([^>]*)>\s*;\s*rel="([^"]*)"`)

// Parse maps every relation in raw to its URL. Later duplicates overwrite
// earlier ones. A header without any <url>; rel="name" token yields an empty
// map, the same as an empty header.
func Parse(raw string) (map[string]string, error) {
	links := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return links, nil
	}

	for _, m := range linkPattern.FindAllStringSubmatch(raw, -1) {
		if len(m) != 3 {
			return nil, fmt.Errorf("%w: expected url and relation, got %d groups", ErrMalformedLinkHeader, len(m)-1)
		}
		links[m[2]] = m[1]
	}

	return links, nil
}

// NextURL returns the "next" relation of the response's Link header.
// A missing header or a header without a next relation returns nil, nil.
func NextURL(header http.Header) (*url.URL, error) {
	raw := strings.Join(header.Values("Link"), ", ")
	if raw == "" {
		return nil, nil
	}

	links, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	next, ok := links[RelNext]
	if !ok {
		return nil, nil
	}

	u, err := url.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("%w: next url %q: %v", ErrMalformedLinkHeader, next, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: next url %q is not absolute", ErrMalformedLinkHeader, next)
	}

	return u, nil
}

package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key builds the deterministic cache key for a request. Two requests
// that differ only in query parameter order map to the same key.
//
// Format: fetch:METHOD:url:query1=val1:query2=val2
//
// Example:
//
//	fetch:GET:https://docs.example.com/api/pages:lang=en:page=2
func Key(method, rawURL string, query url.Values) string {
	parts := []string{"fetch", strings.ToUpper(method)}

	// Strip any query string from the URL itself; the canonical query
	// comes in separately so ordering cannot leak into the key.
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		u, err := url.Parse(rawURL)
		if err == nil {
			merged := u.Query()
			for k, vs := range query {
				for _, v := range vs {
					merged.Add(k, v)
				}
			}
			query = merged
			u.RawQuery = ""
			rawURL = u.String()
		}
	}
	parts = append(parts, rawURL)

	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), query[name]...)
			sort.Strings(values)
			for _, v := range values {
				parts = append(parts, fmt.Sprintf("%s=%s", name, v))
			}
		}
	}

	return strings.Join(parts, ":")
}

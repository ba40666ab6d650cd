// Package endpoint defines the (source, endpoint) key that scopes all
// per-endpoint state: circuit breakers, rate-limit windows, and metrics
// labels all use the same key so a flaky endpoint never bleeds into a
// healthy sibling on the same source.
package endpoint

import "strings"

// Key identifies a single endpoint of an external documentation source.
type Key struct {
	// Source is the configured source name (e.g., "github-api").
	Source string

	// Name is the endpoint name within the source (e.g., "list-releases").
	Name string
}

// String returns the canonical serialized form "source:endpoint".
// Colons inside the parts are replaced so the result stays unambiguous.
func (k Key) String() string {
	source := strings.ReplaceAll(k.Source, ":", "_")
	name := strings.ReplaceAll(k.Name, ":", "_")
	return source + ":" + name
}

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool {
	return k.Source == "" && k.Name == ""
}

package router

import (
	"github.com/searchktools/crane/core/http"
)

// route binds an exact path to its handler
type route struct {
	pattern string
	handler http.Handler
}

// Table is an ordered list of exact-match routes plus an optional default
// handler.
//
// A Table is built before the server starts and only read afterwards, so
// lookups from concurrent workers need no locking. Register and SetDefault
// must not be called once serving has begun.
type Table struct {
	routes   []route
	fallback http.Handler
}

// NewTable creates an empty route table
func NewTable() *Table {
	return &Table{
		routes: make([]route, 0, 8),
	}
}

// Register appends a route. Patterns are not deduplicated: when two routes
// share a pattern the one registered first always wins.
func (t *Table) Register(pattern string, handler http.Handler) *Table {
	t.routes = append(t.routes, route{pattern: pattern, handler: handler})
	return t
}

// SetDefault sets the handler used when no pattern matches
func (t *Table) SetDefault(handler http.Handler) *Table {
	t.fallback = handler
	return t
}

// Lookup returns the handler of the first route whose pattern equals path
// byte for byte, falling back to the default handler. ok is false when
// neither exists.
func (t *Table) Lookup(path string) (h http.Handler, ok bool) {
	// Linear scan keeps registration order authoritative
	for i := range t.routes {
		if t.routes[i].pattern == path {
			return t.routes[i].handler, true
		}
	}

	if t.fallback != nil {
		return t.fallback, true
	}
	return nil, false
}

// Len returns the number of registered routes
func (t *Table) Len() int {
	return len(t.routes)
}

// HasDefault reports whether a default handler is set
func (t *Table) HasDefault() bool {
	return t.fallback != nil
}

// Patterns returns the registered patterns in registration order
func (t *Table) Patterns() []string {
	patterns := make([]string, len(t.routes))
	for i, r := range t.routes {
		patterns[i] = r.pattern
	}
	return patterns
}

package http

import (
	"sort"
	"strings"
)

// Query maps a query-string key to its values in the order they appeared.
type Query map[string][]string

// Get returns the first value for key, or "" if there is none.
func (q Query) Get(key string) string {
	if vs := q[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns every value for key.
func (q Query) Values(key string) []string {
	return q[key]
}

// Has reports whether key appeared in the query string.
func (q Query) Has(key string) bool {
	_, ok := q[key]
	return ok
}

// Keys returns the keys in sorted order.
func (q Query) Keys() []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// add appends value to key
func (q Query) add(key, value string) {
	q[key] = append(q[key], value)
}

// ParseTarget splits a request-target into its percent-decoded path and its
// decoded query. A fragment, if a client sent one, is dropped.
func ParseTarget(target string) (string, Query) {
	if idx := strings.IndexByte(target, '#'); idx != -1 {
		target = target[:idx]
	}

	path, rawQuery, _ := strings.Cut(target, "?")

	return unescape(path, false), ParseQuery(rawQuery)
}

// ParseQuery decodes an application/x-www-form-urlencoded query string.
//
// Pairs are separated by '&' and split at the first '='; a pair without '='
// has an empty value. '+' decodes to a space. A key or value holding a
// malformed percent-escape keeps that escape literally; the rest of the key
// or value still decodes.
func ParseQuery(rawQuery string) Query {
	q := make(Query)

	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		q.add(unescape(key, true), unescape(value, true))
	}

	return q
}

// unescape decodes every valid %XX escape in s and, when plus is set, turns
// '+' into a space. A '%' not followed by two hex digits is copied as is.
func unescape(s string, plus bool) string {
	n := strings.IndexAny(s, "%+")
	if n == -1 || (!plus && strings.IndexByte(s, '%') == -1) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:n])

	for i := n; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '+' && plus:
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

package http

// Request is the routing view of an incoming request: only the request line
// is parsed, headers and body are never looked at.
type Request struct {
	Method string
	Target string // raw request-target, path plus optional ?query
	Proto  string

	// Path is the percent-decoded path component of Target
	Path string

	// Query parameters
	Query Query
}

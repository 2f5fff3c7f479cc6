package http

// Handler computes the response for a routed request.
//
// path is the decoded request path (for the default handler, the path that
// matched nothing) and query is owned by the call: it is built fresh for the
// request and discarded after Handle returns.
type Handler interface {
	Handle(path string, query Query) Response
}

// HandlerFunc adapts an ordinary function to Handler. A single HandlerFunc
// registered as the default handler can do all routing itself by switching
// on path.
type HandlerFunc func(path string, query Query) Response

// Handle calls f(path, query).
func (f HandlerFunc) Handle(path string, query Query) Response {
	return f(path, query)
}

// QueryHandlerFunc adapts a handler that only looks at the query.
type QueryHandlerFunc func(query Query) Response

// Handle calls f(query).
func (f QueryHandlerFunc) Handle(_ string, query Query) Response {
	return f(query)
}

package http

import (
	"io"
	"strconv"
)

// Header is a single response header line. Duplicates are allowed and keep
// their insertion order.
type Header struct {
	Name  string
	Value string
}

// Response is an immutable HTTP response produced by a ResponseBuilder.
type Response struct {
	status  int
	headers []Header
	body    []byte
}

// Status returns the status code
func (r Response) Status() int { return r.status }

// Headers returns a copy of the headers in insertion order
func (r Response) Headers() []Header {
	return append([]Header(nil), r.headers...)
}

// Body returns a copy of the body
func (r Response) Body() []byte {
	return append([]byte(nil), r.body...)
}

// AppendTo appends the wire form of r to dst:
//
//	HTTP/1.1 <code> <reason>\r\n
//	Name: Value\r\n   (once per header)
//	\r\n
//	<body>
//
// No Content-Length is computed; set it as a header if the client needs it.
func (r Response) AppendTo(dst []byte) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(r.status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(r.status)...)
	dst = append(dst, "\r\n"...)

	for _, h := range r.headers {
		dst = append(dst, h.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, h.Value...)
		dst = append(dst, "\r\n"...)
	}

	// blank line ends the header block, even when there are no headers
	dst = append(dst, "\r\n"...)
	return append(dst, r.body...)
}

// Bytes returns the wire form of r
func (r Response) Bytes() []byte {
	return r.AppendTo(make([]byte, 0, r.wireSizeHint()))
}

// String returns the wire form of r
func (r Response) String() string {
	return string(r.Bytes())
}

// WriteTo writes the serialized response with a single Write call.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

func (r Response) wireSizeHint() int {
	n := 32 + len(r.body)
	for _, h := range r.headers {
		n += len(h.Name) + len(h.Value) + 4
	}
	return n
}

// ResponseBuilder accumulates a Response. It is a value type: every method
// returns an updated copy and leaves the receiver untouched, so a partially
// built builder can be shared as a template.
//
// The zero builder, like NewResponse(), builds a 404 with no headers and an
// empty body.
type ResponseBuilder struct {
	statusSet bool
	status    int
	headers   []Header
	body      []byte
}

// NewResponse starts a new response
func NewResponse() ResponseBuilder {
	return ResponseBuilder{}
}

// Status sets the status code
func (b ResponseBuilder) Status(code int) ResponseBuilder {
	b.status = code
	b.statusSet = true
	return b
}

// Header appends a header line
func (b ResponseBuilder) Header(name, value string) ResponseBuilder {
	// full slice expression forces a copy, so siblings never share a backing array
	b.headers = append(b.headers[:len(b.headers):len(b.headers)], Header{Name: name, Value: value})
	return b
}

// Body sets the body
func (b ResponseBuilder) Body(body string) ResponseBuilder {
	b.body = []byte(body)
	return b
}

// BodyBytes sets the body from a byte slice, which is copied
func (b ResponseBuilder) BodyBytes(body []byte) ResponseBuilder {
	b.body = append([]byte(nil), body...)
	return b
}

// Build finalizes the response
func (b ResponseBuilder) Build() Response {
	status := StatusNotFound
	if b.statusSet {
		status = b.status
	}

	return Response{
		status:  status,
		headers: append([]Header(nil), b.headers...),
		body:    append([]byte(nil), b.body...),
	}
}

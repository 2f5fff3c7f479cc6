package http

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

// RootTarget is used whenever the request line carries no usable target.
const RootTarget = "/"

var (
	ErrInvalidRequest = errors.New("invalid HTTP request")
)

// requestLine returns the first line of data without its terminator.
// A buffer without a line feed is one (possibly truncated) line.
func requestLine(data []byte) []byte {
	if lineEnd := bytes.IndexByte(data, '\n'); lineEnd != -1 {
		data = data[:lineEnd]
	}
	if len(data) > 0 && data[len(data)-1] == '\r' {
		data = data[:len(data)-1]
	}
	return data
}

// RequestTarget extracts the request-target (token 1 of the request line)
// from a raw read buffer. It never fails: an empty buffer, an empty first
// line or a missing second token all yield RootTarget.
func RequestTarget(data []byte) string {
	fields := bytes.Fields(requestLine(data))
	if len(fields) < 2 {
		return RootTarget
	}
	return string(fields[1])
}

// ParseRequest parses the request line of a single fixed-size read.
//
// Bytes past the first line are ignored, and anything the client sent beyond
// the read buffer was never seen: long requests are truncated silently. The
// only rejected input is a request line that is not valid UTF-8.
func ParseRequest(data []byte) (*Request, error) {
	line := requestLine(data)
	if !utf8.Valid(line) {
		return nil, ErrInvalidRequest
	}

	req := &Request{Target: RootTarget}

	// METHOD TARGET PROTO, any amount of whitespace in between
	fields := bytes.Fields(line)
	if len(fields) > 0 {
		req.Method = string(fields[0])
	}
	if len(fields) > 1 {
		req.Target = string(fields[1])
	}
	if len(fields) > 2 {
		req.Proto = string(fields[2])
	}

	req.Path, req.Query = ParseTarget(req.Target)

	return req, nil
}

package core

import (
	"errors"
	"time"
)

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
)

// Engine defaults
const (
	DefaultWorkers    = 4
	DefaultBufferSize = 1024

	// accept retry backoff bounds
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

// Error definitions
var (
	ErrInvalidConfig = errors.New("invalid engine config")
)

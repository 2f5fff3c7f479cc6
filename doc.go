/*
Package crane provides a minimal embeddable HTTP/1.1 server.

Crane serves exactly one request per connection. For each accepted
connection a worker from a fixed-size pool performs a single read into a
fixed-size buffer, takes the request-target from the request line, decodes
its query string, looks the path up in an exact-match route table, calls the
handler and writes the response back in one write before closing. Headers,
bodies, methods and keep-alive are deliberately ignored.

Quick Start

	package main

	import (
		"log"

		"github.com/searchktools/crane/core"
		"github.com/searchktools/crane/core/http"
	)

	func main() {
		engine, err := core.Bind(core.Config{Addr: "127.0.0.1:8888"})
		if err != nil {
			log.Fatal(err)
		}

		engine.RouteFunc("/", func(path string, q http.Query) http.Response {
			return http.NewResponse().
				Status(http.StatusOK).
				Header("Content-Type", "text/plain").
				Body("Hello, World!").
				Build()
		})

		engine.Start()
	}

Behavior worth knowing

  - Routes match the decoded path byte for byte; the first registration of a
    pattern wins. A miss goes to the default handler, and without one the
    connection is closed with nothing written.
  - Requests longer than Config.BufferSize are truncated silently.
  - Without Config.ReadTimeout a client that never sends holds its worker
    until it disconnects.
  - When every worker is busy the accept loop waits for one to free up.
  - A handler panic closes that connection only.
  - Responses get no Content-Length unless the handler sets it.

Modules

  - app: configuration, logging and metrics wired around an engine
  - config: settings from environment, .env and flags
  - core: the connection dispatcher (Engine)
  - core/http: request-line parsing, query decoding, responses, status table
  - core/router: exact-match route table
  - core/pools: worker pool and read buffer pool
  - core/middleware: handler decorators
  - core/observability: Prometheus metrics and tracing
  - core/logger: zap logger construction
  - cmd/crane: demo command line server
*/
package crane

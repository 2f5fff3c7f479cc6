package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/crane/core/http"
	"github.com/searchktools/crane/core/observability"
)

var testClient = &nethttp.Client{
	Timeout:   5 * time.Second,
	Transport: &nethttp.Transport{DisableKeepAlives: true},
}

// serve starts e in the background and stops it when the test ends
func serve(t *testing.T, e *Engine) *Engine {
	t.Helper()

	done := make(chan struct{})
	go func() {
		e.Start()
		close(done)
	}()

	t.Cleanup(func() {
		e.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Start did not return after Close")
		}
	})
	return e
}

func bindLocal(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	e, err := Bind(cfg)
	require.NoError(t, err)
	return e
}

func get(t *testing.T, e *Engine, target string) (*nethttp.Response, string) {
	t.Helper()
	resp, err := testClient.Get("http://" + e.Addr().String() + target)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// rawExchange writes request on a fresh connection and returns every byte
// the server sends before closing.
func rawExchange(t *testing.T, e *Engine, request string) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return data
}

func text(status int, contentType, body string) http.Response {
	return http.NewResponse().
		Status(status).
		Header(HeaderContentType, contentType).
		Body(body).
		Build()
}

func TestEngine_HelloWorld(t *testing.T) {
	e := bindLocal(t, Config{})
	e.RouteFunc("/", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "Hello, World!")
	})
	serve(t, e)

	resp, body := get(t, e, "/")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Hello, World!", body)
}

func TestEngine_RegisteredAndUnregistered(t *testing.T) {
	e := bindLocal(t, Config{})
	e.RouteFunc("/foo", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/html", "<h1>Bar</h1>")
	})
	serve(t, e)

	resp, body := get(t, e, "/foo")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>Bar</h1>", body)

	// no route, no default: the connection closes with nothing written
	_, err := testClient.Get("http://" + e.Addr().String() + "/bar")
	assert.Error(t, err)

	data := rawExchange(t, e, "GET /bar HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Empty(t, data)
}

func TestEngine_EachRouteInvokedExactlyOnce(t *testing.T) {
	var a, b, dup atomic.Int32

	e := bindLocal(t, Config{})
	e.RouteFunc("/a", func(string, http.Query) http.Response {
		a.Add(1)
		return text(http.StatusOK, "text/plain", "a")
	}).RouteFunc("/b", func(string, http.Query) http.Response {
		b.Add(1)
		return text(http.StatusOK, "text/plain", "b")
	}).RouteFunc("/a", func(string, http.Query) http.Response {
		dup.Add(1)
		return text(http.StatusOK, "text/plain", "shadowed")
	})
	serve(t, e)

	_, body := get(t, e, "/a")
	assert.Equal(t, "a", body)
	_, body = get(t, e, "/b")
	assert.Equal(t, "b", body)

	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
	assert.Equal(t, int32(0), dup.Load())
}

func TestEngine_DefaultHandlerReceivesPath(t *testing.T) {
	var calls atomic.Int32
	var seen atomic.Value

	e := bindLocal(t, Config{})
	e.RouteFunc("/known", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "known")
	}).DefaultFunc(func(path string, q http.Query) http.Response {
		calls.Add(1)
		seen.Store(path)
		return text(http.StatusNotFound, "text/plain", "missing "+path)
	})
	serve(t, e)

	resp, body := get(t, e, "/nowhere?x=1")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "missing /nowhere", body)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "/nowhere", seen.Load())
}

func TestEngine_QueryDecoding(t *testing.T) {
	e := bindLocal(t, Config{})
	e.Route("/get/data", http.QueryHandlerFunc(func(q http.Query) http.Response {
		lines := make([]string, 0, len(q))
		for _, k := range q.Keys() {
			lines = append(lines, fmt.Sprintf("%s=%q", k, q[k]))
		}
		return text(http.StatusOK, "text/plain", strings.Join(lines, "\n"))
	}))
	serve(t, e)

	_, body := get(t, e, "/get/data?a=b")
	assert.Equal(t, `a=["b"]`, body)

	_, body = get(t, e, "/get/data?a=b&a=c&z=hello+world")
	assert.Equal(t, "a=[\"b\" \"c\"]\nz=[\"hello world\"]", body)

	_, body = get(t, e, "/get/data")
	assert.Equal(t, "", body)
}

func TestEngine_EmptyRequestRoutesToRoot(t *testing.T) {
	e := bindLocal(t, Config{})
	e.RouteFunc("/", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "root")
	})
	serve(t, e)

	conn, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// send nothing, just half-close: the single read sees EOF
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nroot", string(data))
}

func TestEngine_MoreRequestsThanWorkers(t *testing.T) {
	const workers = 2
	var running, peak atomic.Int32

	e := bindLocal(t, Config{Workers: workers})
	e.RouteFunc("/slow", func(string, http.Query) http.Response {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return text(http.StatusOK, "text/plain", "done")
	})
	serve(t, e)

	var wg sync.WaitGroup
	var served atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := testClient.Get("http://" + e.Addr().String() + "/slow")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if body, _ := io.ReadAll(resp.Body); string(body) == "done" {
				served.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), served.Load())
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestEngine_HandlerPanicIsIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()

	e := bindLocal(t, Config{Workers: 1, Metrics: observability.NewMetrics(observability.WithRegistry(reg))})
	e.RouteFunc("/panic", func(string, http.Query) http.Response {
		panic("handler bug")
	}).RouteFunc("/ok", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "still here")
	}).Route("/metrics", observability.Handler(reg))
	serve(t, e)

	data := rawExchange(t, e, "GET /panic HTTP/1.1\r\n\r\n")
	assert.Empty(t, data)

	resp, body := get(t, e, "/ok")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "still here", body)

	assert.Eventually(t, func() bool {
		_, body := get(t, e, "/metrics")
		return strings.Contains(body, `crane_requests_total{outcome="panic"} 1`) &&
			strings.Contains(body, `crane_requests_total{outcome="handled"}`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEngine_InvalidRequestLineClosesSilently(t *testing.T) {
	reg := prometheus.NewRegistry()

	var called atomic.Int32
	e := bindLocal(t, Config{Metrics: observability.NewMetrics(observability.WithRegistry(reg))})
	e.DefaultFunc(func(string, http.Query) http.Response {
		called.Add(1)
		return text(http.StatusOK, "text/plain", "default")
	}).Route("/metrics", observability.Handler(reg))
	serve(t, e)

	data := rawExchange(t, e, "GET /\xff HTTP/1.1\r\n\r\n")
	assert.Empty(t, data)

	assert.Eventually(t, func() bool {
		_, body := get(t, e, "/metrics")
		return strings.Contains(body, `crane_requests_total{outcome="parse_error"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(0), called.Load())
}

func TestEngine_RequestBeyondBufferIsTruncated(t *testing.T) {
	e := bindLocal(t, Config{BufferSize: 32})
	defer e.Close()

	var got string
	e.DefaultFunc(func(path string, _ http.Query) http.Response {
		got = path
		return text(http.StatusOK, "text/plain", "ok")
	})

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.serveConn(server)
		close(done)
	}()

	// the write fails once the server closes with bytes still unread
	go client.Write([]byte("GET /" + strings.Repeat("a", 60) + " HTTP/1.1\r\n\r\n"))

	data, err := io.ReadAll(client)
	require.NoError(t, err)
	<-done

	assert.Equal(t, "/"+strings.Repeat("a", 27), got)
	assert.True(t, strings.HasPrefix(string(data), "HTTP/1.1 200 OK\r\n"))
}

func TestEngine_ReadTimeoutFreesWorker(t *testing.T) {
	e := bindLocal(t, Config{Workers: 1, ReadTimeout: 100 * time.Millisecond})
	e.RouteFunc("/", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "ok")
	})
	serve(t, e)

	// a silent client occupies the only worker until the timeout fires
	idle, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	defer idle.Close()

	start := time.Now()
	resp, body := get(t, e, "/")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", body)

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEngine_MaxConnections(t *testing.T) {
	e := bindLocal(t, Config{Workers: 2, MaxConnections: 1})
	e.RouteFunc("/", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "capped")
	})
	serve(t, e)

	for i := 0; i < 3; i++ {
		_, body := get(t, e, "/")
		assert.Equal(t, "capped", body)
	}
}

func TestEngine_StatsHandler(t *testing.T) {
	e := bindLocal(t, Config{Workers: 3, BufferSize: 2048})
	e.Route("/stats", e.StatsHandler())
	serve(t, e)

	resp, body := get(t, e, "/stats")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, 3.0, stats["workers"])
	assert.Equal(t, 2048.0, stats["buffer_size"])
	assert.Equal(t, 1.0, stats["routes"])
	assert.Equal(t, false, stats["default_route"])
	assert.Equal(t, 1.0, stats["busy_workers"])
}

// flakyListener fails the first accepts like a process out of file descriptors
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestEngine_AcceptErrorsAreRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	flaky := &flakyListener{Listener: ln}
	flaky.failures.Store(3)

	reg := prometheus.NewRegistry()
	e, err := NewEngine(flaky, Config{Metrics: observability.NewMetrics(observability.WithRegistry(reg))})
	require.NoError(t, err)
	e.RouteFunc("/", func(string, http.Query) http.Response {
		return text(http.StatusOK, "text/plain", "survived")
	}).Route("/metrics", observability.Handler(reg))
	serve(t, e)

	_, body := get(t, e, "/")
	assert.Equal(t, "survived", body)

	_, body = get(t, e, "/metrics")
	assert.Contains(t, body, "crane_accept_errors_total 3")
}

func TestBind_AddressInUse(t *testing.T) {
	first := bindLocal(t, Config{})
	defer first.Close()

	_, err := Bind(Config{Addr: first.Addr().String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crane: bind")
}

func TestBind_InvalidAddress(t *testing.T) {
	_, err := Bind(Config{Addr: "not-an-address"})
	assert.Error(t, err)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := Bind(Config{Addr: "127.0.0.1:0", Workers: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := bindLocal(t, Config{})
	defer e.Close()

	stats := e.Stats()
	assert.Equal(t, DefaultWorkers, stats.Workers)
	assert.Equal(t, DefaultBufferSize, stats.BufferSize)
}

func TestNextAcceptDelay(t *testing.T) {
	assert.Equal(t, minAcceptDelay, nextAcceptDelay(0))
	assert.Equal(t, 2*minAcceptDelay, nextAcceptDelay(minAcceptDelay))
	assert.Equal(t, maxAcceptDelay, nextAcceptDelay(maxAcceptDelay))
	assert.Equal(t, maxAcceptDelay, nextAcceptDelay(800*time.Millisecond))
}

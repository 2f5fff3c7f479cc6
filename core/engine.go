package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/searchktools/crane/core/http"
	"github.com/searchktools/crane/core/observability"
	"github.com/searchktools/crane/core/pools"
	"github.com/searchktools/crane/core/router"
)

// Config holds everything an Engine needs besides its routes.
type Config struct {
	// Addr is the host:port to listen on, used by Bind.
	Addr string

	// ReadTimeout bounds the single read of each connection. Zero means no
	// timeout: a client that connects and never sends holds its worker
	// until it disconnects.
	ReadTimeout time.Duration

	// Workers is the number of connections served at once (default 4).
	Workers int

	// BufferSize is the size of the single read (default 1024). Request
	// bytes beyond it are never read. Closing a connection with unread
	// bytes makes the kernel send an RST, so a client sending more than
	// BufferSize may see "connection reset" and lose a response that was
	// already written.
	BufferSize int

	// MaxConnections caps open accepted connections, served or waiting for
	// a worker. Zero disables the cap.
	MaxConnections int

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics may be nil.
	Metrics *observability.Metrics

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

func (c Config) withDefaults() (Config, error) {
	if c.Workers < 0 || c.BufferSize < 0 || c.MaxConnections < 0 || c.ReadTimeout < 0 {
		return c, fmt.Errorf("%w: negative workers, buffer size, connection cap or read timeout", ErrInvalidConfig)
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c, nil
}

// Engine accepts connections and serves exactly one request on each: a
// single read, a request-line parse, an exact-path route lookup, one handler
// call, one write, close.
type Engine struct {
	listener    net.Listener
	routes      *router.Table
	readTimeout time.Duration

	buffers    *pools.BytePool
	workerPool *pools.WorkerPool

	log     *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	closed atomic.Bool
}

// Bind listens on cfg.Addr and returns an engine ready for route
// registration. Bind failures (address in use, bad address) are returned,
// never fatal.
func Bind(cfg Config) (*Engine, error) {
	lc := net.ListenConfig{Control: controlListener}

	ln, err := lc.Listen(context.Background(), "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("crane: bind %s: %w", cfg.Addr, err)
	}

	e, err := NewEngine(ln, cfg)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return e, nil
}

// NewEngine creates an engine serving on an existing listener. cfg.Addr is
// ignored. The engine owns ln from now on.
func NewEngine(ln net.Listener, cfg Config) (*Engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	e := &Engine{
		listener:    ln,
		routes:      router.NewTable(),
		readTimeout: cfg.ReadTimeout,
		buffers:     pools.NewBytePool(cfg.BufferSize),
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      observability.Tracer(cfg.TracerProvider),
	}

	e.workerPool = pools.NewWorkerPool(cfg.Workers, pools.WithPanicHandler(func(r any) {
		e.log.Error("worker recovered from panic", zap.Any("panic", r))
	}))

	return e, nil
}

// Route maps path to handler. Routes are matched exactly, in registration
// order. Route must not be called after Start.
func (e *Engine) Route(path string, handler http.Handler) *Engine {
	e.routes.Register(path, handler)
	return e
}

// RouteFunc maps path to a handler function
func (e *Engine) RouteFunc(path string, fn func(path string, query http.Query) http.Response) *Engine {
	return e.Route(path, http.HandlerFunc(fn))
}

// Default sets the handler for paths no route matches. Without one, such
// requests are read and the connection is closed with nothing written.
func (e *Engine) Default(handler http.Handler) *Engine {
	e.routes.SetDefault(handler)
	return e
}

// DefaultFunc sets the default handler from a function
func (e *Engine) DefaultFunc(fn func(path string, query http.Query) http.Response) *Engine {
	return e.Default(http.HandlerFunc(fn))
}

// Routes returns the route table
func (e *Engine) Routes() *router.Table {
	return e.routes
}

// Addr returns the listener's address
func (e *Engine) Addr() net.Addr {
	return e.listener.Addr()
}

// Start serves connections until Close is called. A failed accept is
// logged and retried with backoff; it never stops the server. When all
// workers are busy Start stops accepting until one frees up.
func (e *Engine) Start() {
	e.log.Info("crane listening",
		zap.Stringer("addr", e.Addr()),
		zap.Int("workers", e.workerPool.Size()),
		zap.Int("buffer_size", e.buffers.Size()),
		zap.Duration("read_timeout", e.readTimeout),
		zap.Strings("routes", e.routes.Patterns()),
		zap.Bool("default_route", e.routes.HasDefault()),
	)
	if e.readTimeout == 0 {
		e.log.Warn("no read timeout configured, an idle client holds its worker until it disconnects")
	}

	var delay time.Duration
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			e.metrics.AcceptFailed()
			delay = nextAcceptDelay(delay)
			e.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0

		e.metrics.ConnectionAccepted()
		if !e.workerPool.Submit(func() { e.serveConn(conn) }) {
			conn.Close()
			return
		}
	}
}

// Close stops accepting, then waits for connections already handed to a
// worker. Connections still in the listener backlog are dropped.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := e.listener.Close()
	e.workerPool.Close()
	e.log.Info("crane stopped", zap.Stringer("addr", e.Addr()))
	return err
}

// nextAcceptDelay doubles the previous delay within [minAcceptDelay, maxAcceptDelay]
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// serveConn runs one connection to completion on the calling worker. Every
// failure, a handler panic included, ends here with the connection closed.
func (e *Engine) serveConn(conn net.Conn) {
	start := time.Now()
	remote := conn.RemoteAddr().String()

	log := e.log.With(zap.String("conn_id", uuid.NewString()), zap.String("remote", remote))
	_, span := e.tracer.Start(context.Background(), "crane.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.addr", remote)),
	)

	e.metrics.WorkerBusy()
	outcome := observability.OutcomePanic

	defer func() {
		if r := recover(); r != nil {
			outcome = observability.OutcomePanic
			log.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}

		conn.Close()

		span.SetAttributes(attribute.String("crane.outcome", outcome))
		span.End()

		e.metrics.WorkerIdle()
		e.metrics.ConnectionDone(outcome, time.Since(start))
	}()

	outcome = e.dispatch(conn, log, span)
}

// dispatch reads, parses, routes, handles and writes. It returns the
// connection's outcome; the caller closes the connection.
func (e *Engine) dispatch(conn net.Conn, log *zap.Logger, span trace.Span) string {
	if e.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(e.readTimeout)); err != nil {
			log.Warn("set read deadline failed", zap.Error(err))
			return observability.OutcomeReadError
		}
	}

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	// One read only. An immediate EOF is an empty request and routes as "/".
	n, err := conn.Read(*buf)
	if err != nil && !(errors.Is(err, io.EOF) && n == 0) {
		log.Debug("read failed", zap.Error(err))
		span.RecordError(err)
		return observability.OutcomeReadError
	}

	req, err := http.ParseRequest((*buf)[:n])
	if err != nil {
		log.Debug("request line rejected", zap.Error(err))
		span.RecordError(err)
		return observability.OutcomeParseError
	}

	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Target),
	)

	handler, ok := e.routes.Lookup(req.Path)
	if !ok {
		log.Debug("no route and no default, closing without response", zap.String("path", req.Path))
		return observability.OutcomeUnrouted
	}

	resp := handler.Handle(req.Path, req.Query)
	span.SetAttributes(attribute.Int("http.status_code", resp.Status()))

	if _, err := resp.WriteTo(conn); err != nil {
		log.Warn("write failed", zap.Error(err), zap.String("path", req.Path))
		span.RecordError(err)
		return observability.OutcomeWriteError
	}

	log.Debug("request served",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.Status()),
	)
	return observability.OutcomeHandled
}

package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/crane/core/http"
)

// Middleware decorates a handler
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mws run in order, the first one outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logger logs every handled request with its status and handler time
func Logger(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(path string, q http.Query) http.Response {
			start := time.Now()
			resp := next.Handle(path, q)
			log.Info("request",
				zap.String("path", path),
				zap.Int("status", resp.Status()),
				zap.Duration("took", time.Since(start)),
			)
			return resp
		})
	}
}

// Recover turns a handler panic into a plain 500 response. Without it the
// engine closes the connection and writes nothing.
func Recover(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(path string, q http.Query) (resp http.Response) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panicked", zap.String("path", path), zap.Any("panic", r))
					resp = http.NewResponse().
						Status(http.StatusInternalServerError).
						Header("Content-Type", "text/plain; charset=utf-8").
						Body(http.StatusText(http.StatusInternalServerError)).
						Build()
				}
			}()
			return next.Handle(path, q)
		})
	}
}

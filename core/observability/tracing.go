package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies crane's spans
const InstrumentationName = "github.com/searchktools/crane"

// Tracer returns crane's tracer from tp, or from the global provider when tp
// is nil. Without an SDK installed the global provider is a no-op.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

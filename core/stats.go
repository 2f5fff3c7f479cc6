package core

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/crane/core/http"
)

// Stats is a point-in-time view of an engine's worker pool and routes
type Stats struct {
	Workers     int    `json:"workers"`
	BusyWorkers int    `json:"busy_workers"`
	Dispatched  uint64 `json:"connections_dispatched"`
	Completed   uint64 `json:"connections_completed"`
	Panics      uint64 `json:"worker_panics"`
	Routes      int    `json:"routes"`
	HasDefault  bool   `json:"default_route"`
	BufferSize  int    `json:"buffer_size"`
}

// Stats returns current engine statistics
func (e *Engine) Stats() Stats {
	ps := e.workerPool.Stats()

	return Stats{
		Workers:     ps.NumWorkers,
		BusyWorkers: ps.Busy,
		Dispatched:  ps.TasksSubmitted,
		Completed:   ps.TasksCompleted,
		Panics:      ps.TasksPanicked,
		Routes:      e.routes.Len(),
		HasDefault:  e.routes.HasDefault(),
		BufferSize:  e.buffers.Size(),
	}
}

// Proto returns the stats as a protobuf Struct
func (s Stats) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"workers":                s.Workers,
		"busy_workers":           s.BusyWorkers,
		"connections_dispatched": s.Dispatched,
		"connections_completed":  s.Completed,
		"worker_panics":          s.Panics,
		"routes":                 s.Routes,
		"default_route":          s.HasDefault,
		"buffer_size":            s.BufferSize,
	})
}

// JSON returns the stats in protobuf JSON form
func (s Stats) JSON() ([]byte, error) {
	pb, err := s.Proto()
	if err != nil {
		return nil, fmt.Errorf("stats to proto: %w", err)
	}
	return protojson.Marshal(pb)
}

// StatsHandler serves Stats as JSON
func (e *Engine) StatsHandler() http.Handler {
	return http.HandlerFunc(func(_ string, _ http.Query) http.Response {
		data, err := e.Stats().JSON()
		if err != nil {
			return http.NewResponse().
				Status(http.StatusInternalServerError).
				Header(HeaderContentType, "text/plain; charset=utf-8").
				Body(err.Error()).
				Build()
		}

		return http.NewResponse().
			Status(http.StatusOK).
			Header(HeaderContentType, "application/json").
			Header(HeaderContentLength, fmt.Sprint(len(data))).
			BodyBytes(data).
			Build()
	})
}

// Package engine defines the worker-execution seam the router dispatches
// into, and a subprocess implementation of it.
package engine

import (
	"context"
	"encoding/json"

	"github.com/spindleworks/spindle/internal/profile"
)

// Upstream receives a worker's reply stream. Implemented by the router's
// reply sink.
type Upstream interface {
	// Write delivers one reply chunk.
	Write(chunk []byte)
	// Close signals that the worker finished the job.
	Close()
	// Error reports a worker-side failure; delivery of the code happens on
	// Close.
	Error(code int, message string)
}

// RequestStream carries the framed request to a worker. Write sends bytes,
// Close signals that no more data follows. The router writes the frame once
// and closes immediately.
type RequestStream interface {
	Write(p []byte) error
	Close() error
}

// Pool is a running worker pool for one application.
type Pool interface {
	// Enqueue hands a job to a worker. instance selects a named worker
	// within a multi-instance pool; empty means the default worker.
	Enqueue(method string, up Upstream, instance string) (RequestStream, error)
	// Info returns pool introspection as JSON.
	Info(ctx context.Context) (json.RawMessage, error)
	// Stop tears the pool down, terminating its workers.
	Stop()
}

// Engine starts worker pools by application name.
type Engine interface {
	Start(name string, prof *profile.Profile) (Pool, error)
}

// Package upstream handles the reply side of a dispatched job.
//
// An Upstream is created per source-blocking dispatch and receives the
// worker's reply stream: zero or more chunks followed by a close. Each chunk
// is re-framed with the job's original header and forwarded to the caller.
// The sink enforces an at-most-once terminal reply: once a finish-flagged
// reply or a bare ack has been sent, every later write is a no-op.
//
// The Registry correlates asynchronous replies with their jobs by source key.
// Dispatch and reply handling run on unrelated goroutines; the registry is
// the only thing connecting them.
package upstream

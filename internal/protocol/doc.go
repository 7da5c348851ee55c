// Package protocol implements the compact binary framing shared by callers,
// the router, and workers.
//
// Every routed message is a fixed-size header followed by the event name and
// the payload. The header carries control flags (source-blocking, reply,
// finish), the originating node id, the source key correlating a job with its
// replies, the two length fields, and a reply address.
//
// Layout (little endian):
//
//	offset  size  field
//	0       4     flags
//	4       4     source key (int32)
//	8       4     event-name length
//	12      4     payload length
//	16      32    source id
//	48      64    reply address (NUL padded)
//
// EncodeFrame never trusts caller-supplied length fields; it recomputes them
// from the actual event and payload slices.
package protocol

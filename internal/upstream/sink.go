package upstream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/protocol"
	"github.com/spindleworks/spindle/internal/transport"
)

// Upstream forwards a worker's reply stream to the caller of a dispatched
// job. It owns copies of the command context and header so replies can be
// addressed long after the dispatching goroutine has moved on.
type Upstream struct {
	mu        sync.Mutex
	completed bool

	sender  transport.Sender
	cmd     transport.Command
	hdr     protocol.Header
	event   string
	deleter func()
	errCode int

	logger *slog.Logger
}

// New creates a sink for one dispatched job. deleter releases the job's
// registry entry and is invoked when the worker closes the stream.
func New(sender transport.Sender, cmd *transport.Command, hdr protocol.Header, event string, deleter func()) *Upstream {
	return &Upstream{
		sender:  sender,
		cmd:     *cmd,
		hdr:     hdr,
		event:   event,
		deleter: deleter,
		logger:  log.WithJob(hdr.SrcKey).With("app", event),
	}
}

// Write handles one chunk from the worker. Chunks must be JSON strings; a
// chunk that fails to decode degrades to a synthetic terminal empty reply so
// malformed data never reaches the caller.
func (u *Upstream) Write(chunk []byte) {
	var body string
	if err := json.Unmarshal(chunk, &body); err != nil {
		u.logger.Error("unable to decode worker chunk", "size", len(chunk), "error", err)
		u.Reply(true, nil)
		return
	}

	frame := protocol.EncodeFrame(&u.hdr, u.event, []byte(body))
	u.Reply(false, frame)
}

// Close is called when the worker signals completion. It releases the job
// registry entry and sends a terminal empty reply if none was sent.
func (u *Upstream) Close() {
	u.logger.Info("job completed")
	u.Reply(true, nil)
	if u.deleter != nil {
		u.deleter()
	}
}

// Error records an error code for the eventual ack. Nothing is sent here;
// the send happens on Close or the terminal Reply.
func (u *Upstream) Error(code int, message string) {
	u.mu.Lock()
	u.errCode = -code
	u.mu.Unlock()
	u.logger.Error("worker error", "code", code, "message", message)
}

// Reply is the single choke point for everything sent to the caller. The
// completion latch is checked and the send performed under one lock so the
// latch+send pair is atomic; once completed, further calls are no-ops.
//
// A terminal data frame clears the command's need-ack bit so the transport
// does not acknowledge a stream it already answered. A terminal empty reply
// becomes a bare ack carrying the recorded error code.
func (u *Upstream) Reply(final bool, frame []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		return
	}
	u.completed = final

	if u.hdr.Flags&protocol.FlagSrcBlock == 0 && len(frame) == 0 {
		return
	}

	if len(frame) > 0 {
		if final {
			u.cmd.Flags &^= transport.CmdNeedAck
		}
		if err := u.sender.SendReply(&u.cmd, frame, !final); err != nil {
			u.logger.Error("send reply failed", "size", len(frame), "error", err)
		}
	} else if final {
		u.cmd.Flags |= transport.CmdNeedAck
		if err := u.sender.SendAck(&u.cmd, u.errCode); err != nil {
			u.logger.Error("send ack failed", "code", u.errCode, "error", err)
		}
	}
}

// Release is the last-owner drop hook. It defensively issues a terminal
// empty reply so the caller is never left hanging when a worker crashed
// without closing the stream.
func (u *Upstream) Release() {
	u.Reply(true, nil)
}

// Discard latches the sink without sending anything. Used when the caller was
// already answered elsewhere (a failed dispatch returns its error code through
// the transport ack) and a worker stream may still write to or close the sink.
func (u *Upstream) Discard() {
	u.mu.Lock()
	u.completed = true
	u.mu.Unlock()
}

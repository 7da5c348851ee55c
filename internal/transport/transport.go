// Package transport defines the seam between the router core and the
// network layer that delivers commands and carries replies back to callers.
package transport

// Command flag bits.
const (
	// CmdNeedAck asks the transport to acknowledge the command once it is
	// fully processed. The router clears it when a correlated reply stream
	// will answer the caller instead.
	CmdNeedAck uint32 = 1 << iota
)

// Command is the per-request connection context. It identifies the inbound
// command and carries enough addressing to answer the caller later, possibly
// from a different goroutine.
type Command struct {
	// ID is the routing id of the command.
	ID [32]byte
	// Flags holds transport-level bits such as CmdNeedAck.
	Flags uint32
	// Reply is the address replies and acks are sent to. Empty for callers
	// that cannot receive replies.
	Reply string
}

// Sender sends bytes back to the caller of a command. Implementations must
// be safe for concurrent use and must not block for long: the reply sink
// holds its completion latch across the send.
type Sender interface {
	// SendReply sends a data frame. more=false marks the logical end of
	// the reply stream.
	SendReply(cmd *Command, data []byte, more bool) error
	// SendAck sends a bare acknowledgment carrying an error code and no
	// payload.
	SendAck(cmd *Command, code int) error
}

package protocol

import "bytes"

// Flags is the control bitset carried in every request header.
type Flags uint32

const (
	// FlagSrcBlock marks a dispatch whose caller expects a correlated
	// reply stream rather than fire-and-forget delivery.
	FlagSrcBlock Flags = 1 << iota
	// FlagReply marks a frame carrying a reply chunk for an in-flight job.
	FlagReply
	// FlagFinish marks the terminal reply of a job.
	FlagFinish
)

const (
	// SrcIDSize is the width of the originating node id.
	SrcIDSize = 32
	// AddrSize is the width of the NUL-padded reply address field.
	AddrSize = 64
	// HeaderSize is the fixed on-wire size of a Header. The event name and
	// payload follow immediately, EventSize + DataSize bytes in total.
	HeaderSize = 16 + SrcIDSize + AddrSize
)

// Header is the fixed-size control block prefixed to every routed message.
// EventSize and DataSize describe the variable part that follows it.
type Header struct {
	Flags     Flags
	SrcKey    int32
	EventSize uint32
	DataSize  uint32
	Src       [SrcIDSize]byte
	Addr      [AddrSize]byte
}

// SetAddr stores a reply address, truncating to the fixed field width.
func (h *Header) SetAddr(addr string) {
	h.Addr = [AddrSize]byte{}
	copy(h.Addr[:], addr)
}

// AddrString returns the reply address with NUL padding stripped.
func (h *Header) AddrString() string {
	return string(bytes.TrimRight(h.Addr[:], "\x00"))
}

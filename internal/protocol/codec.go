package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedHeader indicates a frame too short for the fixed header
	// or with length fields exceeding the remaining buffer.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrInvalidEvent indicates an event name without the application@method
	// separator.
	ErrInvalidEvent = errors.New("invalid event name: must be application@method")
)

// ParseFrame decodes the fixed header and extracts the event name and payload
// that follow it. The returned payload aliases buf.
func ParseFrame(buf []byte) (Header, string, []byte, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, "", nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedHeader, len(buf), HeaderSize)
	}

	h.Flags = Flags(binary.LittleEndian.Uint32(buf[0:4]))
	h.SrcKey = int32(binary.LittleEndian.Uint32(buf[4:8]))
	h.EventSize = binary.LittleEndian.Uint32(buf[8:12])
	h.DataSize = binary.LittleEndian.Uint32(buf[12:16])
	copy(h.Src[:], buf[16:16+SrcIDSize])
	copy(h.Addr[:], buf[16+SrcIDSize:HeaderSize])

	total := uint64(h.EventSize) + uint64(h.DataSize)
	if total > uint64(len(buf)-HeaderSize) {
		return h, "", nil, fmt.Errorf("%w: event %d + data %d exceeds %d remaining bytes",
			ErrMalformedHeader, h.EventSize, h.DataSize, len(buf)-HeaderSize)
	}

	event := string(buf[HeaderSize : HeaderSize+int(h.EventSize)])
	payload := buf[HeaderSize+int(h.EventSize) : HeaderSize+int(total)]
	return h, event, payload, nil
}

// EncodeFrame serializes the header followed by the event name and payload.
// Length fields are re-derived from the actual slices, not taken from h.
func EncodeFrame(h *Header, event string, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(event)+len(payload))

	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.SrcKey))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(event)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[16:16+SrcIDSize], h.Src[:])
	copy(buf[16+SrcIDSize:HeaderSize], h.Addr[:])

	copy(buf[HeaderSize:], event)
	copy(buf[HeaderSize+len(event):], payload)
	return buf
}

// SplitEvent splits "application@method" into its two parts.
func SplitEvent(event string) (app, method string, err error) {
	i := strings.Index(event, "@")
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}
	return event[:i], event[i+1:], nil
}

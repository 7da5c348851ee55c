package upstream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindleworks/spindle/internal/protocol"
	"github.com/spindleworks/spindle/internal/transport"
)

type sentFrame struct {
	data []byte
	more bool
}

// recorder captures everything sent through the Sender seam.
type recorder struct {
	mu     sync.Mutex
	frames []sentFrame
	acks   []int
}

func (r *recorder) SendReply(cmd *transport.Command, data []byte, more bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, sentFrame{data: append([]byte(nil), data...), more: more})
	return nil
}

func (r *recorder) SendAck(cmd *transport.Command, code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, code)
	return nil
}

func blockingHeader() protocol.Header {
	return protocol.Header{Flags: protocol.FlagSrcBlock, SrcKey: 7}
}

func TestReplyAtMostOnceTerminal(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Reply(false, []byte("a"))
	up.Reply(true, []byte("b"))
	up.Reply(true, []byte("c"))

	require.Len(t, rec.frames, 2)
	assert.Equal(t, []byte("a"), rec.frames[0].data)
	assert.True(t, rec.frames[0].more)
	assert.Equal(t, []byte("b"), rec.frames[1].data)
	assert.False(t, rec.frames[1].more)
	assert.Empty(t, rec.acks)
}

func TestTerminalDataFrameClearsNeedAck(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{Flags: transport.CmdNeedAck}, blockingHeader(), "echo@process", nil)

	up.Reply(true, []byte("done"))

	require.Len(t, rec.frames, 1)
	assert.Zero(t, up.cmd.Flags&transport.CmdNeedAck)
}

func TestCloseSendsBareAckAndReleases(t *testing.T) {
	rec := &recorder{}
	released := false
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", func() { released = true })

	up.Close()

	require.Len(t, rec.acks, 1)
	assert.Equal(t, 0, rec.acks[0])
	assert.Empty(t, rec.frames)
	assert.True(t, released)
}

func TestErrorCodeCarriedInTerminalAck(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Error(5, "worker exploded")
	up.Close()

	require.Len(t, rec.acks, 1)
	assert.Equal(t, -5, rec.acks[0])
}

func TestNonBlockingEmptyTerminalIsSilent(t *testing.T) {
	rec := &recorder{}
	hdr := protocol.Header{SrcKey: 7}
	up := New(rec, &transport.Command{}, hdr, "echo@process", nil)

	up.Reply(true, nil)

	assert.Empty(t, rec.frames)
	assert.Empty(t, rec.acks)
}

func TestWriteForwardsDecodedChunk(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Write([]byte(`"hello"`))

	require.Len(t, rec.frames, 1)
	assert.True(t, rec.frames[0].more)

	hdr, event, payload, err := protocol.ParseFrame(rec.frames[0].data)
	require.NoError(t, err)
	assert.Equal(t, "echo@process", event)
	assert.Equal(t, []byte("hello"), payload)
	assert.Equal(t, int32(7), hdr.SrcKey)
}

func TestWriteMalformedChunkDegradesToTerminal(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Write([]byte("{not json"))
	up.Write([]byte(`"late"`))

	assert.Empty(t, rec.frames, "malformed data must never reach the caller")
	require.Len(t, rec.acks, 1)
}

func TestLatchWinsOverLateChunks(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Reply(true, nil)
	up.Write([]byte(`"straggler"`))
	up.Close()

	assert.Empty(t, rec.frames)
	assert.Len(t, rec.acks, 1)
}

func TestDiscardSilencesSink(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Discard()
	up.Write([]byte(`"straggler"`))
	up.Close()
	up.Release()

	assert.Empty(t, rec.frames)
	assert.Empty(t, rec.acks)
}

func TestReleaseIsIdempotent(t *testing.T) {
	rec := &recorder{}
	up := New(rec, &transport.Command{}, blockingHeader(), "echo@process", nil)

	up.Release()
	up.Release()

	assert.Len(t, rec.acks, 1)
}

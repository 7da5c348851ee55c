package router

import (
	"context"
	"encoding/json"
	"errors"
	"syscall"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindleworks/spindle/internal/engine"
	"github.com/spindleworks/spindle/internal/profile"
	"github.com/spindleworks/spindle/internal/protocol"
	"github.com/spindleworks/spindle/internal/router/mocks"
	"github.com/spindleworks/spindle/internal/transport"
)

type harness struct {
	sender   *mocks.MockSender
	engine   *mocks.MockEngine
	profiles *mocks.MockStore
	router   *Router
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	h := &harness{
		sender:   mocks.NewMockSender(ctrl),
		engine:   mocks.NewMockEngine(ctrl),
		profiles: mocks.NewMockStore(ctrl),
	}
	h.router = New(Options{
		Sender:    h.sender,
		Engine:    h.engine,
		Profiles:  h.profiles,
		LocalAddr: "node-1:1025",
	})
	return h
}

func (h *harness) mockPool(t *testing.T, app string, prof gomock.Matcher) *mocks.MockPool {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	p := mocks.NewMockPool(ctrl)
	h.engine.EXPECT().Start(app, prof).Return(p, nil)
	return p
}

func buildFrame(flags protocol.Flags, srcKey int32, event string, payload []byte) []byte {
	h := &protocol.Header{Flags: flags, SrcKey: srcKey}
	return protocol.EncodeFrame(h, event, payload)
}

func startApp(t *testing.T, h *harness, app string) {
	t.Helper()
	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, app+"@start-task", nil))
	require.Zero(t, code)
}

func TestDispatchBlockingFlow(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	stream := mocks.NewMockRequestStream(gomock.NewController(t))
	var sent []byte
	p.EXPECT().Enqueue("process", gomock.Any(), "").Return(stream, nil)
	stream.EXPECT().Write(gomock.Any()).DoAndReturn(func(b []byte) error {
		sent = append([]byte(nil), b...)
		return nil
	})
	stream.EXPECT().Close().Return(nil)

	cmd := &transport.Command{Flags: transport.CmdNeedAck}
	cmd.ID[0] = 0xCD

	code := h.router.Process(context.Background(), cmd, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", []byte("payload")))
	require.Zero(t, code)

	// The reply stream answers the caller; the transport must not ack.
	assert.Zero(t, cmd.Flags&transport.CmdNeedAck)
	assert.Equal(t, 1, h.router.Jobs())

	hdr, event, payload, err := protocol.ParseFrame(sent)
	require.NoError(t, err)
	assert.Equal(t, "echo@process", event)
	assert.Equal(t, []byte("payload"), payload)
	assert.Equal(t, int32(1), hdr.SrcKey, "first issued source key")
	assert.Equal(t, cmd.ID, hdr.Src, "caller id stamped into the header")
}

func TestDispatchAssignsMonotonicKeys(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	var keys []int32
	for range 3 {
		stream := mocks.NewMockRequestStream(ctrl)
		p.EXPECT().Enqueue("process", gomock.Any(), "").Return(stream, nil)
		stream.EXPECT().Write(gomock.Any()).DoAndReturn(func(b []byte) error {
			hdr, _, _, err := protocol.ParseFrame(b)
			require.NoError(t, err)
			keys = append(keys, hdr.SrcKey)
			return nil
		})
		stream.EXPECT().Close().Return(nil)

		code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))
		require.Zero(t, code)
	}

	assert.Equal(t, []int32{1, 2, 3}, keys)
}

func TestDispatchToUnknownApplication(t *testing.T) {
	h := newHarness(t)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(protocol.FlagSrcBlock, -1, "ghost@process", nil))
	assert.Equal(t, -int(syscall.ENOENT), code)
	assert.Zero(t, h.router.Jobs())
}

func TestReplyCorrelationRoundTrip(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	stream := mocks.NewMockRequestStream(ctrl)
	p.EXPECT().Enqueue("process", gomock.Any(), "").Return(stream, nil)
	stream.EXPECT().Write(gomock.Any()).Return(nil)
	stream.EXPECT().Close().Return(nil)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))
	require.Zero(t, code)
	require.Equal(t, 1, h.router.Jobs())

	chunk := buildFrame(protocol.FlagSrcBlock|protocol.FlagReply, 1, "echo@process", []byte("chunk"))
	finish := buildFrame(protocol.FlagSrcBlock|protocol.FlagReply|protocol.FlagFinish, 1, "echo@process", []byte("done"))

	gomock.InOrder(
		h.sender.EXPECT().SendReply(gomock.Any(), chunk, true).Return(nil),
		h.sender.EXPECT().SendReply(gomock.Any(), finish, false).Return(nil),
	)

	assert.Zero(t, h.router.Process(context.Background(), &transport.Command{}, chunk))
	assert.Equal(t, 1, h.router.Jobs(), "intermediate chunk keeps the job open")

	assert.Zero(t, h.router.Process(context.Background(), &transport.Command{}, finish))
	assert.Zero(t, h.router.Jobs())

	// A straggler after the terminal reply finds no job.
	code = h.router.Process(context.Background(), &transport.Command{}, chunk)
	assert.Equal(t, -int(syscall.ENOENT), code)
}

func TestReplyForUnknownJob(t *testing.T) {
	h := newHarness(t)

	frame := buildFrame(protocol.FlagReply|protocol.FlagFinish, 77, "echo@process", nil)
	code := h.router.Process(context.Background(), &transport.Command{}, frame)
	assert.Equal(t, -int(syscall.ENOENT), code)
}

func TestDispatchEnqueueFailure(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	p.EXPECT().Enqueue("process", gomock.Any(), "").Return(nil, errors.New("queue full"))

	cmd := &transport.Command{Flags: transport.CmdNeedAck}
	code := h.router.Process(context.Background(), cmd, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))

	assert.Equal(t, -int(syscall.EXFULL), code)
	assert.Zero(t, h.router.Jobs(), "failed dispatch must not leak a job")
	assert.NotZero(t, cmd.Flags&transport.CmdNeedAck, "the transport still owes the caller an ack")
}

func TestFailedDispatchSilencesWorkerStream(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	stream := mocks.NewMockRequestStream(ctrl)

	var up engine.Upstream
	p.EXPECT().Enqueue("process", gomock.Any(), "").DoAndReturn(
		func(_ string, u engine.Upstream, _ string) (engine.RequestStream, error) {
			up = u
			return stream, nil
		})
	stream.EXPECT().Write(gomock.Any()).Return(errors.New("broken pipe"))
	stream.EXPECT().Close().Return(nil)

	code := h.router.Process(context.Background(), &transport.Command{Flags: transport.CmdNeedAck}, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))
	require.Equal(t, -int(syscall.EXFULL), code)

	// The error code already answered the caller. The spawned worker will
	// still be reaped and close the sink; nothing more may reach the sender.
	require.NotNil(t, up)
	up.Write([]byte(`"straggler"`))
	up.Close()
}

func TestControlMethodWinsOverReplyFlags(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	p.EXPECT().Stop()
	frame := buildFrame(protocol.FlagReply|protocol.FlagFinish, 1, "echo@stop-task", nil)
	code := h.router.Process(context.Background(), &transport.Command{}, frame)
	assert.Zero(t, code)
}

func TestDispatchStreamWriteFailure(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	stream := mocks.NewMockRequestStream(ctrl)
	p.EXPECT().Enqueue("process", gomock.Any(), "").Return(stream, nil)
	stream.EXPECT().Write(gomock.Any()).Return(errors.New("broken pipe"))
	stream.EXPECT().Close().Return(nil)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))
	assert.Equal(t, -int(syscall.EXFULL), code)
	assert.Zero(t, h.router.Jobs())
}

func TestStartMultipleTaskUsesStoredProfile(t *testing.T) {
	h := newHarness(t)
	prof := &profile.Profile{PoolLimit: 3}
	h.profiles.EXPECT().Get(gomock.Any(), "echo").Return(prof, nil)
	p := h.mockPool(t, "echo", gomock.Eq(prof))

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@start-multiple-task", []byte("task9")))
	require.Zero(t, code)

	// Round-robin selection lands on instance 1 first.
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	stream := mocks.NewMockRequestStream(ctrl)
	p.EXPECT().Enqueue("process", gomock.Any(), "task9-echo-1").Return(stream, nil)
	stream.EXPECT().Write(gomock.Any()).Return(nil)
	stream.EXPECT().Close().Return(nil)

	code = h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@process", nil))
	assert.Zero(t, code)
}

func TestStartMultipleTaskWithoutProfile(t *testing.T) {
	h := newHarness(t)
	h.profiles.EXPECT().Get(gomock.Any(), "echo").Return(nil, profile.ErrNotFound)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@start-multiple-task", nil))
	assert.Equal(t, -int(syscall.ENOENT), code)
}

func TestInfoSendsSingleReply(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	p.EXPECT().Info(gomock.Any()).Return(json.RawMessage(`{"name":"echo"}`), nil)

	var sent []byte
	h.sender.EXPECT().SendReply(gomock.Any(), gomock.Any(), false).DoAndReturn(
		func(_ *transport.Command, data []byte, _ bool) error {
			sent = append([]byte(nil), data...)
			return nil
		})

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@info", nil))
	require.Zero(t, code)

	hdr, event, payload, err := protocol.ParseFrame(sent)
	require.NoError(t, err)
	assert.Equal(t, "echo@info", event)
	assert.Equal(t, "node-1:1025", hdr.AddrString())

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "echo", got["name"])
	assert.Contains(t, got, "counters")
}

func TestInfoUnknownApplication(t *testing.T) {
	h := newHarness(t)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "ghost@info", nil))
	assert.Equal(t, -int(syscall.ENOENT), code)
}

func TestStopTask(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	p.EXPECT().Stop()
	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@stop-task", nil))
	assert.Zero(t, code)

	code = h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "echo@info", nil))
	assert.Equal(t, -int(syscall.ENOENT), code)
}

func TestStopTaskUnknownApplicationIsNoop(t *testing.T) {
	h := newHarness(t)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "ghost@stop-task", nil))
	assert.Zero(t, code)
}

func TestMalformedFrame(t *testing.T) {
	h := newHarness(t)

	code := h.router.Process(context.Background(), &transport.Command{}, []byte("short"))
	assert.Equal(t, -int(syscall.EINVAL), code)
}

func TestInvalidEventName(t *testing.T) {
	h := newHarness(t)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(0, -1, "no-separator", nil))
	assert.Equal(t, -int(syscall.EINVAL), code)
}

func TestNilRouter(t *testing.T) {
	var r *Router
	code := r.Process(context.Background(), &transport.Command{}, nil)
	assert.Equal(t, -int(syscall.ENOTSUP), code)
}

func TestShutdownReleasesInflightJobs(t *testing.T) {
	h := newHarness(t)
	p := h.mockPool(t, "echo", gomock.Nil())
	startApp(t, h, "echo")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	stream := mocks.NewMockRequestStream(ctrl)
	p.EXPECT().Enqueue("process", gomock.Any(), "").Return(stream, nil)
	stream.EXPECT().Write(gomock.Any()).Return(nil)
	stream.EXPECT().Close().Return(nil)

	code := h.router.Process(context.Background(), &transport.Command{}, buildFrame(protocol.FlagSrcBlock, -1, "echo@process", nil))
	require.Zero(t, code)
	require.Equal(t, 1, h.router.Jobs())

	p.EXPECT().Stop()
	h.sender.EXPECT().SendAck(gomock.Any(), 0).Return(nil)

	h.router.Shutdown()
	assert.Zero(t, h.router.Jobs())
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/spindleworks/spindle/internal/engine"
	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/pool"
	"github.com/spindleworks/spindle/internal/profile"
	"github.com/spindleworks/spindle/internal/protocol"
	"github.com/spindleworks/spindle/internal/transport"
	"github.com/spindleworks/spindle/internal/upstream"
)

// Control methods handled by the router itself. Every other method is
// dispatched to a worker.
const (
	methodStartTask         = "start-task"
	methodStartMultipleTask = "start-multiple-task"
	methodStopTask          = "stop-task"
	methodInfo              = "info"
)

// Options configures a Router.
type Options struct {
	// Sender carries replies and acks back to callers.
	Sender transport.Sender
	// Engine starts worker pools.
	Engine engine.Engine
	// Profiles resolves execution profiles for multi-instance pools.
	Profiles profile.Store
	// LocalAddr is the address stamped into info replies.
	LocalAddr string
}

// Router routes inbound commands: control methods manage worker pools,
// reply frames are correlated back to in-flight jobs, and everything else is
// dispatched to a worker with a fresh reply sink.
type Router struct {
	sender    transport.Sender
	pools     *pool.Registry
	jobs      *upstream.Registry
	profiles  profile.Store
	localAddr string
	srcKey    atomic.Int32
	logger    *slog.Logger
}

// New creates a router.
func New(opts Options) *Router {
	return &Router{
		sender:    opts.Sender,
		pools:     pool.NewRegistry(opts.Engine),
		jobs:      upstream.NewRegistry(),
		profiles:  opts.Profiles,
		localAddr: opts.LocalAddr,
		logger:    log.WithComponent("router"),
	}
}

// Process handles one inbound command frame. It returns 0 on success and a
// negative errno otherwise; the caller decides how to surface the code.
func (r *Router) Process(ctx context.Context, cmd *transport.Command, buf []byte) int {
	return Errno(r.process(ctx, cmd, buf))
}

func (r *Router) process(ctx context.Context, cmd *transport.Command, buf []byte) error {
	if r == nil {
		return ErrNotInitialized
	}

	hdr, event, payload, err := protocol.ParseFrame(buf)
	if err != nil {
		r.logger.Error("unable to parse frame", "id", transport.DumpID(cmd.ID[:]), "size", len(buf), "error", err)
		return err
	}
	app, method, err := protocol.SplitEvent(event)
	if err != nil {
		r.logger.Error("unable to split event", "id", transport.DumpID(cmd.ID[:]), "event", event, "error", err)
		return err
	}

	logger := r.logger.With(
		"id", transport.DumpID(cmd.ID[:]),
		"src", transport.DumpID(hdr.Src[:]),
		"event", event,
	)

	switch method {
	case methodStartTask:
		_, _, err := r.pools.Start(app, false, nil, "")
		return err
	case methodStartMultipleTask:
		return r.startMultiple(ctx, app, payload)
	case methodStopTask:
		r.pools.Stop(app)
		return nil
	case methodInfo:
		return r.info(ctx, cmd, &hdr, event, app)
	default:
		if hdr.Flags&(protocol.FlagReply|protocol.FlagFinish) != 0 {
			return r.completeReply(&hdr, event, app, buf, logger)
		}
		return r.dispatch(cmd, &hdr, event, app, method, payload, logger)
	}
}

// completeReply routes a reply frame from a worker back to the sink of the
// job it answers. The whole frame is forwarded as-is; the caller parses it
// with the same codec.
func (r *Router) completeReply(hdr *protocol.Header, event, app string, frame []byte, logger *slog.Logger) error {
	final := hdr.Flags&protocol.FlagFinish != 0

	up := r.jobs.Get(hdr.SrcKey, final)
	if up == nil {
		logger.Warn("reply for unknown job", "job", hdr.SrcKey, "final", final)
		return fmt.Errorf("%w: source key %d", ErrJobNotFound, hdr.SrcKey)
	}

	if e := r.pools.Get(app); e != nil {
		e.Counters().Record(event, hdr.Flags)
	}

	up.Reply(final, frame)
	return nil
}

// startMultiple starts a multi-instance pool. The payload names the task the
// instances belong to; the execution profile comes from the profile store.
func (r *Router) startMultiple(ctx context.Context, app string, payload []byte) error {
	taskID := string(bytes.TrimRight(payload, "\x00"))

	prof, err := r.profiles.Get(ctx, app)
	if err != nil {
		return err
	}

	_, _, err = r.pools.Start(app, true, prof, taskID)
	return err
}

// info answers with a single reply frame carrying pool introspection and
// dispatch counters as JSON.
func (r *Router) info(ctx context.Context, cmd *transport.Command, hdr *protocol.Header, event, app string) error {
	blob, err := r.pools.Info(ctx, app)
	if err != nil {
		return err
	}

	rh := *hdr
	rh.SetAddr(r.localAddr)
	frame := protocol.EncodeFrame(&rh, event, blob)

	if err := r.sender.SendReply(cmd, frame, false); err != nil {
		return fmt.Errorf("send info reply: %w", err)
	}
	return nil
}

// dispatch hands a new job to a worker. Blocking dispatches get a fresh
// source key, are stamped with the caller's id, and are registered so the
// worker's reply stream can be correlated back.
func (r *Router) dispatch(cmd *transport.Command, hdr *protocol.Header, event, app, method string, payload []byte, logger *slog.Logger) error {
	srcKeyOrig := hdr.SrcKey
	blocking := hdr.Flags&protocol.FlagSrcBlock != 0
	if blocking {
		hdr.SrcKey = r.srcKey.Add(1)
		hdr.Src = cmd.ID
	}
	key := hdr.SrcKey

	entry := r.pools.Get(app)
	if entry == nil {
		logger.Error("dispatch to application that is not running", "job", key)
		return fmt.Errorf("%w: %s", pool.ErrNotFound, app)
	}
	entry.Counters().Record(event, hdr.Flags)

	up := upstream.New(r.sender, cmd, *hdr, event, func() {
		r.jobs.Complete(key)
	})
	if blocking {
		r.jobs.Register(key, up)
	}

	idx := entry.Index(srcKeyOrig)
	instance := entry.InstanceName(idx)
	frame := protocol.EncodeFrame(hdr, event, payload)

	fail := func(stage string, err error) error {
		// The error code returned from here answers the caller through the
		// transport ack. Latch the sink so a worker that was already spawned
		// cannot send a second terminal signal when it is reaped.
		up.Discard()
		if blocking {
			r.jobs.Complete(key)
		}
		logger.Error("dispatch failed",
			"stage", stage,
			"job", key,
			"instance", instance,
			"blocking", blocking,
			"payload_size", len(payload),
			"error", err,
		)
		return fmt.Errorf("%w: %s %s: %v", ErrDispatchFailed, stage, event, err)
	}

	stream, err := entry.Pool().Enqueue(method, up, instance)
	if err != nil {
		return fail("enqueue", err)
	}
	if err := stream.Write(frame); err != nil {
		_ = stream.Close()
		return fail("write", err)
	}
	if err := stream.Close(); err != nil {
		return fail("close", err)
	}

	if blocking {
		// The reply stream will answer the caller; an independent ack would
		// be a duplicate.
		cmd.Flags &^= transport.CmdNeedAck
	}

	logger.Debug("dispatched", "job", key, "instance", instance, "blocking", blocking, "payload_size", len(payload))
	return nil
}

// Info returns introspection JSON for a running application.
func (r *Router) Info(ctx context.Context, app string) (json.RawMessage, error) {
	return r.pools.Info(ctx, app)
}

// Apps lists the running applications.
func (r *Router) Apps() []string {
	return r.pools.Apps()
}

// Jobs reports the number of in-flight blocking jobs.
func (r *Router) Jobs() int {
	return r.jobs.Len()
}

// Shutdown stops every pool and releases the sinks of jobs still in flight
// so their callers receive a terminal signal.
func (r *Router) Shutdown() {
	r.pools.Shutdown()
	for _, up := range r.jobs.Drain() {
		up.Release()
	}
}

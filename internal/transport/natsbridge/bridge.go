// Package natsbridge serves the dispatch protocol over NATS and carries
// replies and acks back to callers.
package natsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/transport"
)

// Message headers carried on replies and acks.
const (
	// HeaderMore marks a reply frame with more chunks to follow ("1") or
	// the end of the stream ("0").
	HeaderMore = "Spindle-More"
	// HeaderStatus carries the errno of an ack; "0" means success.
	HeaderStatus = "Spindle-Status"
)

// Processor handles one inbound command frame and returns 0 or a negative
// errno. Implemented by the router.
type Processor interface {
	Process(ctx context.Context, cmd *transport.Command, buf []byte) int
}

// Connect creates a NATS connection with reconnect handling.
func Connect(url, name string) (*nats.Conn, error) {
	logger := log.WithComponent("natsbridge")
	logger.Info("connecting to NATS", "url", url, "name", name)

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.Info("connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}

// Bridge adapts a NATS connection to the Sender contract and serves inbound
// command frames.
type Bridge struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ transport.Sender = (*Bridge)(nil)

// New creates a bridge serving commands published on subject.
func New(nc *nats.Conn, subject string) *Bridge {
	return &Bridge{
		nc:      nc,
		subject: subject,
		logger:  log.WithComponent("natsbridge"),
	}
}

// SendReply publishes a data frame to the caller's reply subject. Callers
// without a reply subject cannot receive data; the frame is dropped.
func (b *Bridge) SendReply(cmd *transport.Command, data []byte, more bool) error {
	if cmd.Reply == "" {
		b.logger.Debug("dropping reply for caller without reply subject", "size", len(data))
		return nil
	}

	moreVal := "0"
	if more {
		moreVal = "1"
	}
	msg := &nats.Msg{
		Subject: cmd.Reply,
		Header:  nats.Header{HeaderMore: []string{moreVal}},
		Data:    data,
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish reply to %s: %w", cmd.Reply, err)
	}
	return nil
}

// SendAck publishes a bare acknowledgment carrying an errno.
func (b *Bridge) SendAck(cmd *transport.Command, code int) error {
	if cmd.Reply == "" {
		return nil
	}

	msg := &nats.Msg{
		Subject: cmd.Reply,
		Header:  nats.Header{HeaderStatus: []string{strconv.Itoa(code)}},
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish ack to %s: %w", cmd.Reply, err)
	}
	return nil
}

// Serve subscribes to the command subject and processes frames until ctx is
// cancelled (blocking).
func (b *Bridge) Serve(ctx context.Context, p Processor) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		b.handle(ctx, p, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}

	b.logger.Info("serving commands", "subject", b.subject)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		b.logger.Warn("drain subscription failed", "error", err)
	}
	return ctx.Err()
}

// handle converts one NATS message into a command. Callers that set a reply
// subject get an ack unless the router hands the job to a reply stream that
// will answer them instead.
func (b *Bridge) handle(ctx context.Context, p Processor, msg *nats.Msg) {
	cmd := &transport.Command{Reply: msg.Reply}
	if msg.Reply != "" {
		cmd.ID = transport.SourceID(msg.Reply)
		cmd.Flags = transport.CmdNeedAck
	} else {
		cmd.ID = transport.SourceID(uuid.NewString())
	}

	code := p.Process(ctx, cmd, msg.Data)
	switch {
	case code != 0:
		if err := b.SendAck(cmd, code); err != nil {
			b.logger.Error("send error ack failed", "code", code, "error", err)
		}
	case cmd.Flags&transport.CmdNeedAck != 0:
		if err := b.SendAck(cmd, 0); err != nil {
			b.logger.Error("send ack failed", "error", err)
		}
	}
}

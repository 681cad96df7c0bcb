package sip

import (
	"bufio"
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/message"
)

// streamChannel carries the send and read plumbing shared by all streamed
// channels. The dial function produces the connected, protocol-ready
// net.Conn.
type streamChannel struct {
	channelCore
	protocol string
	impl     Channel
	dial     func(ctx context.Context) (net.Conn, error)

	wmu sync.Mutex
}

// LogValue implements [slog.LogValuer].
func (ch *streamChannel) LogValue() slog.Value {
	if ch == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("destination", ch.dest),
		slog.Any("state", ch.State()),
	)
}

// Connect dials the destination. Completion is reported through the
// observer from the dialing goroutine.
func (ch *streamChannel) Connect(ctx context.Context) error {
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connecting", slog.Any("channel", ch.impl))

	go func() {
		conn, err := ch.dial(ctx)
		if err != nil {
			ch.finishConnect(nil, "")
			ch.observer.OnChannelConnected(ch.impl, errtrace.Wrap(fmt.Errorf("connect %s: %w", ch.dest, err)))
			return
		}
		ch.finishConnect(conn, ch.protocol)
		if ch.State() != ChannelStateConnected {
			return
		}

		ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connected",
			slog.Any("channel", ch.impl),
			slog.Any("origin", ch.Origin()),
		)

		ch.observer.OnChannelConnected(ch.impl, nil)
		go ch.readLoop(conn)
	}()

	return nil
}

func (ch *streamChannel) readLoop(conn net.Conn) {
	br := bufio.NewReaderSize(conn, int(MaxMsgSize))
	for {
		raw, err := readStreamMessage(br)
		if err != nil {
			if ch.shutdown() {
				ch.observer.OnChannelClosed(ch.impl, errtrace.Wrap(err))
			}
			return
		}

		msg, err := message.ReadMessage(raw)
		if err != nil {
			ch.log.LogAttrs(context.Background(), slog.LevelWarn, "discard unparsable message",
				slog.Any("channel", ch.impl),
				slog.Any("error", err),
			)
			continue
		}
		ch.observer.OnIncomingMessage(ch.impl, msg)
	}
}

// Send serializes the message and writes it to the stream. Writes are
// serialized so messages hit the wire in Send order.
func (ch *streamChannel) Send(ctx context.Context, msg *message.Message) error {
	conn, err := ch.sendConn()
	if err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel send", slog.Any("channel", ch.impl), slog.Any("message", msg))

	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	if _, err := conn.Write(msg.Serialize()); err != nil {
		return errtrace.Wrap(fmt.Errorf("send to %s: %w", ch.dest, err))
	}
	return nil
}

// Close tears down the connection.
func (ch *streamChannel) Close() error {
	return errtrace.Wrap(ch.CloseWithError(nil))
}

// CloseWithError tears down the connection reporting err to the observer.
func (ch *streamChannel) CloseWithError(err error) error {
	if ch.shutdown() {
		ch.log.LogAttrs(context.Background(), slog.LevelDebug, "channel closed",
			slog.Any("channel", ch.impl),
			slog.Any("error", err),
		)
		ch.observer.OnChannelClosed(ch.impl, err)
	}
	return nil
}

// ReconnectIgnoringLastError applies only to TLS channels.
func (ch *streamChannel) ReconnectIgnoringLastError(context.Context) error {
	return errtrace.Wrap(ErrActionNotAllowed)
}

// ReconnectWithCertificate applies only to TLS channels.
func (ch *streamChannel) ReconnectWithCertificate(context.Context, *x509.Certificate) error {
	return errtrace.Wrap(ErrActionNotAllowed)
}

// TCPChannel carries SIP messages over a TCP stream.
type TCPChannel struct {
	streamChannel
}

// NewTCPChannel creates a TCP channel for the destination endpoint.
func NewTCPChannel(dest EndPoint, observer ChannelObserver, opts *ChannelOptions) (*TCPChannel, error) {
	if dest.Host == "" || dest.Port == 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid destination"))
	}
	if observer == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid observer"))
	}

	dialer := opts.dialer()
	resolver := opts.resolver()

	ch := new(TCPChannel)
	ch.channelCore = newChannelCore(dest, observer, opts.log())
	ch.protocol = ProtocolTCP
	ch.impl = ch
	ch.dial = func(ctx context.Context) (net.Conn, error) {
		addr, err := resolveDest(ctx, resolver, dest)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return errtrace.Wrap2(dialer.DialContext(ctx, "tcp", addr))
	}
	return ch, nil
}

// NewTCPChannelFactory returns a factory producing TCP channels with the
// given options.
func NewTCPChannelFactory(opts *ChannelOptions) ChannelFactory {
	return ChannelFactoryFunc(func(dest EndPoint, observer ChannelObserver) (Channel, error) {
		return errtrace.Wrap2(NewTCPChannel(dest, observer, opts))
	})
}

// IsReliable reports whether the transport guarantees delivery.
func (ch *TCPChannel) IsReliable() bool { return true }

// IsSecure reports whether the transport runs over TLS.
func (ch *TCPChannel) IsSecure() bool { return false }

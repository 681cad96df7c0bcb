package sip

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/dns"
	"github.com/sippet/go-sippet/message"
)

// UDPChannel carries SIP messages over a connected UDP socket. Each
// datagram holds exactly one message.
type UDPChannel struct {
	channelCore
	dialer   *net.Dialer
	resolver *dns.Resolver
}

// NewUDPChannel creates a UDP channel for the destination endpoint.
func NewUDPChannel(dest EndPoint, observer ChannelObserver, opts *ChannelOptions) (*UDPChannel, error) {
	if dest.Host == "" || dest.Port == 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid destination"))
	}
	if observer == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid observer"))
	}

	ch := &UDPChannel{
		dialer:   opts.dialer(),
		resolver: opts.resolver(),
	}
	ch.channelCore = newChannelCore(dest, observer, opts.log())
	return ch, nil
}

// NewUDPChannelFactory returns a factory producing UDP channels with the
// given options.
func NewUDPChannelFactory(opts *ChannelOptions) ChannelFactory {
	return ChannelFactoryFunc(func(dest EndPoint, observer ChannelObserver) (Channel, error) {
		return errtrace.Wrap2(NewUDPChannel(dest, observer, opts))
	})
}

// LogValue implements [slog.LogValuer].
func (ch *UDPChannel) LogValue() slog.Value {
	if ch == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("destination", ch.dest),
		slog.Any("state", ch.State()),
	)
}

// IsReliable reports whether the transport guarantees delivery.
func (ch *UDPChannel) IsReliable() bool { return false }

// IsSecure reports whether the transport runs over TLS.
func (ch *UDPChannel) IsSecure() bool { return false }

// Connect binds a connected UDP socket to the destination. Completion is
// reported through the observer on a separate goroutine, so the caller sees
// it on its next dispatch cycle.
func (ch *UDPChannel) Connect(ctx context.Context) error {
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connecting", slog.Any("channel", ch))

	go func() {
		conn, err := ch.dialDest(ctx)
		if err != nil {
			ch.finishConnect(nil, "")
			ch.observer.OnChannelConnected(ch, errtrace.Wrap(fmt.Errorf("connect %s: %w", ch.dest, err)))
			return
		}
		ch.finishConnect(conn, ProtocolUDP)
		if ch.State() != ChannelStateConnected {
			return
		}

		ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connected",
			slog.Any("channel", ch),
			slog.Any("origin", ch.Origin()),
		)

		ch.observer.OnChannelConnected(ch, nil)
		go ch.readLoop(conn)
	}()

	return nil
}

func (ch *UDPChannel) dialDest(ctx context.Context) (net.Conn, error) {
	addr, err := resolveDest(ctx, ch.resolver, ch.dest)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(ch.dialer.DialContext(ctx, "udp", addr))
}

func (ch *UDPChannel) readLoop(conn net.Conn) {
	buf := make([]byte, MTU)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ch.shutdown() {
				ch.observer.OnChannelClosed(ch, errtrace.Wrap(err))
			}
			return
		}

		msg, err := message.ReadMessage(buf[:n])
		if err != nil {
			ch.log.LogAttrs(context.Background(), slog.LevelWarn, "discard unparsable datagram",
				slog.Any("channel", ch),
				slog.Any("error", err),
			)
			continue
		}
		ch.observer.OnIncomingMessage(ch, msg)
	}
}

// Send serializes the message into a single datagram and transmits it.
func (ch *UDPChannel) Send(ctx context.Context, msg *message.Message) error {
	conn, err := ch.sendConn()
	if err != nil {
		return errtrace.Wrap(err)
	}

	raw := msg.Serialize()
	if uint(len(raw)) > MTU {
		return errtrace.Wrap(ErrMessageTooLarge)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel send", slog.Any("channel", ch), slog.Any("message", msg))

	if _, err := conn.Write(raw); err != nil {
		return errtrace.Wrap(fmt.Errorf("send to %s: %w", ch.dest, err))
	}
	return nil
}

// Close tears down the connection.
func (ch *UDPChannel) Close() error {
	return errtrace.Wrap(ch.CloseWithError(nil))
}

// CloseWithError tears down the connection reporting err to the observer.
func (ch *UDPChannel) CloseWithError(err error) error {
	if ch.shutdown() {
		ch.log.LogAttrs(context.Background(), slog.LevelDebug, "channel closed",
			slog.Any("channel", ch),
			slog.Any("error", err),
		)
		ch.observer.OnChannelClosed(ch, err)
	}
	return nil
}

// ReconnectIgnoringLastError applies only to TLS channels.
func (ch *UDPChannel) ReconnectIgnoringLastError(context.Context) error {
	return errtrace.Wrap(ErrActionNotAllowed)
}

// ReconnectWithCertificate applies only to TLS channels.
func (ch *UDPChannel) ReconnectWithCertificate(context.Context, *x509.Certificate) error {
	return errtrace.Wrap(ErrActionNotAllowed)
}

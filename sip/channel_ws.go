package sip

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sippet/go-sippet/dns"
	"github.com/sippet/go-sippet/message"
)

// WSChannel carries SIP messages over a WebSocket connection, per RFC 7118.
// Each text frame holds exactly one message.
type WSChannel struct {
	streamChannel
	dialer   *net.Dialer
	resolver *dns.Resolver
	tlsCfg   *tls.Config
	secure   bool
	certErr  atomic.Pointer[tls.CertificateVerificationError]
}

// NewWSChannel creates a WebSocket channel for the destination endpoint.
// The secure flag selects WSS.
func NewWSChannel(dest EndPoint, observer ChannelObserver, secure bool, opts *ChannelOptions) (*WSChannel, error) {
	if dest.Host == "" || dest.Port == 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid destination"))
	}
	if observer == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid observer"))
	}

	ch := new(WSChannel)
	ch.channelCore = newChannelCore(dest, observer, opts.log())
	ch.protocol = ProtocolWS
	if secure {
		ch.protocol = ProtocolWSS
	}
	ch.impl = ch
	ch.dialer = opts.dialer()
	ch.resolver = opts.resolver()
	ch.secure = secure
	if secure {
		ch.tlsCfg = opts.tlsConfig()
		if ch.tlsCfg.ServerName == "" {
			ch.tlsCfg.ServerName = dest.Host
		}
	}
	return ch, nil
}

// NewWSChannelFactory returns a factory producing WebSocket channels with
// the given options.
func NewWSChannelFactory(secure bool, opts *ChannelOptions) ChannelFactory {
	return ChannelFactoryFunc(func(dest EndPoint, observer ChannelObserver) (Channel, error) {
		return errtrace.Wrap2(NewWSChannel(dest, observer, secure, opts))
	})
}

// IsReliable reports whether the transport guarantees delivery.
func (ch *WSChannel) IsReliable() bool { return true }

// IsSecure reports whether the transport runs over TLS.
func (ch *WSChannel) IsSecure() bool { return ch.secure }

// Connect dials the destination and performs the WebSocket upgrade with the
// "sip" subprotocol.
func (ch *WSChannel) Connect(ctx context.Context) error {
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connecting", slog.Any("channel", ch))

	go ch.connect(ctx, ch.tlsCfg)
	return nil
}

func (ch *WSChannel) connect(ctx context.Context, cfg *tls.Config) {
	conn, err := ch.dialDest(ctx)
	if err != nil {
		ch.finishConnect(nil, "")
		ch.observer.OnChannelConnected(ch, errtrace.Wrap(fmt.Errorf("connect %s: %w", ch.dest, err)))
		return
	}

	if ch.secure {
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close() //nolint:errcheck
			ch.finishConnect(nil, "")

			var verifErr *tls.CertificateVerificationError
			if errors.As(err, &verifErr) {
				ch.certErr.Store(verifErr)

				ch.log.LogAttrs(ctx, slog.LevelDebug, "channel certificate error",
					slog.Any("channel", ch),
					slog.Any("error", err),
				)

				ch.observer.OnChannelCertError(ch, errtrace.Wrap(err))
				return
			}

			ch.observer.OnChannelConnected(ch, errtrace.Wrap(fmt.Errorf("handshake %s: %w", ch.dest, err)))
			return
		}
		ch.certErr.Store(nil)
		conn = tlsConn
	}

	dlr := ws.Dialer{
		Protocols: []string{"sip"},
	}
	scheme := "ws"
	if ch.secure {
		scheme = "wss"
	}
	if _, _, err := dlr.Upgrade(conn, &url.URL{
		Scheme: scheme,
		Host:   message.JoinHostPort(ch.dest.Host, ch.dest.Port),
	}); err != nil {
		conn.Close() //nolint:errcheck
		ch.finishConnect(nil, "")
		ch.observer.OnChannelConnected(ch, errtrace.Wrap(fmt.Errorf("upgrade %s: %w", ch.dest, err)))
		return
	}

	wsc := &wsConn{Conn: conn}
	ch.finishConnect(wsc, ch.protocol)
	if ch.State() != ChannelStateConnected {
		return
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connected",
		slog.Any("channel", ch),
		slog.Any("origin", ch.Origin()),
	)

	ch.observer.OnChannelConnected(ch, nil)
	go ch.readFrames(wsc)
}

func (ch *WSChannel) dialDest(ctx context.Context) (net.Conn, error) {
	addr, err := resolveDest(ctx, ch.resolver, ch.dest)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(ch.dialer.DialContext(ctx, "tcp", addr))
}

// readFrames reads WebSocket frames, each carrying one whole message.
func (ch *WSChannel) readFrames(conn *wsConn) {
	for {
		payload, _, err := wsutil.ReadServerData(conn.Conn)
		if err != nil {
			if ch.shutdown() {
				ch.observer.OnChannelClosed(ch, errtrace.Wrap(err))
			}
			return
		}
		if isBlankLine(payload) || len(bytes.TrimSpace(payload)) == 0 {
			// Keep-alive ping.
			continue
		}

		msg, err := message.ReadMessage(payload)
		if err != nil {
			ch.log.LogAttrs(context.Background(), slog.LevelWarn, "discard unparsable frame",
				slog.Any("channel", ch),
				slog.Any("error", err),
			)
			continue
		}
		ch.observer.OnIncomingMessage(ch, msg)
	}
}

// ReconnectIgnoringLastError re-attempts the handshake skipping certificate
// verification. It requires a secure channel with a pending certificate
// validation failure.
func (ch *WSChannel) ReconnectIgnoringLastError(ctx context.Context) error {
	if !ch.secure || ch.certErr.Load() == nil {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel reconnecting ignoring last error", slog.Any("channel", ch))

	cfg := ch.tlsCfg.Clone()
	cfg.InsecureSkipVerify = true

	go ch.connect(ctx, cfg)
	return nil
}

// ReconnectWithCertificate re-attempts the handshake trusting exactly the
// given peer certificate. It requires a secure channel with a pending
// certificate validation failure.
func (ch *WSChannel) ReconnectWithCertificate(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid certificate"))
	}
	if !ch.secure || ch.certErr.Load() == nil {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel reconnecting with certificate", slog.Any("channel", ch))

	cfg := ch.tlsCfg.Clone()
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], cert.Raw) {
			return errtrace.Wrap(ErrCertificateUnknown)
		}
		return nil
	}

	go ch.connect(ctx, cfg)
	return nil
}

// wsConn adapts a WebSocket connection to the stream send path: each write
// becomes a single client text frame.
type wsConn struct {
	net.Conn
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := wsutil.WriteClientMessage(c.Conn, ws.OpText, b); err != nil {
		return 0, errtrace.Wrap(err)
	}
	return len(b), nil
}

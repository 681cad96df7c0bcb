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
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/dns"
)

// TLSChannel carries SIP messages over a TLS stream. A handshake that fails
// certificate validation parks the channel: the observer receives
// OnChannelCertError and the channel waits for one of the reconnect methods
// or Close.
type TLSChannel struct {
	streamChannel
	dialer   *net.Dialer
	resolver *dns.Resolver
	tlsCfg   *tls.Config
	certErr  atomic.Pointer[tls.CertificateVerificationError]
}

// NewTLSChannel creates a TLS channel for the destination endpoint.
func NewTLSChannel(dest EndPoint, observer ChannelObserver, opts *ChannelOptions) (*TLSChannel, error) {
	if dest.Host == "" || dest.Port == 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid destination"))
	}
	if observer == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid observer"))
	}

	ch := new(TLSChannel)
	ch.channelCore = newChannelCore(dest, observer, opts.log())
	ch.protocol = ProtocolTLS
	ch.impl = ch
	ch.dialer = opts.dialer()
	ch.resolver = opts.resolver()
	ch.tlsCfg = opts.tlsConfig()
	// The handshake keeps verifying the destination name even when the
	// resolver rewrites the dialed address.
	if ch.tlsCfg.ServerName == "" {
		ch.tlsCfg.ServerName = dest.Host
	}
	return ch, nil
}

// NewTLSChannelFactory returns a factory producing TLS channels with the
// given options.
func NewTLSChannelFactory(opts *ChannelOptions) ChannelFactory {
	return ChannelFactoryFunc(func(dest EndPoint, observer ChannelObserver) (Channel, error) {
		return errtrace.Wrap2(NewTLSChannel(dest, observer, opts))
	})
}

// IsReliable reports whether the transport guarantees delivery.
func (ch *TLSChannel) IsReliable() bool { return true }

// IsSecure reports whether the transport runs over TLS.
func (ch *TLSChannel) IsSecure() bool { return true }

// Connect dials the destination and runs the TLS handshake.
func (ch *TLSChannel) Connect(ctx context.Context) error {
	if err := ch.beginConnect(); err != nil {
		return errtrace.Wrap(err)
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connecting", slog.Any("channel", ch))

	go ch.connect(ctx, ch.tlsCfg)
	return nil
}

func (ch *TLSChannel) connect(ctx context.Context, cfg *tls.Config) {
	conn, err := ch.dialDest(ctx)
	if err != nil {
		ch.finishConnect(nil, "")
		ch.observer.OnChannelConnected(ch, errtrace.Wrap(fmt.Errorf("connect %s: %w", ch.dest, err)))
		return
	}

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
	ch.finishConnect(tlsConn, ProtocolTLS)
	if ch.State() != ChannelStateConnected {
		return
	}

	ch.log.LogAttrs(ctx, slog.LevelDebug, "channel connected",
		slog.Any("channel", ch),
		slog.Any("origin", ch.Origin()),
	)

	ch.observer.OnChannelConnected(ch, nil)
	go ch.readLoop(tlsConn)
}

func (ch *TLSChannel) dialDest(ctx context.Context) (net.Conn, error) {
	addr, err := resolveDest(ctx, ch.resolver, ch.dest)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(ch.dialer.DialContext(ctx, "tcp", addr))
}

// ReconnectIgnoringLastError re-attempts the handshake skipping certificate
// verification. It requires a pending certificate validation failure.
func (ch *TLSChannel) ReconnectIgnoringLastError(ctx context.Context) error {
	if ch.certErr.Load() == nil {
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
// given peer certificate. It requires a pending certificate validation
// failure.
func (ch *TLSChannel) ReconnectWithCertificate(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid certificate"))
	}
	if ch.certErr.Load() == nil {
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

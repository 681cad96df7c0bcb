package sip

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/dns"
	"github.com/sippet/go-sippet/log"
	"github.com/sippet/go-sippet/message"
)

// Channel configuration variables.
var (
	// MTU limits the size of a message sent over an unreliable channel.
	MTU uint = 1500
	// MaxMsgSize limits the read buffer of streamed channels.
	MaxMsgSize uint = math.MaxUint16
)

// ChannelState is a connection state of a channel.
type ChannelState string

const (
	ChannelStateDisconnected ChannelState = "disconnected"
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateConnected    ChannelState = "connected"
	ChannelStateClosed       ChannelState = "closed"
)

// Channel is a bidirectional, framed carrier of SIP messages over a single
// transport, keyed by its destination endpoint.
type Channel interface {
	slog.LogValuer

	// Destination returns the remote endpoint the channel was created for.
	Destination() EndPoint
	// Origin returns the local endpoint assigned on connect.
	Origin() EndPoint
	// State returns the current connection state.
	State() ChannelState
	// Connect initiates connection establishment. Completion is reported
	// through [ChannelObserver.OnChannelConnected].
	Connect(ctx context.Context) error
	// Send serializes the message and transmits it. It must not be called
	// before the channel is connected.
	Send(ctx context.Context, msg *message.Message) error
	// Close tears down the connection.
	Close() error
	// CloseWithError tears down the connection reporting err to the
	// observer.
	CloseWithError(err error) error
	// ReconnectIgnoringLastError re-attempts a TLS handshake ignoring the
	// pending certificate validation failure.
	ReconnectIgnoringLastError(ctx context.Context) error
	// ReconnectWithCertificate re-attempts a TLS handshake trusting the
	// given certificate.
	ReconnectWithCertificate(ctx context.Context, cert *x509.Certificate) error
	// IsReliable reports whether the transport guarantees delivery.
	IsReliable() bool
	// IsSecure reports whether the transport runs over TLS.
	IsSecure() bool
}

// ChannelObserver receives channel events. Implementations serialize the
// callbacks on their own executor; channels invoke them from their read and
// connect goroutines.
type ChannelObserver interface {
	// OnChannelConnected fires once the connect attempt completes, with a
	// nil error on success.
	OnChannelConnected(ch Channel, err error)
	// OnIncomingMessage delivers a message parsed off the wire.
	OnIncomingMessage(ch Channel, msg *message.Message)
	// OnChannelClosed fires once the channel leaves the connected state,
	// with the error that caused the close, if any.
	OnChannelClosed(ch Channel, err error)
	// OnChannelCertError fires when a TLS handshake fails certificate
	// validation. The channel stays parked until one of the reconnect
	// methods or Close is called.
	OnChannelCertError(ch Channel, err error)
}

// ChannelFactory produces channels for destination endpoints of a single
// protocol.
type ChannelFactory interface {
	CreateChannel(dest EndPoint, observer ChannelObserver) (Channel, error)
}

// ChannelFactoryFunc is a [ChannelFactory] implementation based on a function.
type ChannelFactoryFunc func(dest EndPoint, observer ChannelObserver) (Channel, error)

func (f ChannelFactoryFunc) CreateChannel(dest EndPoint, observer ChannelObserver) (Channel, error) {
	return errtrace.Wrap2(f(dest, observer))
}

// ChannelOptions contains options common to all channel implementations.
type ChannelOptions struct {
	// Dialer is used to dial the underlying connection.
	// If nil, a zero [net.Dialer] is used.
	Dialer *net.Dialer
	// Resolver resolves destination hosts that are not IP literals.
	// If nil, the [dns.DefaultResolver] will be used.
	Resolver *dns.Resolver
	// TLSConfig is the TLS client configuration for secure channels.
	// If nil, a default configuration is used.
	TLSConfig *tls.Config
	// Log is the logger that will be used with the channel.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (o *ChannelOptions) dialer() *net.Dialer {
	if o == nil || o.Dialer == nil {
		return &net.Dialer{}
	}
	return o.Dialer
}

func (o *ChannelOptions) resolver() *dns.Resolver {
	if o == nil || o.Resolver == nil {
		return dns.DefaultResolver()
	}
	return o.Resolver
}

func (o *ChannelOptions) tlsConfig() *tls.Config {
	if o == nil || o.TLSConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return o.TLSConfig.Clone()
}

func (o *ChannelOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// resolveDest turns the destination endpoint into a dialable host:port
// address, consulting the resolver when the host is not an IP literal.
func resolveDest(ctx context.Context, resolver *dns.Resolver, dest EndPoint) (string, error) {
	if net.ParseIP(dest.Host) != nil {
		return message.JoinHostPort(dest.Host, dest.Port), nil
	}
	ips, err := resolver.LookupIP(ctx, "ip", dest.Host)
	if err != nil {
		return "", errtrace.Wrap(fmt.Errorf("resolve %q: %w", dest.Host, err))
	}
	if len(ips) == 0 {
		return "", errtrace.Wrap(ErrNoDestination)
	}
	return message.JoinHostPort(ips[0].String(), dest.Port), nil
}

// channelCore carries the state shared by all channel implementations.
type channelCore struct {
	dest     EndPoint
	observer ChannelObserver
	log      *slog.Logger

	mu     sync.Mutex
	state  ChannelState
	origin EndPoint
	conn   net.Conn
}

func newChannelCore(dest EndPoint, observer ChannelObserver, logger *slog.Logger) channelCore {
	return channelCore{
		dest:     dest,
		observer: observer,
		log:      logger,
		state:    ChannelStateDisconnected,
	}
}

// Destination returns the remote endpoint the channel was created for.
func (c *channelCore) Destination() EndPoint { return c.dest }

// Origin returns the local endpoint assigned on connect.
func (c *channelCore) Origin() EndPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.origin
}

// State returns the current connection state.
func (c *channelCore) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// beginConnect moves the channel into the connecting state. It fails unless
// the channel is disconnected.
func (c *channelCore) beginConnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case ChannelStateDisconnected:
		c.state = ChannelStateConnecting
		return nil
	case ChannelStateClosed:
		return errtrace.Wrap(ErrChannelClosed)
	default:
		return errtrace.Wrap(ErrActionNotAllowed)
	}
}

// finishConnect records the established connection and derives the origin
// from its local address. A nil conn rolls the state back to disconnected.
func (c *channelCore) finishConnect(conn net.Conn, protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelStateConnecting {
		if conn != nil {
			conn.Close() //nolint:errcheck
		}
		return
	}
	if conn == nil {
		c.state = ChannelStateDisconnected
		return
	}
	c.conn = conn
	c.state = ChannelStateConnected
	if host, port, err := message.SplitHostPort(conn.LocalAddr().String()); err == nil {
		c.origin = EndPoint{Host: host, Port: port, Protocol: protocol}
	}
}

// sendConn returns the connection to write to, failing unless connected.
func (c *channelCore) sendConn() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelStateConnected {
		return nil, errtrace.Wrap(ErrChannelClosed)
	}
	return c.conn, nil
}

// shutdown moves the channel into the closed state and closes the
// connection. It reports whether this call performed the transition.
func (c *channelCore) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChannelStateClosed {
		return false
	}
	c.state = ChannelStateClosed
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck
		c.conn = nil
	}
	return true
}

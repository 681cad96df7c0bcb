package sip

import (
	"log/slog"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
	"github.com/sippet/go-sippet/message"
)

// Protocol names as they appear in Via headers and endpoint keys.
const (
	ProtocolUDP = "UDP"
	ProtocolTCP = "TCP"
	ProtocolTLS = "TLS"
	ProtocolWS  = "WS"
	ProtocolWSS = "WSS"
)

// EndPoint identifies a remote or local SIP party by host, port and
// transport protocol.
type EndPoint struct {
	Host     string
	Port     int
	Protocol string
}

// String renders the endpoint as "host:port/PROTOCOL".
func (e EndPoint) String() string {
	return message.JoinHostPort(e.Host, e.Port) + "/" + util.UCase(e.Protocol)
}

// Key returns the normalized form used as a map key: host lower-cased,
// protocol upper-cased.
func (e EndPoint) Key() string {
	return message.JoinHostPort(util.LCase(e.Host), e.Port) + "/" + util.UCase(e.Protocol)
}

// Equal reports whether two endpoints denote the same destination.
// Host comparison is case-insensitive.
func (e EndPoint) Equal(o EndPoint) bool {
	return util.EqFold(e.Host, o.Host) &&
		e.Port == o.Port &&
		util.EqFold(e.Protocol, o.Protocol)
}

func (e EndPoint) IsZero() bool {
	return e.Host == "" && e.Port == 0 && e.Protocol == ""
}

// LogValue implements [slog.LogValuer].
func (e EndPoint) LogValue() slog.Value {
	return slog.StringValue(e.String())
}

// IsReliableProtocol reports whether the protocol guarantees delivery.
func IsReliableProtocol(protocol string) bool {
	return !util.EqFold(protocol, ProtocolUDP)
}

// IsSecureProtocol reports whether the protocol runs over TLS.
func IsSecureProtocol(protocol string) bool {
	return util.EqFold(protocol, ProtocolTLS) || util.EqFold(protocol, ProtocolWSS)
}

// EndPointForRequest computes the next-hop destination of an outgoing
// request: the first Route header when present, otherwise the request-URI.
// The protocol comes from the URI transport parameter, defaulting to UDP,
// or TLS for sips URIs. The port defaults to 5060, or 5061 for sips.
func EndPointForRequest(m *message.Message) (EndPoint, error) {
	if !m.IsRequest() {
		return EndPoint{}, errtrace.Wrap(NewInvalidArgumentError("not a request"))
	}

	target := m.RequestURI()
	if route, ok := m.EnumerateRoute(nil); ok && route.Address != "" {
		target = route.Address
	}

	uri, err := message.ParseURI(target)
	if err != nil {
		return EndPoint{}, errtrace.Wrap(err)
	}

	protocol := uri.Transport()
	if protocol == "" {
		if uri.IsSecure() {
			protocol = ProtocolTLS
		} else {
			protocol = ProtocolUDP
		}
	}

	return EndPoint{
		Host:     uri.Host,
		Port:     uri.EffectivePort(),
		Protocol: protocol,
	}, nil
}

// EndPointForResponse computes the destination of an outgoing response from
// the topmost Via: the received parameter overrides the sent-by host and
// rport overrides the sent-by port.
func EndPointForResponse(m *message.Message) (EndPoint, error) {
	if !m.IsResponse() {
		return EndPoint{}, errtrace.Wrap(NewInvalidArgumentError("not a response"))
	}

	via, err := m.TopVia()
	if err != nil {
		return EndPoint{}, errtrace.Wrap(err)
	}
	return endPointForVia(via), nil
}

func endPointForVia(via message.ViaHop) EndPoint {
	host := via.Host
	if received := via.Received(); received != "" {
		host = received
	}

	port := via.Port
	if rport, ok := via.Rport(); ok && rport > 0 {
		port = rport
	}
	if port == 0 {
		if IsSecureProtocol(via.Transport) {
			port = 5061
		} else {
			port = 5060
		}
	}

	return EndPoint{
		Host:     host,
		Port:     port,
		Protocol: util.UCase(via.Transport),
	}
}

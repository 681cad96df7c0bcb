package sip

import (
	"testing"
)

func TestEndPoint_StringKeyEqual(t *testing.T) {
	t.Parallel()

	e := EndPoint{Host: "Proxy.Example.COM", Port: 5060, Protocol: "tcp"}
	if got, want := e.String(), "Proxy.Example.COM:5060/TCP"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := e.Key(), "proxy.example.com:5060/TCP"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}

	o := EndPoint{Host: "proxy.example.com", Port: 5060, Protocol: "TCP"}
	if !e.Equal(o) {
		t.Errorf("Equal(%v, %v) = false, want true", e, o)
	}
	o.Port = 5061
	if e.Equal(o) {
		t.Errorf("Equal() = true for distinct ports")
	}

	if !(EndPoint{}).IsZero() {
		t.Errorf("IsZero() = false for zero value")
	}
	if e.IsZero() {
		t.Errorf("IsZero() = true for %v", e)
	}
}

func TestEndPoint_IPv6(t *testing.T) {
	t.Parallel()

	e := EndPoint{Host: "2001:db8::1", Port: 5060, Protocol: ProtocolUDP}
	if got, want := e.String(), "[2001:db8::1]:5060/UDP"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestIsReliableProtocol(t *testing.T) {
	t.Parallel()

	if IsReliableProtocol(ProtocolUDP) || IsReliableProtocol("udp") {
		t.Errorf("IsReliableProtocol(UDP) = true, want false")
	}
	for _, p := range []string{ProtocolTCP, ProtocolTLS, ProtocolWS, ProtocolWSS} {
		if !IsReliableProtocol(p) {
			t.Errorf("IsReliableProtocol(%s) = false, want true", p)
		}
	}
}

func TestIsSecureProtocol(t *testing.T) {
	t.Parallel()

	for _, p := range []string{ProtocolTLS, ProtocolWSS, "tls", "wss"} {
		if !IsSecureProtocol(p) {
			t.Errorf("IsSecureProtocol(%s) = false, want true", p)
		}
	}
	for _, p := range []string{ProtocolUDP, ProtocolTCP, ProtocolWS} {
		if IsSecureProtocol(p) {
			t.Errorf("IsSecureProtocol(%s) = true, want false", p)
		}
	}
}

func TestEndPointForRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want EndPoint
	}{
		{
			name: "request uri defaults",
			raw: "INVITE sip:bob@biloxi.com SIP/2.0\x00" +
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "biloxi.com", Port: 5060, Protocol: ProtocolUDP},
		},
		{
			name: "transport parameter",
			raw: "INVITE sip:bob@biloxi.com:5062;transport=tcp SIP/2.0\x00" +
				"Via: SIP/2.0/TCP pc33.atlanta.com;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "biloxi.com", Port: 5062, Protocol: ProtocolTCP},
		},
		{
			name: "sips defaults",
			raw: "INVITE sips:bob@biloxi.com SIP/2.0\x00" +
				"Via: SIP/2.0/TLS pc33.atlanta.com;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "biloxi.com", Port: 5061, Protocol: ProtocolTLS},
		},
		{
			name: "route overrides request uri",
			raw: "INVITE sip:bob@biloxi.com SIP/2.0\x00" +
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK77\x00" +
				"Route: <sip:proxy.atlanta.com:5070;lr>\x00\x00",
			want: EndPoint{Host: "proxy.atlanta.com", Port: 5070, Protocol: ProtocolUDP},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := EndPointForRequest(mustParseMsg(t, tc.raw))
			if err != nil {
				t.Fatalf("EndPointForRequest() error = %v, want nil", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("EndPointForRequest() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEndPointForRequest_NotARequest(t *testing.T) {
	t.Parallel()

	res := mustParseMsg(t, "SIP/2.0 200 OK\x00"+
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK77\x00\x00")
	if _, err := EndPointForRequest(res); err == nil {
		t.Fatalf("EndPointForRequest(response) error = nil, want non-nil")
	}
}

func TestEndPointForResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want EndPoint
	}{
		{
			name: "sent by",
			raw: "SIP/2.0 200 OK\x00" +
				"Via: SIP/2.0/UDP pc33.atlanta.com:5066;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "pc33.atlanta.com", Port: 5066, Protocol: ProtocolUDP},
		},
		{
			name: "default port",
			raw: "SIP/2.0 200 OK\x00" +
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "pc33.atlanta.com", Port: 5060, Protocol: ProtocolUDP},
		},
		{
			name: "default secure port",
			raw: "SIP/2.0 200 OK\x00" +
				"Via: SIP/2.0/TLS pc33.atlanta.com;branch=z9hG4bK77\x00\x00",
			want: EndPoint{Host: "pc33.atlanta.com", Port: 5061, Protocol: ProtocolTLS},
		},
		{
			name: "received and rport override sent by",
			raw: "SIP/2.0 200 OK\x00" +
				"Via: SIP/2.0/UDP pc33.atlanta.com:5066;branch=z9hG4bK77" +
				";received=192.0.2.4;rport=12345\x00\x00",
			want: EndPoint{Host: "192.0.2.4", Port: 12345, Protocol: ProtocolUDP},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := EndPointForResponse(mustParseMsg(t, tc.raw))
			if err != nil {
				t.Fatalf("EndPointForResponse() error = %v, want nil", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("EndPointForResponse() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEndPointForResponse_NotAResponse(t *testing.T) {
	t.Parallel()

	req := mustParseMsg(t, "OPTIONS sip:bob@biloxi.com SIP/2.0\x00"+
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK77\x00\x00")
	if _, err := EndPointForResponse(req); err == nil {
		t.Fatalf("EndPointForResponse(request) error = nil, want non-nil")
	}
}

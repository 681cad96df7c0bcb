package sip

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sippet/go-sippet/message"
)

func sendCallback() (SendCallback, chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func testNetOptions(t *testing.T) *message.Message {
	t.Helper()
	return mustParseMsg(t, "OPTIONS sip:bob@192.0.2.1 SIP/2.0\x00"+
		"Max-Forwards: 70\x00"+
		"From: Alice <sip:alice@atlanta.com>;tag=88sja8x\x00"+
		"To: Bob <sip:bob@192.0.2.1>\x00"+
		"Call-ID: 987asjd97y7atg\x00"+
		"CSeq: 1 OPTIONS\x00\x00")
}

func TestNetworkLayer_SendRequest(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{
		SoftwareName: "go-sippet test",
		Log:          testLog,
	})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}

	ch := waitRecv(t, factory.created, "channel")
	wantDest := EndPoint{Host: "192.0.2.1", Port: 5060, Protocol: ProtocolUDP}
	if !ch.dest.Equal(wantDest) {
		t.Errorf("channel destination = %v, want %v", ch.dest, wantDest)
	}
	if err := waitRecv(t, rec.connected, "connect notification"); err != nil {
		t.Fatalf("connect notification error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "send callback"); err != nil {
		t.Fatalf("send callback error = %v, want nil", err)
	}

	sent := waitRecv(t, ch.sent, "request on the wire")
	via, err := sent.TopVia()
	if err != nil {
		t.Fatalf("TopVia() error = %v, want nil", err)
	}
	if !IsRFC3261Branch(via.Branch()) {
		t.Errorf("stamped branch = %q, want magic cookie prefix", via.Branch())
	}
	if via.Host != "192.0.2.9" || via.Port != 5090 {
		t.Errorf("stamped sent-by = %s:%d, want 192.0.2.9:5090", via.Host, via.Port)
	}
	if !sent.HasHeader("user-agent") {
		t.Errorf("stamped request misses User-Agent")
	}

	res, err := message.NewResponseFrom(sent, 200, "")
	if err != nil {
		t.Fatalf("NewResponseFrom() error = %v, want nil", err)
	}
	ch.receive(res)
	if got := waitRecv(t, rec.responses, "incoming response"); got != res {
		t.Errorf("incoming response = %v, want the 200", got)
	}

	stats := n.Stats().Transactions
	if stats.NonInviteClientTransactionsTotal != 1 {
		t.Errorf("NonInviteClientTransactionsTotal = %d, want 1", stats.NonInviteClientTransactionsTotal)
	}
}

func TestNetworkLayer_StashFlushesOnConnect(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	factory.manual = true
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	fn1, cb1 := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn1); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	ch := waitRecv(t, factory.created, "channel")

	fn2, cb2 := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn2); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	// Both sends wait on the one pending channel.
	expectNone(t, factory.created, 50*time.Millisecond, "second channel")
	expectNone(t, cb1, 50*time.Millisecond, "early callback")

	ch.completeConnect(nil)

	if err := waitRecv(t, cb1, "first callback"); err != nil {
		t.Errorf("first callback error = %v, want nil", err)
	}
	if err := waitRecv(t, cb2, "second callback"); err != nil {
		t.Errorf("second callback error = %v, want nil", err)
	}
	waitRecv(t, ch.sent, "first send")
	waitRecv(t, ch.sent, "second send")
}

func TestNetworkLayer_ConnectFailure(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	factory.connectErr = io.ErrUnexpectedEOF
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}

	ch := waitRecv(t, factory.created, "channel")
	if err := waitRecv(t, rec.connected, "connect notification"); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("connect notification error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("send callback error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	waitRecv(t, ch.closed, "channel close")
}

func TestNetworkLayer_AckNeverOpensChannel(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	n := NewNetworkLayer(nil, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	ack := mustParseMsg(t, "ACK sip:bob@192.0.2.1 SIP/2.0\x00"+
		"Via: SIP/2.0/UDP 192.0.2.9:5090;branch=z9hG4bKack1\x00"+
		"From: Alice <sip:alice@atlanta.com>;tag=88sja8x\x00"+
		"To: Bob <sip:bob@192.0.2.1>;tag=99xyz\x00"+
		"Call-ID: 987asjd97y7atg\x00"+
		"CSeq: 1 ACK\x00\x00")

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), ack, fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("send callback error = %v, want %v", err, ErrChannelNotFound)
	}
	expectNone(t, factory.created, 50*time.Millisecond, "channel for ACK")
}

func TestNetworkLayer_UnknownProtocol(t *testing.T) {
	t.Parallel()

	n := NewNetworkLayer(nil, &NetworkOptions{Log: testLog})
	defer n.Close()

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("send callback error = %v, want %v", err, ErrUnknownProtocol)
	}
}

// dialPeer opens a connected channel to 192.0.2.1:5060/UDP by sending an
// OPTIONS request through the layer, returning the fake channel.
func dialPeer(t *testing.T, n *NetworkLayer, factory *fakeChannelFactory) *fakeChannel {
	t.Helper()

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	ch := waitRecv(t, factory.created, "channel")
	if err := waitRecv(t, cbErr, "send callback"); err != nil {
		t.Fatalf("send callback error = %v, want nil", err)
	}
	waitRecv(t, ch.sent, "dialing request")
	return ch
}

func TestNetworkLayer_IncomingInvite(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{
		Timings: TimingConfig{Time100: time.Minute},
		Log:     testLog,
	})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	ch := dialPeer(t, n, factory)

	const rawInvite = "INVITE sip:alice@192.0.2.9:5090 SIP/2.0\x00" +
		"Via: SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bKinv1\x00" +
		"From: Bob <sip:bob@192.0.2.1>;tag=314159\x00" +
		"To: Alice <sip:alice@atlanta.com>\x00" +
		"Call-ID: invite-call-1\x00" +
		"CSeq: 2 INVITE\x00\x00"

	ch.receive(mustParseMsg(t, rawInvite))
	invite := waitRecv(t, rec.requests, "incoming request")
	if got := invite.Method(); got != message.MethodInvite {
		t.Fatalf("incoming method = %q, want %q", got, message.MethodInvite)
	}

	// A retransmission is absorbed by the server transaction.
	ch.receive(mustParseMsg(t, rawInvite))
	expectNone(t, rec.requests, 100*time.Millisecond, "retransmitted request")

	// Responding routes through the matching server transaction.
	busy, err := message.NewResponseFrom(invite, 486, "")
	if err != nil {
		t.Fatalf("NewResponseFrom() error = %v, want nil", err)
	}
	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), busy, fn); err != nil {
		t.Fatalf("Send(response) error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "response callback"); err != nil {
		t.Fatalf("response callback error = %v, want nil", err)
	}
	if got := waitRecv(t, ch.sent, "response on the wire"); got.StatusCode() != 486 {
		t.Fatalf("sent response code = %d, want 486", got.StatusCode())
	}

	// The ACK for the final response confirms the transaction silently.
	ch.receive(mustParseMsg(t, "ACK sip:alice@192.0.2.9:5090 SIP/2.0\x00"+
		"Via: SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bKinv1\x00"+
		"From: Bob <sip:bob@192.0.2.1>;tag=314159\x00"+
		"To: Alice <sip:alice@atlanta.com>;tag=as7d9\x00"+
		"Call-ID: invite-call-1\x00"+
		"CSeq: 2 ACK\x00\x00"))
	expectNone(t, rec.requests, 100*time.Millisecond, "absorbed ACK")

	stats := n.Stats().Transactions
	if stats.InviteServerTransactionsTotal != 1 {
		t.Errorf("InviteServerTransactionsTotal = %d, want 1", stats.InviteServerTransactionsTotal)
	}
}

func TestNetworkLayer_UnmatchedAckAndAlias(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	ch := dialPeer(t, n, factory)

	// An ACK matching no transaction belongs to the upper layer. Its Via
	// resolves to another endpoint, which becomes an alias of the channel.
	ch.receive(mustParseMsg(t, "ACK sip:alice@192.0.2.9:5090 SIP/2.0\x00"+
		"Via: SIP/2.0/UDP 10.9.9.9:5060;branch=z9hG4bK2xx1;received=198.51.100.7\x00"+
		"From: Bob <sip:bob@192.0.2.1>;tag=314159\x00"+
		"To: Alice <sip:alice@atlanta.com>;tag=as7d9\x00"+
		"Call-ID: invite-call-2\x00"+
		"CSeq: 5 ACK\x00\x00"))
	if got := waitRecv(t, rec.requests, "unmatched ACK"); got.Method() != message.MethodAck {
		t.Fatalf("incoming method = %q, want %q", got.Method(), message.MethodAck)
	}

	// A transaction-less response towards the aliased endpoint reuses the
	// channel instead of failing with no channel found.
	res := mustParseMsg(t, "SIP/2.0 200 OK\x00"+
		"Via: SIP/2.0/UDP 10.9.9.9:5060;branch=z9hG4bKmsg7;received=198.51.100.7\x00"+
		"From: Bob <sip:bob@192.0.2.1>;tag=314159\x00"+
		"To: Alice <sip:alice@atlanta.com>;tag=as7d9\x00"+
		"Call-ID: invite-call-2\x00"+
		"CSeq: 6 MESSAGE\x00\x00")
	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), res, fn); err != nil {
		t.Fatalf("Send(response) error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "response callback"); err != nil {
		t.Fatalf("response callback error = %v, want nil", err)
	}
	if got := waitRecv(t, ch.sent, "response on the wire"); got != res {
		t.Fatalf("sent message = %v, want the 200", got)
	}
}

func TestNetworkLayer_SendResponseNoChannel(t *testing.T) {
	t.Parallel()

	n := NewNetworkLayer(nil, &NetworkOptions{Log: testLog})
	defer n.Close()

	res := mustParseMsg(t, "SIP/2.0 200 OK\x00"+
		"Via: SIP/2.0/UDP 203.0.113.4:5060;branch=z9hG4bKnone\x00"+
		"From: Bob <sip:bob@192.0.2.1>;tag=314159\x00"+
		"To: Alice <sip:alice@atlanta.com>;tag=as7d9\x00"+
		"Call-ID: orphan-1\x00"+
		"CSeq: 1 OPTIONS\x00\x00")
	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), res, fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("send callback error = %v, want %v", err, ErrChannelNotFound)
	}
}

func TestNetworkLayer_IdleChannelClosesAfterReuseLifetime(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{
		ReuseLifetime: 50 * time.Millisecond,
		Log:           testLog,
	})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	ch := dialPeer(t, n, factory)
	sent := ch.messages()[0]

	// Answering terminates the transaction, releasing the channel's last
	// user; the reuse lifetime then runs out.
	res, err := message.NewResponseFrom(sent, 200, "")
	if err != nil {
		t.Fatalf("NewResponseFrom() error = %v, want nil", err)
	}
	ch.receive(res)
	waitRecv(t, rec.responses, "incoming response")

	dest := waitRecv(t, rec.closed, "idle close notification")
	if !dest.Equal(ch.dest) {
		t.Errorf("closed endpoint = %v, want %v", dest, ch.dest)
	}
	waitRecv(t, ch.closed, "channel close")
}

func TestNetworkLayer_ChannelCloseTerminatesTransactions(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	ch := dialPeer(t, n, factory)

	stats := n.Stats().Transactions
	if stats.NonInviteClientTransactions != 1 {
		t.Fatalf("NonInviteClientTransactions = %d, want 1", stats.NonInviteClientTransactions)
	}

	ch.observer.OnChannelClosed(ch, io.EOF)

	dest := waitRecv(t, rec.closed, "close notification")
	if !dest.Equal(ch.dest) {
		t.Errorf("closed endpoint = %v, want %v", dest, ch.dest)
	}
	waitRecv(t, ch.closed, "channel close")

	stats = n.Stats().Transactions
	if stats.NonInviteClientTransactions != 0 {
		t.Errorf("NonInviteClientTransactions = %d, want 0 after close", stats.NonInviteClientTransactions)
	}
	if stats.NonInviteClientTransactionsTotal != 1 {
		t.Errorf("NonInviteClientTransactionsTotal = %d, want 1", stats.NonInviteClientTransactionsTotal)
	}
}

func TestNetworkLayer_CertErrorRejectedClosesChannel(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	factory.manual = true
	rec := newNetRecorder()

	handled := make(chan EndPoint, 1)
	n := NewNetworkLayer(rec, &NetworkOptions{
		TLSCertErrorHandler: func(dest EndPoint, _ error) TLSCertDecision {
			handled <- dest
			return TLSCertDecision{}
		},
		Log: testLog,
	})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolUDP, factory)

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	ch := waitRecv(t, factory.created, "channel")

	certErr := errors.New("certificate validation failed")
	ch.observer.OnChannelCertError(ch, certErr)

	if dest := waitRecv(t, handled, "handler consultation"); !dest.Equal(ch.dest) {
		t.Errorf("handler endpoint = %v, want %v", dest, ch.dest)
	}
	if err := waitRecv(t, rec.connected, "connect notification"); !errors.Is(err, certErr) {
		t.Errorf("connect notification error = %v, want %v", err, certErr)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, certErr) {
		t.Errorf("send callback error = %v, want %v", err, certErr)
	}
	waitRecv(t, ch.closed, "channel close")
}

func TestNetworkLayer_CloseFailsPendingSends(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	factory.manual = true
	n := NewNetworkLayer(nil, &NetworkOptions{Log: testLog})
	n.RegisterChannelFactory(ProtocolUDP, factory)

	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), testNetOptions(t), fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	ch := waitRecv(t, factory.created, "channel")

	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil", err)
	}
	if err := waitRecv(t, cbErr, "send callback"); !errors.Is(err, ErrNetworkClosed) {
		t.Errorf("send callback error = %v, want %v", err, ErrNetworkClosed)
	}
	waitRecv(t, ch.closed, "channel close")

	// Sends after Close fail without touching any factory.
	if err := n.Send(context.Background(), testNetOptions(t), nil); !errors.Is(err, ErrNetworkClosed) {
		t.Errorf("Send() after Close error = %v, want %v", err, ErrNetworkClosed)
	}
}

func TestStampViaReceived(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		via          string
		peer         EndPoint
		wantReceived string
		wantRport    int
	}{
		{
			name:         "host and port differ",
			via:          "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1",
			peer:         EndPoint{Host: "10.0.0.2", Port: 5070, Protocol: ProtocolUDP},
			wantReceived: "10.0.0.2",
			wantRport:    5070,
		},
		{
			name:         "valueless rport filled in",
			via:          "SIP/2.0/UDP 10.0.0.1:5060;rport;branch=z9hG4bK1",
			peer:         EndPoint{Host: "10.0.0.1", Port: 5060, Protocol: ProtocolUDP},
			wantReceived: "",
			wantRport:    5060,
		},
		{
			name:         "matching peer unchanged",
			via:          "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1",
			peer:         EndPoint{Host: "10.0.0.1", Port: 5060, Protocol: ProtocolUDP},
			wantReceived: "",
			wantRport:    0,
		},
		{
			name:         "existing received kept",
			via:          "SIP/2.0/UDP 10.0.0.1:5060;received=198.51.100.7;branch=z9hG4bK1",
			peer:         EndPoint{Host: "10.0.0.2", Port: 5060, Protocol: ProtocolUDP},
			wantReceived: "198.51.100.7",
			wantRport:    0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := mustParseMsg(t, "OPTIONS sip:alice@192.0.2.9 SIP/2.0\x00"+
				"Via: "+tc.via+"\x00"+
				"CSeq: 1 OPTIONS\x00\x00")
			if err := stampViaReceived(req, tc.peer); err != nil {
				t.Fatalf("stampViaReceived() error = %v, want nil", err)
			}

			via, err := req.TopVia()
			if err != nil {
				t.Fatalf("TopVia() error = %v, want nil", err)
			}
			if got := via.Received(); got != tc.wantReceived {
				t.Errorf("received = %q, want %q", got, tc.wantReceived)
			}
			rport, ok := via.Rport()
			if tc.wantRport == 0 && ok {
				t.Errorf("rport = %d, want none", rport)
			}
			if tc.wantRport != 0 && rport != tc.wantRport {
				t.Errorf("rport = %d, want %d", rport, tc.wantRport)
			}
		})
	}
}

func TestStampViaReceived_RoutesResponseBack(t *testing.T) {
	t.Parallel()

	req := mustParseMsg(t, "OPTIONS sip:alice@192.0.2.9 SIP/2.0\x00"+
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1\x00"+
		"From: Bob <sip:bob@10.0.0.1>;tag=1\x00"+
		"To: Alice <sip:alice@192.0.2.9>\x00"+
		"Call-ID: rr-1\x00"+
		"CSeq: 1 OPTIONS\x00\x00")
	peer := EndPoint{Host: "10.0.0.2", Port: 5070, Protocol: ProtocolUDP}
	if err := stampViaReceived(req, peer); err != nil {
		t.Fatalf("stampViaReceived() error = %v, want nil", err)
	}

	res, err := message.NewResponseFrom(req, 200, "")
	if err != nil {
		t.Fatalf("NewResponseFrom() error = %v, want nil", err)
	}
	dest, err := EndPointForResponse(res)
	if err != nil {
		t.Fatalf("EndPointForResponse() error = %v, want nil", err)
	}
	if !dest.Equal(peer) {
		t.Fatalf("response destination = %v, want the observed peer %v", dest, peer)
	}
}

func TestStampContacts(t *testing.T) {
	t.Parallel()

	factory := newFakeChannelFactory(true)
	rec := newNetRecorder()
	n := NewNetworkLayer(rec, &NetworkOptions{Log: testLog})
	defer n.Close()
	n.RegisterChannelFactory(ProtocolTCP, factory)

	req := mustParseMsg(t, "REGISTER sip:registrar.biloxi.com;transport=tcp SIP/2.0\x00"+
		"Max-Forwards: 70\x00"+
		"From: Bob <sip:bob@biloxi.com>;tag=456248\x00"+
		"To: Bob <sip:bob@biloxi.com>\x00"+
		"Call-ID: 843817637684230\x00"+
		"CSeq: 1826 REGISTER\x00"+
		"Contact: <sip:bob@domain.invalid>\x00\x00")
	fn, cbErr := sendCallback()
	if err := n.Send(context.Background(), req, fn); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	ch := waitRecv(t, factory.created, "channel")
	if err := waitRecv(t, cbErr, "send callback"); err != nil {
		t.Fatalf("send callback error = %v, want nil", err)
	}

	sent := waitRecv(t, ch.sent, "request on the wire")
	contact, ok := sent.EnumerateHeader(nil, "contact")
	if !ok {
		t.Fatalf("stamped request misses Contact")
	}
	if want := "<sip:bob@192.0.2.9:5090;transport=tcp>"; !strings.Contains(contact, want) {
		t.Errorf("Contact = %q, want it to contain %q", contact, want)
	}
	if strings.Contains(contact, ";ob") {
		t.Errorf("Contact = %q, REGISTER must not carry the outbound flag", contact)
	}
}

package sip

import (
	"context"
	"crypto/x509"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sippet/go-sippet/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLog = slog.New(slog.DiscardHandler)

func mustParseMsg(t *testing.T, raw string) *message.Message {
	t.Helper()
	m, err := message.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v, want nil", raw, err)
	}
	return m
}

func waitRecv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, wait time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(wait):
	}
}

// recordingSender is a MessageSender capturing every sent message and its
// offset from the sender's creation.
type recordingSender struct {
	reliable bool
	start    time.Time
	sent     chan *message.Message

	mu    sync.Mutex
	err   error
	times []time.Duration
	msgs  []*message.Message
}

func newRecordingSender(reliable bool) *recordingSender {
	return &recordingSender{
		reliable: reliable,
		start:    time.Now(),
		sent:     make(chan *message.Message, 64),
	}
}

func (s *recordingSender) SendMessage(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	s.times = append(s.times, time.Since(s.start))
	s.msgs = append(s.msgs, msg)
	err := s.err
	s.mu.Unlock()

	select {
	case s.sent <- msg:
	default:
	}
	return err
}

func (s *recordingSender) IsReliable() bool { return s.reliable }

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *recordingSender) sendTimes() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.times...)
}

func (s *recordingSender) messages() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.Message(nil), s.msgs...)
}

// txRecorder is a TransactionObserver turning callbacks into channels.
type txRecorder struct {
	messages   chan *message.Message
	terminated chan Transaction
	timedOut   chan Transaction
	errs       chan error
}

func newTxRecorder() *txRecorder {
	return &txRecorder{
		messages:   make(chan *message.Message, 16),
		terminated: make(chan Transaction, 16),
		timedOut:   make(chan Transaction, 16),
		errs:       make(chan error, 16),
	}
}

func (r *txRecorder) OnTransactionMessage(_ Transaction, msg *message.Message) { r.messages <- msg }
func (r *txRecorder) OnTransactionTerminated(tx Transaction) { r.terminated <- tx }
func (r *txRecorder) OnTransactionTimedOut(tx Transaction) { r.timedOut <- tx }
func (r *txRecorder) OnTransactionError(_ Transaction, err error) { r.errs <- err }

// netRecorder is a NetworkDelegate turning callbacks into channels.
type netRecorder struct {
	connected chan error
	closed    chan EndPoint
	requests  chan *message.Message
	responses chan *message.Message
	timedOut  chan *message.Message
	transpErr chan error
}

func newNetRecorder() *netRecorder {
	return &netRecorder{
		connected: make(chan error, 16),
		closed:    make(chan EndPoint, 16),
		requests:  make(chan *message.Message, 16),
		responses: make(chan *message.Message, 16),
		timedOut:  make(chan *message.Message, 16),
		transpErr: make(chan error, 16),
	}
}

func (r *netRecorder) OnChannelConnected(_ EndPoint, err error) { r.connected <- err }
func (r *netRecorder) OnChannelClosed(dest EndPoint) { r.closed <- dest }
func (r *netRecorder) OnIncomingRequest(req *message.Message) { r.requests <- req }
func (r *netRecorder) OnIncomingResponse(res *message.Message) { r.responses <- res }
func (r *netRecorder) OnTimedOut(req *message.Message) { r.timedOut <- req }
func (r *netRecorder) OnTransportError(_ *message.Message, err error) { r.transpErr <- err }

// fakeChannel is a Channel test double. With manual set, the connect
// attempt stays pending until completeConnect is called.
type fakeChannel struct {
	dest       EndPoint
	origin     EndPoint
	observer   ChannelObserver
	reliable   bool
	manual     bool
	connectErr error

	sent   chan *message.Message
	closed chan struct{}

	mu        sync.Mutex
	state     ChannelState
	msgs      []*message.Message
	closeOnce sync.Once
}

func (ch *fakeChannel) LogValue() slog.Value { return slog.StringValue(ch.dest.String()) }
func (ch *fakeChannel) Destination() EndPoint { return ch.dest }
func (ch *fakeChannel) Origin() EndPoint { return ch.origin }
func (ch *fakeChannel) IsReliable() bool { return ch.reliable }
func (ch *fakeChannel) IsSecure() bool { return false }

func (ch *fakeChannel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) Connect(context.Context) error {
	ch.mu.Lock()
	ch.state = ChannelStateConnecting
	ch.mu.Unlock()

	if !ch.manual {
		ch.completeConnect(ch.connectErr)
	}
	return nil
}

func (ch *fakeChannel) completeConnect(err error) {
	ch.mu.Lock()
	if err != nil {
		ch.state = ChannelStateDisconnected
	} else {
		ch.state = ChannelStateConnected
	}
	ch.mu.Unlock()

	ch.observer.OnChannelConnected(ch, err)
}

func (ch *fakeChannel) Send(_ context.Context, msg *message.Message) error {
	ch.mu.Lock()
	ch.msgs = append(ch.msgs, msg)
	ch.mu.Unlock()

	select {
	case ch.sent <- msg:
	default:
	}
	return nil
}

func (ch *fakeChannel) messages() []*message.Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]*message.Message(nil), ch.msgs...)
}

func (ch *fakeChannel) receive(msg *message.Message) {
	ch.observer.OnIncomingMessage(ch, msg)
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.state = ChannelStateClosed
	ch.mu.Unlock()

	ch.closeOnce.Do(func() { close(ch.closed) })
	return nil
}

func (ch *fakeChannel) CloseWithError(error) error { return ch.Close() }

func (ch *fakeChannel) ReconnectIgnoringLastError(context.Context) error {
	return ErrActionNotAllowed
}

func (ch *fakeChannel) ReconnectWithCertificate(context.Context, *x509.Certificate) error {
	return ErrActionNotAllowed
}

// fakeChannelFactory produces fakeChannels and records them.
type fakeChannelFactory struct {
	origin     EndPoint
	reliable   bool
	manual     bool
	connectErr error

	created chan *fakeChannel
}

func newFakeChannelFactory(reliable bool) *fakeChannelFactory {
	return &fakeChannelFactory{
		origin:   EndPoint{Host: "192.0.2.9", Port: 5090, Protocol: ProtocolUDP},
		reliable: reliable,
		created:  make(chan *fakeChannel, 16),
	}
}

func (f *fakeChannelFactory) CreateChannel(dest EndPoint, observer ChannelObserver) (Channel, error) {
	ch := &fakeChannel{
		dest:       dest,
		origin:     f.origin,
		observer:   observer,
		reliable:   f.reliable,
		manual:     f.manual,
		connectErr: f.connectErr,
		state:      ChannelStateDisconnected,
		sent:       make(chan *message.Message, 64),
		closed:     make(chan struct{}),
	}
	f.created <- ch
	return ch, nil
}

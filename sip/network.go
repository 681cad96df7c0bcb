package sip

import (
	"crypto/x509"
	"log/slog"
	"time"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/log"
	"github.com/sippet/go-sippet/message"
)

// NetworkDelegate receives the events the network layer reports to the
// upper layer. All callbacks fire from the network layer's task runner, so
// re-entrant sends are permitted but long work should move elsewhere.
type NetworkDelegate interface {
	// OnChannelConnected reports a finished connection attempt to the
	// endpoint. A nil error means the channel is ready.
	OnChannelConnected(dest EndPoint, err error)
	// OnChannelClosed reports that the channel to the endpoint is gone,
	// either closed by the peer or released after its reuse lifetime.
	OnChannelClosed(dest EndPoint)
	// OnIncomingRequest delivers a request that opened a new server
	// transaction, or an ACK matching no transaction.
	OnIncomingRequest(req *message.Message)
	// OnIncomingResponse delivers a response passed up by a client
	// transaction.
	OnIncomingResponse(res *message.Message)
	// OnTimedOut reports that the client transaction created for the
	// request expired without a final response.
	OnTimedOut(req *message.Message)
	// OnTransportError reports a transport failure that terminated the
	// transaction created for the request.
	OnTransportError(req *message.Message, err error)
}

type noopNetworkDelegate struct{}

func (noopNetworkDelegate) OnChannelConnected(EndPoint, error) {}
func (noopNetworkDelegate) OnChannelClosed(EndPoint) {}
func (noopNetworkDelegate) OnIncomingRequest(*message.Message) {}
func (noopNetworkDelegate) OnIncomingResponse(*message.Message) {}
func (noopNetworkDelegate) OnTimedOut(*message.Message) {}
func (noopNetworkDelegate) OnTransportError(*message.Message, error) {}

var noopNetDelegate noopNetworkDelegate

// SendCallback reports the completion of an asynchronous send. A nil error
// means the message was handed to the transport.
type SendCallback = func(err error)

// TLSCertDecision is the outcome of a certificate error consultation.
// Accept retries the handshake skipping verification; a non-nil Certificate
// retries trusting exactly that certificate. The zero value closes the
// channel.
type TLSCertDecision struct {
	Accept      bool
	Certificate *x509.Certificate
}

// TLSCertErrorHandler decides what to do with a channel whose TLS handshake
// failed certificate validation.
type TLSCertErrorHandler = func(dest EndPoint, err error) TLSCertDecision

// TransactionFactory creates the transactions the network layer drives.
// Replacing it lets tests observe transaction construction.
type TransactionFactory interface {
	CreateClientTransaction(
		req *message.Message,
		sender MessageSender,
		opts *ClientTransactionOptions,
	) (ClientTransaction, error)
	CreateServerTransaction(
		req *message.Message,
		sender MessageSender,
		opts *ServerTransactionOptions,
	) (ServerTransaction, error)
}

type defaultTransactionFactory struct{}

func (defaultTransactionFactory) CreateClientTransaction(
	req *message.Message,
	sender MessageSender,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	return errtrace.Wrap2(NewClientTransaction(req, sender, opts))
}

func (defaultTransactionFactory) CreateServerTransaction(
	req *message.Message,
	sender MessageSender,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	return errtrace.Wrap2(NewServerTransaction(req, sender, opts))
}

// DefaultReuseLifetime is how long an idle channel outlives its last user
// before the network layer closes it.
const DefaultReuseLifetime = 30 * time.Second

// NetworkOptions contains options for the network layer.
type NetworkOptions struct {
	// SoftwareName, when set, is stamped as the User-Agent header on
	// outgoing requests that carry none.
	SoftwareName string
	// Branch produces Via branch parameters for outgoing requests.
	// If nil, [GenerateBranch] will be used.
	Branch BranchFactory
	// TransactionFactory creates client and server transactions.
	// If nil, the built-in constructors will be used.
	TransactionFactory TransactionFactory
	// Timings is the SIP timing config passed to every transaction.
	// If zero, the default SIP timing config will be used.
	Timings TimingConfig
	// ReuseLifetime is how long an idle channel stays open waiting for a
	// new user. If zero, [DefaultReuseLifetime] will be used.
	ReuseLifetime time.Duration
	// TLSCertErrorHandler is consulted on TLS certificate validation
	// failures. If nil, such channels are closed.
	TLSCertErrorHandler TLSCertErrorHandler
	// Stats receives message and transaction counters. If nil, a private
	// recorder is used; it stays reachable through [NetworkLayer.Stats].
	Stats *StatsRecorder
	// Log is the logger that will be used with the network layer.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (o *NetworkOptions) softwareName() string {
	if o == nil {
		return ""
	}
	return o.SoftwareName
}

func (o *NetworkOptions) branch() BranchFactory {
	if o == nil || o.Branch == nil {
		return GenerateBranch
	}
	return o.Branch
}

func (o *NetworkOptions) transactionFactory() TransactionFactory {
	if o == nil || o.TransactionFactory == nil {
		return defaultTransactionFactory{}
	}
	return o.TransactionFactory
}

func (o *NetworkOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}.withDefaults()
	}
	return o.Timings.withDefaults()
}

func (o *NetworkOptions) reuseLifetime() time.Duration {
	if o == nil || o.ReuseLifetime <= 0 {
		return DefaultReuseLifetime
	}
	return o.ReuseLifetime
}

func (o *NetworkOptions) certErrorHandler() TLSCertErrorHandler {
	if o == nil {
		return nil
	}
	return o.TLSCertErrorHandler
}

func (o *NetworkOptions) stats() *StatsRecorder {
	if o == nil || o.Stats == nil {
		return new(StatsRecorder)
	}
	return o.Stats
}

func (o *NetworkOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

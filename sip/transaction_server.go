package sip

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
	"github.com/sippet/go-sippet/log"
	"github.com/sippet/go-sippet/message"
)

// ServerTransaction represents a SIP server transaction.
type ServerTransaction interface {
	Transaction
	// Request returns the request that created the transaction.
	Request() *message.Message
	// MatchRequest checks whether the request matches the server transaction.
	MatchRequest(req *message.Message) error
	// ReceiveRequest is called on each inbound request retransmission (or
	// matching ACK) received by the network layer.
	ReceiveRequest(ctx context.Context, req *message.Message) error
	// SendResponse sends a response through the transaction.
	SendResponse(ctx context.Context, res *message.Message) error
}

// NewServerTransaction creates a server transaction for the request and
// starts its state machine: an INVITE transaction for INVITE requests, a
// non-INVITE transaction otherwise. ACK never creates a transaction.
func NewServerTransaction(
	req *message.Message,
	sender MessageSender,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	if req != nil && util.EqFold(req.Method(), message.MethodInvite) {
		return errtrace.Wrap2(NewInviteServerTransaction(req, sender, opts))
	}
	return errtrace.Wrap2(NewNonInviteServerTransaction(req, sender, opts))
}

// ServerTransactionOptions contains options for a server transaction.
type ServerTransactionOptions struct {
	// ID is the transaction identifier. If empty, it is derived from the
	// request with [ServerTransactionID].
	ID string
	// Timings is the SIP timing config that will be used with the transaction.
	// If zero, the default SIP timing config will be used.
	Timings TimingConfig
	// Observer receives transaction lifecycle events.
	Observer TransactionObserver
	// Log is the logger that will be used with the transaction.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (o *ServerTransactionOptions) id() string {
	if o == nil {
		return ""
	}
	return o.ID
}

func (o *ServerTransactionOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}.withDefaults()
	}
	return o.Timings.withDefaults()
}

func (o *ServerTransactionOptions) observer() TransactionObserver {
	if o == nil || o.Observer == nil {
		return noopTxObserver
	}
	return o.Observer
}

func (o *ServerTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

type serverTransact struct {
	*baseTransact
	id      string
	sender  MessageSender
	timings TimingConfig
	req     *message.Message
	lastRes atomic.Pointer[message.Message]
}

func newServerTransact(
	typ TransactionType,
	impl ServerTransaction,
	req *message.Message,
	sender MessageSender,
	opts *ServerTransactionOptions,
) (*serverTransact, error) {
	if req == nil || !req.IsRequest() {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if sender == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid sender"))
	}

	id := opts.id()
	if id == "" {
		var err error
		if id, err = ServerTransactionID(req); err != nil {
			return nil, errtrace.Wrap(NewInvalidArgumentError(err))
		}
	}

	tx := &serverTransact{
		id:      id,
		sender:  sender,
		timings: opts.timings(),
		req:     req,
	}
	tx.baseTransact = newBaseTransact(context.Background(), typ, impl, opts.observer(), opts.log())
	return tx, nil
}

// LogValue implements [slog.LogValuer].
func (tx *serverTransact) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("id", tx.id),
		slog.Any("type", tx.typ),
		slog.Any("state", tx.State()),
	)
}

// ID returns the transaction identifier.
func (tx *serverTransact) ID() string {
	if tx == nil {
		return ""
	}
	return tx.id
}

// Request returns the request that created the transaction.
func (tx *serverTransact) Request() *message.Message {
	if tx == nil {
		return nil
	}
	return tx.req
}

// LastResponse returns the last response sent by the transaction.
func (tx *serverTransact) LastResponse() *message.Message {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchRequest checks whether the request matches the server transaction.
// It implements the matching rules defined in RFC 3261 section 17.2.3.
func (tx *serverTransact) MatchRequest(req *message.Message) error {
	reqID, err := ServerTransactionID(req)
	if err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if reqID != tx.id {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// ReceiveRequest is called on each inbound request retransmission (or
// matching ACK) received by the network layer.
func (tx *serverTransact) ReceiveRequest(ctx context.Context, req *message.Message) error {
	if err := tx.MatchRequest(req); err != nil {
		return errtrace.Wrap(err)
	}

	if util.EqFold(req.Method(), message.MethodAck) {
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck, req))
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvReq, req))
}

// SendResponse sends a response through the transaction.
func (tx *serverTransact) SendResponse(ctx context.Context, res *message.Message) error {
	if res == nil || !res.IsResponse() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}

	switch {
	case res.StatusCode() < 200:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend1xx, res))
	case res.StatusCode() < 300:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend2xx, res))
	default:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend300699, res))
	}
}

func (tx *serverTransact) sendRes(ctx context.Context, res *message.Message) error {
	if err := tx.sender.SendMessage(ctx, res); err != nil {
		err = fmt.Errorf("send %d response: %w", res.StatusCode(), err)
		if err := tx.fsm.FireCtx(ctx, txEvtTranspErr, errtrace.Wrap(err)); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTranspErr, tx.State(), err))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

const (
	txEvtRecvReq    = "recv_req"
	txEvtRecvAck    = "recv_ack"
	txEvtSend1xx    = "send_1xx"
	txEvtSend2xx    = "send_2xx"
	txEvtSend300699 = "send_300-699"
)

func (tx *serverTransact) initFSM(start TransactionState) error {
	if err := tx.baseTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.SetTriggerParameters(txEvtRecvReq, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtRecvAck, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtSend1xx, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtSend2xx, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtSend300699, reflect.TypeOf((*message.Message)(nil)))

	return nil
}

func (tx *serverTransact) actSendRes(ctx context.Context, args ...any) error {
	res := args[0].(*message.Message) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response", slog.Any("transaction", tx.impl), slog.Any("response", res))

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actResendRes(ctx context.Context, _ ...any) error {
	res := tx.lastRes.Load()
	if res == nil {
		return nil
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "resend response", slog.Any("transaction", tx.impl), slog.Any("response", res))

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx.impl))

	return nil
}

//nolint:unparam
func (tx *serverTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))

	return nil
}

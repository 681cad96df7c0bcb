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

// ClientTransaction represents a SIP client transaction.
type ClientTransaction interface {
	Transaction
	// Request returns the request that created the transaction.
	Request() *message.Message
	// MatchResponse checks whether the response matches the client transaction.
	MatchResponse(res *message.Message) error
	// ReceiveResponse is called on each inbound response received by the
	// network layer.
	ReceiveResponse(ctx context.Context, res *message.Message) error
}

// NewClientTransaction creates a client transaction for the request and
// starts its state machine: an INVITE transaction for INVITE requests, a
// non-INVITE transaction otherwise. ACK never creates a transaction.
func NewClientTransaction(
	req *message.Message,
	sender MessageSender,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	if req != nil && util.EqFold(req.Method(), message.MethodInvite) {
		return errtrace.Wrap2(NewInviteClientTransaction(req, sender, opts))
	}
	return errtrace.Wrap2(NewNonInviteClientTransaction(req, sender, opts))
}

// ClientTransactionOptions contains options for a client transaction.
type ClientTransactionOptions struct {
	// ID is the transaction identifier. If empty, it is derived from the
	// request with [ClientTransactionID].
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

func (o *ClientTransactionOptions) id() string {
	if o == nil {
		return ""
	}
	return o.ID
}

func (o *ClientTransactionOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}.withDefaults()
	}
	return o.Timings.withDefaults()
}

func (o *ClientTransactionOptions) observer() TransactionObserver {
	if o == nil || o.Observer == nil {
		return noopTxObserver
	}
	return o.Observer
}

func (o *ClientTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

type clientTransact struct {
	*baseTransact
	id      string
	sender  MessageSender
	timings TimingConfig
	req     *message.Message
	lastRes atomic.Pointer[message.Message]
}

func newClientTransact(
	typ TransactionType,
	impl ClientTransaction,
	req *message.Message,
	sender MessageSender,
	opts *ClientTransactionOptions,
) (*clientTransact, error) {
	if req == nil || !req.IsRequest() {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if sender == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid sender"))
	}

	id := opts.id()
	if id == "" {
		var err error
		if id, err = ClientTransactionID(req); err != nil {
			return nil, errtrace.Wrap(NewInvalidArgumentError(err))
		}
	}

	tx := &clientTransact{
		id:      id,
		sender:  sender,
		timings: opts.timings(),
		req:     req,
	}
	tx.baseTransact = newBaseTransact(context.Background(), typ, impl, opts.observer(), opts.log())
	return tx, nil
}

// LogValue implements [slog.LogValuer].
func (tx *clientTransact) LogValue() slog.Value {
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
func (tx *clientTransact) ID() string {
	if tx == nil {
		return ""
	}
	return tx.id
}

// Request returns the request that created the transaction.
func (tx *clientTransact) Request() *message.Message {
	if tx == nil {
		return nil
	}
	return tx.req
}

// LastResponse returns the last response received by the transaction.
func (tx *clientTransact) LastResponse() *message.Message {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchResponse checks whether the response matches the client transaction.
// It implements the matching rules defined in RFC 3261 section 17.1.3.
func (tx *clientTransact) MatchResponse(res *message.Message) error {
	resID, err := ClientTransactionID(res)
	if err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if resID != tx.id {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// ReceiveResponse is called on each inbound response received by the
// network layer.
func (tx *clientTransact) ReceiveResponse(ctx context.Context, res *message.Message) error {
	if err := tx.MatchResponse(res); err != nil {
		return errtrace.Wrap(err)
	}

	switch {
	case res.StatusCode() < 200:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv1xx, res))
	case res.StatusCode() < 300:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv2xx, res))
	default:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv300699, res))
	}
}

func (tx *clientTransact) sendReq(ctx context.Context, req *message.Message) error {
	if err := tx.sender.SendMessage(ctx, req); err != nil {
		err = fmt.Errorf("send %q request: %w", req.Method(), err)
		if err := tx.fsm.FireCtx(ctx, txEvtTranspErr, errtrace.Wrap(err)); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTranspErr, tx.State(), err))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

const (
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
)

func (tx *clientTransact) initFSM(start TransactionState) error {
	if err := tx.baseTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.SetTriggerParameters(txEvtRecv1xx, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtRecv2xx, reflect.TypeOf((*message.Message)(nil)))
	tx.fsm.SetTriggerParameters(txEvtRecv300699, reflect.TypeOf((*message.Message)(nil)))

	return nil
}

func (tx *clientTransact) actSendReq(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "send request", slog.Any("transaction", tx.impl), slog.Any("request", tx.req))

	tx.sendReq(ctx, tx.req) //nolint:errcheck
	return nil
}

func (tx *clientTransact) actPassRes(ctx context.Context, args ...any) error {
	res := args[0].(*message.Message) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response", slog.Any("transaction", tx.impl), slog.Any("response", res))

	tx.observer.OnTransactionMessage(tx.impl, res)
	return nil
}

func (tx *clientTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx.impl))

	return nil
}

//nolint:unparam
func (tx *clientTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))

	return nil
}

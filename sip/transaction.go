package sip

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/sippet/go-sippet/message"
)

// TransactionState is a state of the transaction state machine.
type TransactionState string

const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// TransactionType identifies one of the four transaction machines.
type TransactionType string

const (
	TransactionTypeClientInvite    TransactionType = "client_invite"
	TransactionTypeClientNonInvite TransactionType = "client_non_invite"
	TransactionTypeServerInvite    TransactionType = "server_invite"
	TransactionTypeServerNonInvite TransactionType = "server_non_invite"
)

// Transaction is the common surface of client and server transactions.
type Transaction interface {
	slog.LogValuer

	// ID returns the transaction identifier used for message matching.
	ID() string
	// Type returns the transaction type.
	Type() TransactionType
	// State returns the current state of the transaction state machine.
	State() TransactionState
	// Terminate forces the transaction into the terminated state,
	// stopping all timers.
	Terminate(ctx context.Context) error
}

// TransactionObserver receives transaction lifecycle events. All callbacks
// fire from whatever goroutine drove the transition, so implementations
// serialize on their own executor.
type TransactionObserver interface {
	// OnTransactionMessage delivers a message the transaction passes to
	// the upper layer: responses on client transactions.
	OnTransactionMessage(tx Transaction, msg *message.Message)
	// OnTransactionTerminated fires exactly once when the transaction
	// enters the terminated state.
	OnTransactionTerminated(tx Transaction)
	// OnTransactionTimedOut fires when a transaction timeout timer expires
	// before a final response.
	OnTransactionTimedOut(tx Transaction)
	// OnTransactionError fires when the transaction fails to send through
	// its sender.
	OnTransactionError(tx Transaction, err error)
}

type noopTransactionObserver struct{}

func (noopTransactionObserver) OnTransactionMessage(Transaction, *message.Message) {}
func (noopTransactionObserver) OnTransactionTerminated(Transaction) {}
func (noopTransactionObserver) OnTransactionTimedOut(Transaction) {}
func (noopTransactionObserver) OnTransactionError(Transaction, error) {}

var noopTxObserver noopTransactionObserver

// MessageSender carries serialized messages to the wire on behalf of a
// transaction.
type MessageSender interface {
	SendMessage(ctx context.Context, msg *message.Message) error
	// IsReliable reports whether the underlying transport guarantees
	// delivery; unreliable senders keep retransmit timers running.
	IsReliable() bool
}

// Events common to all transaction machines.
const (
	txEvtTranspErr = "transport_err"
	txEvtTerminate = "terminate"
)

type baseTransact struct {
	typ      TransactionType
	impl     Transaction
	fsm      *stateless.StateMachine
	log      *slog.Logger
	ctx      context.Context
	observer TransactionObserver

	terminated sync.Once
}

func newBaseTransact(
	ctx context.Context,
	typ TransactionType,
	impl Transaction,
	observer TransactionObserver,
	logger *slog.Logger,
) *baseTransact {
	return &baseTransact{
		typ:      typ,
		impl:     impl,
		log:      logger,
		ctx:      ctx,
		observer: observer,
	}
}

func (tx *baseTransact) initFSM(start TransactionState) error {
	tx.fsm = stateless.NewStateMachine(start)
	tx.fsm.SetTriggerParameters(txEvtTranspErr, reflect.TypeOf((*error)(nil)).Elem())
	return nil
}

// Type returns the transaction type.
func (tx *baseTransact) Type() TransactionType { return tx.typ }

// State returns the current state of the transaction state machine.
func (tx *baseTransact) State() TransactionState {
	return tx.fsm.MustState().(TransactionState) //nolint:forcetypeassert
}

// Context returns the transaction's context.
func (tx *baseTransact) Context() context.Context { return tx.ctx }

// Terminate forces the transaction into the terminated state.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTerminate))
}

//nolint:unparam
func (tx *baseTransact) actNoop(context.Context, ...any) error { return nil }

func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out", slog.Any("transaction", tx.impl))

	tx.observer.OnTransactionTimedOut(tx.impl)
	return nil
}

func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"transaction transport error",
		slog.Any("transaction", tx.impl),
		slog.Any("error", err),
	)

	tx.observer.OnTransactionError(tx.impl, err)
	return nil
}

//nolint:unparam
func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))

	tx.terminated.Do(func() {
		tx.observer.OnTransactionTerminated(tx.impl)
	})
	return nil
}

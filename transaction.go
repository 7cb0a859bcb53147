package typedb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/typedb/typedb-driver-go/internal/rand"
	"github.com/typedb/typedb-driver-go/internal/transmitter"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/promise"
)

type transactionState int32

const (
	transactionOpen transactionState = iota
	transactionCommitted
	transactionRolledBack
	transactionForceClosed

	// transactionEnding is held while a Commit or Rollback is in flight.
	transactionEnding
)

func (s transactionState) String() string {
	switch s {
	case transactionOpen:
		return "open"
	case transactionCommitted:
		return "committed"
	case transactionRolledBack:
		return "rolled back"
	case transactionForceClosed:
		return "force closed"
	case transactionEnding:
		return "ending"
	default:
		return fmt.Sprintf("transaction_state(%d)", int32(s))
	}
}

// Transaction is one unit of work on a session. Every request it issues is
// multiplexed on the transaction's own stream.
//
// Commit and Rollback end the transaction. Close force-closes it and may be
// called from any goroutine, any number of times.
type Transaction struct {
	// handle identifies the transaction within its session.
	handle models.ID

	session *Session
	typ     models.TransactionType
	opts    Options
	timeout time.Duration
	tr      *transmitter.Transmitter
	state   atomic.Int32
}

func newTransaction(s *Session, tr *transmitter.Transmitter, typ models.TransactionType, opts Options, latency time.Duration) *Transaction {
	tx := &Transaction{
		handle:  rand.NewID(),
		session: s,
		typ:     typ,
		opts:    opts,
		tr:      tr,
	}
	if opts.TransactionTimeout > 0 {
		tx.timeout = opts.TransactionTimeout + latency
	}

	// Runs before any user callback: a stream that ends on its own leaves an
	// open transaction force-closed. A Commit or Rollback in flight settles
	// the state itself.
	tr.OnClose(func(error) {
		tx.transition(transactionForceClosed)
	})
	return tx
}

func (tx *Transaction) Type() models.TransactionType {
	return tx.typ
}

// Session returns the session the transaction was opened on.
func (tx *Transaction) Session() *Session {
	return tx.session
}

func (tx *Transaction) Options() Options {
	return tx.opts
}

func (tx *Transaction) IsOpen() bool {
	return transactionState(tx.state.Load()) == transactionOpen && tx.tr.IsOpen()
}

func (tx *Transaction) transition(to transactionState) bool {
	return tx.state.CompareAndSwap(int32(transactionOpen), int32(to))
}

func (tx *Transaction) closedError() error {
	state := transactionState(tx.state.Load())
	if cause := tx.tr.Err(); cause != nil {
		return fmt.Errorf("%w (%s): %w", constants.ErrTransactionClosed, state, cause)
	}
	return fmt.Errorf("%w (%s)", constants.ErrTransactionClosed, state)
}

// OnClose registers fn to run once the transaction has ended. fn receives the
// error that ended it, or nil after Commit, Rollback or Close. If the
// transaction has already ended fn runs immediately.
func (tx *Transaction) OnClose(fn func(error)) {
	tx.tr.OnClose(fn)
}

// Close force-closes the transaction. Pending requests fail with
// constants.ErrTransactionClosed.
func (tx *Transaction) Close() {
	tx.transition(transactionForceClosed)
	tx.tr.ForceClose()
}

// Commit commits the transaction and ends it.
func (tx *Transaction) Commit(ctx context.Context) error {
	return tx.end(ctx, connection.TxCommit, transactionCommitted)
}

// Rollback discards the changes of the transaction and ends it.
func (tx *Transaction) Rollback(ctx context.Context) error {
	return tx.end(ctx, connection.TxRollback, transactionRolledBack)
}

func (tx *Transaction) end(ctx context.Context, kind connection.TransactionRequestKind, to transactionState) error {
	if !tx.tr.IsOpen() || !tx.transition(transactionEnding) {
		return tx.closedError()
	}

	_, err := tx.resolve(ctx, tx.tr.Single(&connection.TransactionRequest{Kind: kind}))
	if err != nil {
		tx.state.Store(int32(transactionForceClosed))
		if errors.Is(err, constants.ErrTransactionClosed) {
			return tx.closedError()
		}
		tx.tr.CloseWithError(err)
		return err
	}

	// The server acknowledged the request; the stream ending right after the
	// ack does not undo it.
	tx.state.Store(int32(to))
	tx.tr.ForceClose()
	return nil
}

// resolve waits for p, bounded by the transaction timeout.
func (tx *Transaction) resolve(ctx context.Context, p promise.Promise[*connection.TransactionResponse]) (*connection.TransactionResponse, error) {
	return withTimeout(p, tx.timeout).Resolve(ctx)
}

// Query returns the query manager of the transaction.
func (tx *Transaction) Query() *QueryManager {
	return &QueryManager{tx: tx}
}

type timed[T any] struct {
	p       promise.Promise[T]
	timeout time.Duration
}

// withTimeout bounds every Resolve of p by timeout. Zero means no bound.
func withTimeout[T any](p promise.Promise[T], timeout time.Duration) promise.Promise[T] {
	if timeout <= 0 {
		return p
	}
	return &timed[T]{p: p, timeout: timeout}
}

func (t *timed[T]) Resolve(ctx context.Context) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	v, err := t.p.Resolve(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return v, fmt.Errorf("%w: no response within %s", constants.ErrTimeout, t.timeout)
	}
	return v, err
}

type timedStream[T any] struct {
	promise.Stream[T]
	timeout time.Duration
}

func withStreamTimeout[T any](s promise.Stream[T], timeout time.Duration) promise.Stream[T] {
	if timeout <= 0 {
		return s
	}
	return &timedStream[T]{Stream: s, timeout: timeout}
}

func (t *timedStream[T]) Next(ctx context.Context) (T, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	v, ok, err := t.Stream.Next(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return v, false, fmt.Errorf("%w: no answer within %s", constants.ErrTimeout, t.timeout)
	}
	return v, ok, err
}

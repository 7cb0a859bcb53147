package typedb

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/typedb/typedb-driver-go/internal/transmitter"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// Session groups transactions against one database. Its type is fixed when
// it is opened.
//
// Closing a session force-closes every transaction opened under it. A session
// the server no longer knows about is closed by the background pulse.
type Session struct {
	driver *Driver
	db     *Database
	typ    models.SessionType
	opts   Options

	lock         sync.Mutex
	id           models.ID
	conn         connection.Connection
	latency      time.Duration
	open         bool
	transactions map[models.ID]*Transaction
	callbacks    []func(error)
	cause        error

	stopPulse chan struct{}
	pulseDone chan struct{}
}

// serverSession is the server-side half of a session on one replica.
type serverSession struct {
	id      models.ID
	conn    connection.Connection
	latency time.Duration
}

func openSession(ctx context.Context, d *Driver, db *Database, typ models.SessionType, opts Options) (*Session, error) {
	s := &Session{
		driver:       d,
		db:           db,
		typ:          typ,
		opts:         opts,
		transactions: make(map[models.ID]*Transaction),
		stopPulse:    make(chan struct{}),
		pulseDone:    make(chan struct{}),
	}

	ss, err := s.openOnServer(ctx)
	if err != nil {
		return nil, err
	}
	s.id, s.conn, s.latency = ss.id, ss.conn, ss.latency
	s.open = true

	if !d.track(s) {
		_ = connection.Send[any](ss.conn, ctx, nil, connection.SessionClose, ss.id)
		return nil, constants.ErrConnectionClosed
	}
	d.metrics.SessionOpened()

	go s.pulse(d.cfg.PulseInterval)

	return s, nil
}

// openOnServer opens the server-side session on the replica the router picks.
func (s *Session) openOnServer(ctx context.Context) (serverSession, error) {
	var ss serverSession

	op := func(ctx context.Context, conn connection.Connection, _ models.ReplicaInfo) error {
		params := connection.SessionOpenParams{
			Database: s.db.Name(),
			Type:     s.typ,
			Options:  s.opts.wire(),
		}

		start := time.Now()
		res, err := connection.Call[connection.SessionOpenResult](conn, ctx, connection.SessionOpen, params)
		if err != nil {
			return err
		}

		latency := time.Since(start) - time.Duration(res.ServerDurationMillis)*time.Millisecond
		ss = serverSession{id: res.SessionID, conn: conn, latency: max(latency, 0)}
		return nil
	}

	var err error
	if s.opts.ReadAnyReplica {
		err = s.db.runFailsafe(ctx, op)
	} else {
		err = s.db.runOnPrimary(ctx, op)
	}
	return ss, err
}

func (s *Session) Type() models.SessionType {
	return s.typ
}

func (s *Session) Database() *Database {
	return s.db
}

// ID returns the current server-side session ID. It changes if the session
// is reopened on another replica.
func (s *Session) ID() models.ID {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.id
}

// Address returns the replica serving the session.
func (s *Session) Address() models.Address {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn.Address()
}

// NetworkLatency is the estimated round trip to the serving replica.
func (s *Session) NetworkLatency() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latency
}

func (s *Session) IsOpen() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.open
}

// OnClose registers fn to run once when the session closes. fn receives the
// reason the server closed the session, or nil for Close. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func(error)) {
	s.lock.Lock()
	if !s.open {
		cause := s.cause
		s.lock.Unlock()
		fn(cause)
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.lock.Unlock()
}

// Transaction opens a transaction of type typ.
//
// If the serving replica has gone away the session is reopened through the
// replica router and the open is tried once more.
func (s *Session) Transaction(ctx context.Context, typ models.TransactionType, opts ...Options) (*Transaction, error) {
	o := firstOptions(opts)
	if s.opts.ReadAnyReplica && typ.IsWrite() {
		return nil, constants.ErrWriteOnReplica
	}

	tx, err := s.openTransaction(ctx, typ, o)
	if err == nil || !s.IsOpen() {
		return tx, err
	}
	if !constants.IsRetryable(err) && !errors.Is(err, constants.ErrSessionClosed) {
		return nil, err
	}

	s.driver.logger.Info("reopening session", "database", s.db.Name(), "error", err.Error())
	if rerr := s.reopen(ctx); rerr != nil {
		return nil, multierr.Append(err, rerr)
	}
	return s.openTransaction(ctx, typ, o)
}

func (s *Session) openTransaction(ctx context.Context, typ models.TransactionType, opts Options) (*Transaction, error) {
	s.lock.Lock()
	if !s.open {
		s.lock.Unlock()
		return nil, constants.ErrSessionClosed
	}
	sessionID, conn, latency := s.id, s.conn, s.latency
	s.lock.Unlock()

	stream, err := conn.NewStream(ctx)
	if err != nil {
		return nil, err
	}

	cfg := s.driver.cfg
	tr := transmitter.New(stream, transmitter.Options{
		DispatchInterval: cfg.DispatchInterval,
		MaxMessageSize:   cfg.MaxMessageSize,
		Marshaler:        cfg.Marshaler,
		Logger:           s.driver.logger,
		Metrics:          s.driver.metrics,
	})

	tx := newTransaction(s, tr, typ, opts, latency)

	_, err = tx.resolve(ctx, tr.Single(&connection.TransactionRequest{
		Kind: connection.TxOpen,
		Open: &connection.TransactionOpenRequest{
			SessionID:            sessionID,
			Type:                 typ,
			Options:              opts.wire(),
			NetworkLatencyMillis: latency.Milliseconds(),
		},
	}))
	if err != nil {
		tr.CloseWithError(err)
		return nil, err
	}

	s.lock.Lock()
	if !s.open {
		s.lock.Unlock()
		tx.Close()
		return nil, constants.ErrSessionClosed
	}
	s.transactions[tx.handle] = tx
	s.lock.Unlock()

	s.driver.metrics.TransactionOpened()
	tr.OnClose(func(error) {
		s.detach(tx.handle)
		s.driver.metrics.TransactionClosed()
	})

	return tx, nil
}

func (s *Session) detach(handle models.ID) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.transactions, handle)
}

// reopen replaces the server-side session, keeping type and options.
func (s *Session) reopen(ctx context.Context) error {
	ss, err := s.openOnServer(ctx)
	if err != nil {
		return err
	}

	s.lock.Lock()
	if !s.open {
		s.lock.Unlock()
		_ = connection.Send[any](ss.conn, ctx, nil, connection.SessionClose, ss.id)
		return constants.ErrSessionClosed
	}
	oldID, oldConn := s.id, s.conn
	s.id, s.conn, s.latency = ss.id, ss.conn, ss.latency
	s.lock.Unlock()

	if err := connection.Send[any](oldConn, ctx, nil, connection.SessionClose, oldID); err != nil {
		s.driver.logger.Debug("closing replaced session failed", "session", oldID.String(), "error", err.Error())
	}
	return nil
}

// Close force-closes every transaction of the session, then closes it on the
// server. Closing a closed session does nothing.
func (s *Session) Close(ctx context.Context) error {
	return s.close(ctx, nil, true)
}

func (s *Session) close(ctx context.Context, cause error, notifyServer bool) error {
	s.lock.Lock()
	if !s.open {
		s.lock.Unlock()
		return nil
	}
	s.open = false
	s.cause = cause
	transactions := s.transactions
	s.transactions = make(map[models.ID]*Transaction)
	callbacks := s.callbacks
	s.callbacks = nil
	id, conn := s.id, s.conn
	s.lock.Unlock()

	close(s.stopPulse)

	for _, tx := range transactions {
		tx.Close()
	}

	var err error
	if notifyServer {
		err = connection.Send[any](conn, ctx, nil, connection.SessionClose, id)
	}

	s.driver.forget(s)
	s.driver.metrics.SessionClosed()

	for _, fn := range callbacks {
		fn(cause)
	}
	return err
}

// pulse keeps the server-side session alive until the session closes.
func (s *Session) pulse(interval time.Duration) {
	defer close(s.pulseDone)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPulse:
			return
		case <-ticker.C:
		}

		s.lock.Lock()
		id, conn := s.id, s.conn
		s.lock.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		res, err := connection.Call[connection.SessionPulseResult](conn, ctx, connection.SessionPulse, id)
		cancel()

		switch {
		case err != nil:
			s.driver.logger.Warn("session pulse failed", "session", id.String(), "error", err.Error())
			_ = s.close(context.Background(), err, false)
			return
		case !res.Alive:
			s.driver.logger.Warn("session closed by server", "session", id.String())
			_ = s.close(context.Background(), constants.ErrSessionClosed, false)
			return
		}
	}
}

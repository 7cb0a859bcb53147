package typedb

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/connection/gorillaws"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/metrics"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/retry"
)

// maxConcurrentValidations bounds how many servers are dialed at once by Open.
const maxConcurrentValidations = 8

// Driver is the entry point: it owns one connection per server and opens
// sessions against databases, routing them to the right replica.
type Driver struct {
	cfg     *connection.Config
	factory connection.Factory
	logger  logger.Logger
	metrics *metrics.Metrics
	retryer retry.Retryer

	lock     sync.RWMutex
	conns    map[models.Address]connection.Connection
	servers  []models.Address
	sessions map[*Session]struct{}
	closed   bool

	databases *DatabaseManager
}

// Open discovers the servers of the deployment and connects to all of them.
//
// The first configured address that answers is asked for the full server list.
// Open fails only if no server can be reached; unreachable servers are dialed
// again when an operation needs them.
func Open(ctx context.Context, cfg *connection.Config) (*Driver, error) {
	if cfg == nil {
		cfg = connection.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:      cfg,
		factory:  cfg.NewConnection,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		retryer:  cfg.PrimaryRetryer,
		conns:    make(map[models.Address]connection.Connection),
		sessions: make(map[*Session]struct{}),
	}
	if d.factory == nil {
		d.factory = gorillaws.New
	}
	if d.logger == nil {
		d.logger = logger.Nop()
	}
	if d.retryer == nil {
		d.retryer = retry.Default()
	}

	servers, err := d.discover(ctx)
	if err != nil {
		return nil, err
	}
	d.servers = servers

	if err := d.validate(ctx); err != nil {
		d.closeConnections(ctx)
		return nil, err
	}

	databases, err := newDatabaseManager(d, constants.DefaultDatabaseCacheSize)
	if err != nil {
		d.closeConnections(ctx)
		return nil, err
	}
	d.databases = databases

	return d, nil
}

func (d *Driver) dial(ctx context.Context, address models.Address) (connection.Connection, error) {
	conn := d.factory(address, d.cfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// discover asks the configured addresses, in order, for the server list.
func (d *Driver) discover(ctx context.Context) ([]models.Address, error) {
	var attempts []*ReplicaAttempt

	for _, a := range d.cfg.Addresses {
		address, err := models.ParseAddress(a)
		if err != nil {
			return nil, err
		}

		conn, err := d.dial(ctx, address)
		if err == nil {
			var reported []string
			reported, err = connection.Call[[]string](conn, ctx, connection.ServersAll)
			if err == nil {
				servers := make([]models.Address, 0, len(reported))
				for _, r := range reported {
					s, err := models.ParseAddress(r)
					if err != nil {
						d.logger.Warn("ignoring invalid server address", "address", r)
						continue
					}
					servers = append(servers, s)
				}
				if len(servers) == 0 {
					servers = append(servers, address)
				}
				d.conns[address] = conn
				return servers, nil
			}
			_ = conn.Close(ctx)
		}

		if !constants.IsRetryable(err) {
			return nil, err
		}
		d.logger.Debug("server discovery failed", "address", address.String(), "error", err.Error())
		attempts = append(attempts, &ReplicaAttempt{Address: address, Err: err})
	}

	return nil, newClusterError("", attempts)
}

// validate connects to every discovered server concurrently.
func (d *Driver) validate(ctx context.Context) error {
	var (
		lock     sync.Mutex
		attempts []*ReplicaAttempt
		g        errgroup.Group
	)
	g.SetLimit(maxConcurrentValidations)

	var pending []models.Address
	for _, address := range d.servers {
		if _, ok := d.conns[address]; !ok {
			pending = append(pending, address)
		}
	}

	for _, address := range pending {
		g.Go(func() error {
			conn, err := d.dial(ctx, address)

			lock.Lock()
			defer lock.Unlock()
			if err != nil {
				attempts = append(attempts, &ReplicaAttempt{Address: address, Err: err})
				if errors.Is(err, constants.ErrInvalidCredential) {
					return err
				}
				return nil
			}
			d.conns[address] = conn
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range attempts {
		d.logger.Warn("server unreachable", "address", a.Address.String(), "error", a.Err.Error())
	}
	if len(d.conns) == 0 {
		return newClusterError("", attempts)
	}
	return nil
}

// connection returns the connection to address, dialing it if needed.
func (d *Driver) connection(ctx context.Context, address models.Address) (connection.Connection, error) {
	d.lock.RLock()
	if d.closed {
		d.lock.RUnlock()
		return nil, constants.ErrConnectionClosed
	}
	conn, ok := d.conns[address]
	d.lock.RUnlock()
	if ok && !conn.IsClosed() {
		return conn, nil
	}

	fresh, err := d.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		_ = fresh.Close(ctx)
		return nil, constants.ErrConnectionClosed
	}
	if existing, ok := d.conns[address]; ok && existing != conn && !existing.IsClosed() {
		_ = fresh.Close(ctx)
		return existing, nil
	}
	d.conns[address] = fresh
	d.addServerLocked(address)
	return fresh, nil
}

func (d *Driver) addServerLocked(address models.Address) {
	for _, s := range d.servers {
		if s == address {
			return
		}
	}
	d.servers = append(d.servers, address)
}

// Servers returns the addresses of every known server.
func (d *Driver) Servers() []models.Address {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return append([]models.Address(nil), d.servers...)
}

// learnServers records servers reported by a topology refresh.
func (d *Driver) learnServers(info models.DatabaseInfo) {
	d.lock.Lock()
	defer d.lock.Unlock()
	for _, r := range info.Replicas {
		d.addServerLocked(r.Address)
	}
}

// anyServer runs op against the known servers in order until one succeeds.
// Failures that another server cannot fix are returned as they are.
func (d *Driver) anyServer(ctx context.Context, op func(connection.Connection) error) error {
	var attempts []*ReplicaAttempt

	for _, address := range d.Servers() {
		conn, err := d.connection(ctx, address)
		if err == nil {
			err = op(conn)
			if err == nil {
				return nil
			}
		}
		if !constants.IsRetryable(err) {
			return err
		}
		attempts = append(attempts, &ReplicaAttempt{Address: address, Err: err})
	}

	return newClusterError("", attempts)
}

func (d *Driver) IsOpen() bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return !d.closed
}

// Databases returns the database manager of this driver.
func (d *Driver) Databases() *DatabaseManager {
	return d.databases
}

// Session opens a session on database. The session is served by the primary
// replica, or by any replica when Options.ReadAnyReplica is set.
func (d *Driver) Session(ctx context.Context, database string, typ models.SessionType, opts ...Options) (*Session, error) {
	if !d.IsOpen() {
		return nil, constants.ErrConnectionClosed
	}

	db, err := d.databases.Get(ctx, database)
	if err != nil {
		return nil, err
	}
	return openSession(ctx, d, db, typ, firstOptions(opts))
}

func (d *Driver) track(s *Session) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return false
	}
	d.sessions[s] = struct{}{}
	return true
}

func (d *Driver) forget(s *Session) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.sessions, s)
}

// Close closes every open session, then every connection.
func (d *Driver) Close(ctx context.Context) error {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return nil
	}
	d.closed = true
	sessions := make([]*Session, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.lock.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close(ctx))
	}
	return multierr.Append(err, d.closeConnections(ctx))
}

func (d *Driver) closeConnections(ctx context.Context) error {
	d.lock.Lock()
	conns := d.conns
	d.conns = make(map[models.Address]connection.Connection)
	d.lock.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close(ctx))
	}
	return err
}

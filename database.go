package typedb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/retry"
)

// replicaOp is one attempt of an operation against one replica.
type replicaOp func(ctx context.Context, conn connection.Connection, replica models.ReplicaInfo) error

var errNoNewerPrimary = errors.New("no newer primary replica")

// Database is one database and the replica set that serves it.
//
// Operations that need the primary are routed to the replica with the highest
// term. When that replica cannot be reached, or answers that it is not the
// primary, the replica set is refreshed and the operation is retried against
// a primary with a strictly greater term, then against the remaining
// replicas. A refresh never moves the primary back to a lower term.
type Database struct {
	name    string
	manager *DatabaseManager
	driver  *Driver

	lock sync.Mutex
	info models.DatabaseInfo
}

func newDatabase(m *DatabaseManager, info models.DatabaseInfo) *Database {
	return &Database{
		name:    info.Name,
		manager: m,
		driver:  m.driver,
		info:    info.Clone(),
	}
}

func (db *Database) Name() string {
	return db.name
}

// Replicas returns a copy of the cached replica set.
func (db *Database) Replicas() []models.ReplicaInfo {
	db.lock.Lock()
	defer db.lock.Unlock()
	return db.info.Clone().Replicas
}

func (db *Database) PrimaryReplica() (models.ReplicaInfo, bool) {
	db.lock.Lock()
	defer db.lock.Unlock()
	return db.info.Primary()
}

func (db *Database) PreferredReplica() (models.ReplicaInfo, bool) {
	db.lock.Lock()
	defer db.lock.Unlock()
	return db.info.Preferred()
}

// update replaces the cached replica set with info unless info reports a
// primary with a lower term than the cached one. It reports whether info was
// accepted.
func (db *Database) update(info models.DatabaseInfo) bool {
	db.lock.Lock()
	defer db.lock.Unlock()

	current, hasCurrent := db.info.Primary()
	next, hasNext := info.Primary()

	switch {
	case !hasCurrent:
	case !hasNext:
		// An election is in progress; the cached primary stays the best guess.
		return false
	case next.Term < current.Term:
		db.driver.logger.Info("discarding stale replica set", "database", db.name,
			"primary", next.Address.String(), "term", next.Term, "cached_term", current.Term)
		return false
	case next.Term == current.Term && next.Address != current.Address:
		db.driver.logger.Warn("conflicting primary replicas", "database", db.name,
			"primary", next.Address.String(), "cached", current.Address.String(), "term", next.Term)
		return false
	}

	db.info = info.Clone()
	return true
}

// target is the replica an operation should go to first.
func (db *Database) target() (models.ReplicaInfo, bool) {
	db.lock.Lock()
	defer db.lock.Unlock()

	if p, ok := db.info.Primary(); ok {
		return p, true
	}
	if p, ok := db.info.Preferred(); ok {
		return p, true
	}
	if len(db.info.Replicas) > 0 {
		return db.info.Replicas[0], true
	}
	return models.ReplicaInfo{}, false
}

// fetch asks any reachable server for the replica set.
func (db *Database) fetch(ctx context.Context) (models.DatabaseInfo, error) {
	db.driver.metrics.TopologyRefreshed(db.name)
	return db.manager.fetch(ctx, db.name)
}

// Refresh reloads the replica set. A stale answer is ignored.
func (db *Database) Refresh(ctx context.Context) error {
	info, err := db.fetch(ctx)
	if err != nil {
		return err
	}
	db.update(info)
	return nil
}

func (db *Database) attempt(ctx context.Context, replica models.ReplicaInfo, op replicaOp) error {
	conn, err := db.driver.connection(ctx, replica.Address)
	if err != nil {
		return err
	}
	return op(ctx, conn, replica)
}

// seekPrimary refreshes the replica set until it names a primary that has not
// been tried at its current term. While the servers answer with no primary it
// waits with the driver's retryer; a failed fetch ends the search at once.
func (db *Database) seekPrimary(ctx context.Context, tried map[models.Address]int64) (models.ReplicaInfo, bool) {
	var found models.ReplicaInfo

	err := retry.Do(ctx, db.driver.retryer, func(int) error {
		info, err := db.fetch(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		db.update(info)

		if _, ok := info.Primary(); !ok {
			return constants.ErrNoPrimaryReplica
		}

		primary, _ := db.PrimaryReplica()
		if term, ok := tried[primary.Address]; ok && primary.Term <= term {
			return retry.Permanent(errNoNewerPrimary)
		}
		found = primary
		return nil
	})
	if err != nil {
		db.driver.logger.Debug("no new primary replica", "database", db.name, "error", err.Error())
		return models.ReplicaInfo{}, false
	}
	return found, true
}

func (db *Database) untried(tried map[models.Address]int64) (models.ReplicaInfo, bool) {
	for _, r := range db.Replicas() {
		if _, ok := tried[r.Address]; !ok {
			return r, true
		}
	}
	return models.ReplicaInfo{}, false
}

// runOnPrimary runs op against the primary replica, failing over as described
// on Database.
func (db *Database) runOnPrimary(ctx context.Context, op replicaOp) error {
	target, ok := db.target()
	if !ok {
		found, ok := db.seekPrimary(ctx, nil)
		if !ok {
			return fmt.Errorf("%w: %s", constants.ErrNoPrimaryReplica, db.name)
		}
		target = found
	}

	var attempts []*ReplicaAttempt
	tried := make(map[models.Address]int64)
	limit := len(db.Replicas()) + constants.FetchReplicasMaxRetries

	for range limit {
		tried[target.Address] = target.Term

		err := db.attempt(ctx, target, op)
		if err == nil {
			return nil
		}
		attempts = append(attempts, &ReplicaAttempt{Address: target.Address, Err: err})

		if !constants.IsRetryable(err) || ctx.Err() != nil {
			return err
		}

		db.driver.metrics.Failover(db.name)
		db.driver.logger.Info("replica failed, refreshing replica set", "database", db.name,
			"address", target.Address.String(), "error", err.Error())

		if next, ok := db.seekPrimary(ctx, tried); ok {
			target = next
			continue
		}
		next, ok := db.untried(tried)
		if !ok {
			break
		}
		target = next
	}

	return newClusterError(db.name, attempts)
}

// runOnAny runs op against the preferred replica, then the others. A
// "not primary" answer is returned to the caller rather than retried.
func (db *Database) runOnAny(ctx context.Context, op replicaOp) error {
	replicas := db.Replicas()
	if preferred, ok := db.PreferredReplica(); ok {
		ordered := []models.ReplicaInfo{preferred}
		for _, r := range replicas {
			if r.Address != preferred.Address {
				ordered = append(ordered, r)
			}
		}
		replicas = ordered
	}

	var attempts []*ReplicaAttempt
	for _, r := range replicas {
		err := db.attempt(ctx, r, op)
		if err == nil {
			return nil
		}
		if errors.Is(err, constants.ErrReplicaNotPrimary) || !constants.IsRetryable(err) {
			return err
		}
		attempts = append(attempts, &ReplicaAttempt{Address: r.Address, Err: err})
	}

	return newClusterError(db.name, attempts)
}

// runFailsafe runs op on any replica, moving to the primary when a replica
// refuses to serve it.
func (db *Database) runFailsafe(ctx context.Context, op replicaOp) error {
	err := db.runOnAny(ctx, op)
	if errors.Is(err, constants.ErrReplicaNotPrimary) {
		return db.runOnPrimary(ctx, op)
	}
	return err
}

func (db *Database) schema(ctx context.Context, method connection.RPCFunction) (string, error) {
	var schema string
	err := db.runFailsafe(ctx, func(ctx context.Context, conn connection.Connection, _ models.ReplicaInfo) error {
		var err error
		schema, err = connection.Call[string](conn, ctx, method, db.name)
		return err
	})
	return schema, err
}

// Schema returns the full schema of the database.
func (db *Database) Schema(ctx context.Context) (string, error) {
	return db.schema(ctx, connection.DatabaseSchema)
}

func (db *Database) TypeSchema(ctx context.Context) (string, error) {
	return db.schema(ctx, connection.DatabaseTypeSchema)
}

func (db *Database) RuleSchema(ctx context.Context) (string, error) {
	return db.schema(ctx, connection.DatabaseRuleSchema)
}

// Delete deletes the database on the primary replica.
func (db *Database) Delete(ctx context.Context) error {
	err := db.runOnPrimary(ctx, func(ctx context.Context, conn connection.Connection, _ models.ReplicaInfo) error {
		return connection.Send[any](conn, ctx, nil, connection.DatabaseDelete, db.name)
	})
	if err == nil {
		db.manager.forget(db.name)
	}
	return err
}

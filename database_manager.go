package typedb

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// DatabaseManager creates, looks up and caches databases.
//
// The cache belongs to one manager; two drivers never share replica state.
type DatabaseManager struct {
	driver *Driver
	cache  *lru.Cache[string, *Database]
}

func newDatabaseManager(d *Driver, size int) (*DatabaseManager, error) {
	cache, err := lru.New[string, *Database](size)
	if err != nil {
		return nil, err
	}
	return &DatabaseManager{driver: d, cache: cache}, nil
}

// Contains reports whether a database named name exists.
func (m *DatabaseManager) Contains(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.driver.anyServer(ctx, func(conn connection.Connection) error {
		var err error
		exists, err = connection.Call[bool](conn, ctx, connection.DatabasesContains, name)
		return err
	})
	return exists, err
}

// Create creates a database named name.
func (m *DatabaseManager) Create(ctx context.Context, name string) error {
	return m.driver.anyServer(ctx, func(conn connection.Connection) error {
		return connection.Send[any](conn, ctx, nil, connection.DatabaseCreate, name)
	})
}

// Get returns the database named name. A cached database is returned without
// a round trip; its replica set is refreshed when an operation needs it.
func (m *DatabaseManager) Get(ctx context.Context, name string) (*Database, error) {
	if db, ok := m.cache.Get(name); ok {
		return db, nil
	}

	info, err := m.fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.remember(info), nil
}

// All returns every database, refreshing the replica set of the cached ones.
func (m *DatabaseManager) All(ctx context.Context) ([]*Database, error) {
	var infos []models.DatabaseInfo
	err := m.driver.anyServer(ctx, func(conn connection.Connection) error {
		var err error
		infos, err = connection.Call[[]models.DatabaseInfo](conn, ctx, connection.DatabasesAll)
		return err
	})
	if err != nil {
		return nil, err
	}

	dbs := make([]*Database, 0, len(infos))
	for _, info := range infos {
		dbs = append(dbs, m.remember(info))
	}
	return dbs, nil
}

func (m *DatabaseManager) fetch(ctx context.Context, name string) (models.DatabaseInfo, error) {
	var info models.DatabaseInfo
	err := m.driver.anyServer(ctx, func(conn connection.Connection) error {
		var err error
		info, err = connection.Call[models.DatabaseInfo](conn, ctx, connection.DatabaseGet, name)
		return err
	})
	if err == nil {
		m.driver.learnServers(info)
	}
	return info, err
}

// remember caches info, merging it into an existing entry.
func (m *DatabaseManager) remember(info models.DatabaseInfo) *Database {
	if db, ok := m.cache.Get(info.Name); ok {
		db.update(info)
		return db
	}

	db := newDatabase(m, info)
	if prev, ok, _ := m.cache.PeekOrAdd(info.Name, db); ok {
		prev.update(info)
		return prev
	}
	return db
}

func (m *DatabaseManager) forget(name string) {
	m.cache.Remove(name)
}

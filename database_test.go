package typedb

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/retry"
)

func TestDatabaseManagement(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)
	dbs := d.Databases()

	require.NoError(t, dbs.Create(ctx, "library"))

	exists, err := dbs.Contains(ctx, "library")
	require.NoError(t, err)
	assert.True(t, exists)

	err = dbs.Create(ctx, "library")
	require.Error(t, err)
	assert.True(t, connection.IsServerError(err))

	db, err := dbs.Get(ctx, "library")
	require.NoError(t, err)
	assert.Equal(t, "library", db.Name())
	assert.Len(t, db.Replicas(), 3)

	primary, ok := db.PrimaryReplica()
	require.True(t, ok)
	assert.Equal(t, models.Address(nodeA), primary.Address)
	preferred, ok := db.PreferredReplica()
	require.True(t, ok)
	assert.Equal(t, models.Address(nodeA), preferred.Address)

	again, err := dbs.Get(ctx, "library")
	require.NoError(t, err)
	assert.Same(t, db, again)

	for _, get := range []func() (string, error){
		func() (string, error) { return db.Schema(ctx) },
		func() (string, error) { return db.TypeSchema(ctx) },
		func() (string, error) { return db.RuleSchema(ctx) },
	} {
		schema, err := get()
		require.NoError(t, err)
		assert.Equal(t, "define\n", schema)
	}

	all, err := dbs.All(ctx)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, db := range all {
		names[i] = db.Name()
	}
	assert.Equal(t, []string{"library", "social"}, names)
	assert.Same(t, db, all[0])

	require.NoError(t, db.Delete(ctx))
	exists, err = dbs.Contains(ctx, "library")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetUnknownDatabase(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))

	_, err := d.Databases().Get(testContext(t), "missing")
	assert.ErrorIs(t, err, constants.ErrDatabaseDoesNotExist)
	assert.False(t, IsClusterError(err))
}

func TestDeleteRunsOnPrimary(t *testing.T) {
	c := newCluster()
	c.CreateDatabase("remote", nodeC, 3)
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	db, err := d.Databases().Get(ctx, "remote")
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx))

	assert.Equal(t, 1, c.Node(nodeC).Calls(connection.DatabaseDelete))
	assert.Zero(t, c.Node(nodeA).Calls(connection.DatabaseDelete))
	assert.Zero(t, c.Node(nodeB).Calls(connection.DatabaseDelete))
}

func TestFailoverToNewerPrimary(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	db, err := d.Databases().Get(ctx, "social")
	require.NoError(t, err)

	c.Node(nodeA).SetDown(true)
	c.SetPrimary("social", nodeB, 2)

	s, err := d.Session(ctx, "social", models.SessionData)
	require.NoError(t, err)
	assert.Equal(t, models.Address(nodeB), s.Address())

	primary, ok := db.PrimaryReplica()
	require.True(t, ok)
	assert.Equal(t, models.Address(nodeB), primary.Address)
	assert.Equal(t, int64(2), primary.Term)

	// node A comes back still believing it is primary at term 1.
	c.Node(nodeA).SetDown(false)
	c.Node(nodeA).SetView("social", nodeA, 1)
	require.NoError(t, db.Refresh(ctx))

	primary, ok = db.PrimaryReplica()
	require.True(t, ok)
	assert.Equal(t, models.Address(nodeB), primary.Address)
	assert.Equal(t, int64(2), primary.Term)

	again, err := d.Session(ctx, "social", models.SessionData)
	require.NoError(t, err)
	assert.Equal(t, models.Address(nodeB), again.Address())
}

func TestNotPrimaryReplyRedirects(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	_, err := d.Databases().Get(ctx, "social")
	require.NoError(t, err)
	c.SetPrimary("social", nodeC, 2)

	s, err := d.Session(ctx, "social", models.SessionData)
	require.NoError(t, err)
	assert.Equal(t, models.Address(nodeC), s.Address())
	assert.Equal(t, 1, c.Node(nodeA).Calls(connection.SessionOpen))
	assert.Zero(t, c.Node(nodeB).Calls(connection.SessionOpen))
}

func TestClusterErrorWhenEveryReplicaFails(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	_, err := d.Databases().Get(ctx, "social")
	require.NoError(t, err)
	for _, a := range c.Addresses() {
		c.Node(a).SetDown(true)
	}

	_, err = d.Session(ctx, "social", models.SessionData)
	require.Error(t, err)

	var ce *ClusterError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "social", ce.Database)
	assert.ElementsMatch(t, []models.Address{nodeA, nodeB, nodeC}, ce.Addresses())
	assert.ErrorIs(t, err, constants.ErrAllReplicasFailed)
	assert.ErrorIs(t, err, constants.ErrTransport)
	assert.Contains(t, err.Error(), nodeB)
}

func TestFailedTopologyFetchDoesNotWaitForElection(t *testing.T) {
	c := newCluster()
	cfg := testConfig(c)
	cfg.PrimaryRetryer = retry.NewFixedDelayRetryer(50*time.Millisecond, 20)
	d := openDriver(t, cfg)
	ctx := testContext(t)

	_, err := d.Databases().Get(ctx, "social")
	require.NoError(t, err)
	for _, a := range c.Addresses() {
		c.Node(a).SetDown(true)
	}

	start := time.Now()
	_, err = d.Session(ctx, "social", models.SessionData)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsClusterError(err))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestWaitsForElectedPrimary(t *testing.T) {
	c := newCluster()
	cfg := testConfig(c)
	cfg.PrimaryRetryer = retry.NewFixedDelayRetryer(5*time.Millisecond, 400)
	d := openDriver(t, cfg)
	ctx := testContext(t)

	_, err := d.Databases().Get(ctx, "social")
	require.NoError(t, err)

	c.Node(nodeA).SetDown(true)
	c.SetPrimary("social", "", 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		c.SetPrimary("social", nodeC, 2)
	}()

	s, err := d.Session(ctx, "social", models.SessionData)
	require.NoError(t, err)
	assert.Equal(t, models.Address(nodeC), s.Address())
}

func TestDatabaseCachesArePerDriver(t *testing.T) {
	c := newCluster()
	first := openDriver(t, testConfig(c))
	second := openDriver(t, testConfig(c))
	ctx := testContext(t)

	a, err := first.Databases().Get(ctx, "social")
	require.NoError(t, err)
	b, err := second.Databases().Get(ctx, "social")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	c.SetPrimary("social", nodeB, 2)
	require.NoError(t, a.Refresh(ctx))

	pa, _ := a.PrimaryReplica()
	pb, _ := b.PrimaryReplica()
	assert.Equal(t, models.Address(nodeB), pa.Address)
	assert.Equal(t, models.Address(nodeA), pb.Address)
}

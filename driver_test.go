package typedb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedb/typedb-driver-go/internal/fakeserver"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/promise"
	"github.com/typedb/typedb-driver-go/pkg/retry"
)

const (
	nodeA = "node-a:1729"
	nodeB = "node-b:1729"
	nodeC = "node-c:1729"

	testTimeout = 5 * time.Second
)

// newCluster returns three nodes serving "social", whose primary is node A.
func newCluster() *fakeserver.Cluster {
	c := fakeserver.NewCluster(nodeA, nodeB, nodeC)
	c.CreateDatabase("social", nodeA, 1)
	return c
}

func testConfig(c *fakeserver.Cluster, addresses ...string) *connection.Config {
	if len(addresses) == 0 {
		addresses = []string{nodeA}
	}
	cfg := connection.NewConfig(addresses...)
	cfg.NewConnection = c.Factory()
	cfg.Logger = logger.Nop()
	cfg.PulseInterval = 0
	cfg.DispatchInterval = time.Millisecond
	cfg.PrimaryRetryer = retry.NewFixedDelayRetryer(time.Millisecond, 3)
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func openDriver(t *testing.T, cfg *connection.Config) *Driver {
	t.Helper()
	d, err := Open(testContext(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close(context.Background())
	})
	return d
}

type outcome[T any] struct {
	value T
	err   error
}

func resolveAsync[T any](p promise.Promise[T]) <-chan outcome[T] {
	ch := make(chan outcome[T], 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		v, err := p.Resolve(ctx)
		ch <- outcome[T]{value: v, err: err}
	}()
	return ch
}

func await[T any](t *testing.T, ch <-chan outcome[T]) outcome[T] {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a result")
		return outcome[T]{}
	}
}

func TestOpenDiscoversEveryServer(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))

	assert.ElementsMatch(t, []models.Address{nodeA, nodeB, nodeC}, d.Servers())
	assert.Equal(t, 1, c.Node(nodeA).Calls(connection.ServersAll))
	for _, a := range c.Addresses() {
		assert.Equal(t, 1, c.Node(a).Calls(connection.ConnectionOpen), a)
	}
	assert.True(t, d.IsOpen())
}

func TestOpenFallsBackToNextConfiguredAddress(t *testing.T) {
	c := newCluster()
	c.Node(nodeA).SetDown(true)

	d := openDriver(t, testConfig(c, nodeA, nodeB))

	assert.Len(t, d.Servers(), 3)
	assert.Equal(t, 1, c.Node(nodeB).Calls(connection.ServersAll))
}

func TestOpenToleratesUnreachableServer(t *testing.T) {
	c := newCluster()
	c.Node(nodeB).SetDown(true)

	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	// node B is dialed again once an operation needs it.
	c.Node(nodeB).SetDown(false)
	c.CreateDatabase("library", nodeB, 1)

	db, err := d.Databases().Get(ctx, "library")
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx))

	assert.Equal(t, 1, c.Node(nodeB).Calls(connection.DatabaseDelete))
	assert.Equal(t, 1, c.Node(nodeB).Calls(connection.ConnectionOpen))
}

func TestOpenFailsWhenNoServerIsReachable(t *testing.T) {
	c := newCluster()
	for _, a := range c.Addresses() {
		c.Node(a).SetDown(true)
	}

	_, err := Open(testContext(t), testConfig(c, nodeA, nodeB))
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrAllReplicasFailed)
	assert.ErrorIs(t, err, constants.ErrTransport)
	assert.True(t, IsClusterError(err))
}

func TestOpenRejectsInvalidCredential(t *testing.T) {
	c := newCluster()
	c.Credential = &connection.Credential{Username: "admin", Password: "password"}

	cfg := testConfig(c).WithCredential("admin", "wrong")
	_, err := Open(testContext(t), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrInvalidCredential)
	assert.False(t, constants.IsRetryable(err))

	cfg = testConfig(c).WithCredential("admin", "password")
	openDriver(t, cfg)
}

func TestOpenValidatesConfig(t *testing.T) {
	c := newCluster()

	_, err := Open(testContext(t), testConfig(c, "no-port"))
	assert.ErrorIs(t, err, constants.ErrInvalidAddress)
}

func TestCloseClosesSessions(t *testing.T) {
	c := newCluster()
	d := openDriver(t, testConfig(c))
	ctx := testContext(t)

	data, err := d.Session(ctx, "social", models.SessionData)
	require.NoError(t, err)
	schema, err := d.Session(ctx, "social", models.SessionSchema)
	require.NoError(t, err)
	assert.Len(t, c.Node(nodeA).OpenSessions(), 2)

	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))

	assert.False(t, d.IsOpen())
	assert.False(t, data.IsOpen())
	assert.False(t, schema.IsOpen())
	assert.Empty(t, c.Node(nodeA).OpenSessions())

	_, err = d.Session(ctx, "social", models.SessionData)
	assert.ErrorIs(t, err, constants.ErrConnectionClosed)
}

package gorillaws

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/typedb/typedb-driver-go/internal/fakeserver"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/metrics"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

type ConnectionTestSuite struct {
	suite.Suite

	cluster *fakeserver.Cluster
	server  *fakeserver.WSServer
	cfg     *connection.Config
	conn    connection.Connection
	ctx     context.Context
	cancel  context.CancelFunc
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

func (s *ConnectionTestSuite) SetupTest() {
	s.cluster = fakeserver.NewCluster()
	s.server = fakeserver.NewWSServer(s.cluster)
	s.cluster.CreateDatabase("social", s.server.Address(), 1)

	s.cfg = connection.NewConfig(s.server.Address())
	s.cfg.Logger = logger.Nop()
	s.cfg.Metrics = metrics.New(nil)

	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)

	s.conn = New(models.Address(s.server.Address()), s.cfg)
	s.Require().NoError(s.conn.Connect(s.ctx))
}

func (s *ConnectionTestSuite) TearDownTest() {
	s.Require().NoError(s.conn.Close(s.ctx))
	s.server.Close()
	s.cancel()
}

func (s *ConnectionTestSuite) TestUnaryCalls() {
	servers, err := connection.Call[[]string](s.conn, s.ctx, connection.ServersAll)
	s.Require().NoError(err)
	s.Equal([]string{s.server.Address()}, servers)

	exists, err := connection.Call[bool](s.conn, s.ctx, connection.DatabasesContains, "social")
	s.Require().NoError(err)
	s.True(exists)

	info, err := connection.Call[models.DatabaseInfo](s.conn, s.ctx, connection.DatabaseGet, "social")
	s.Require().NoError(err)
	s.Equal("social", info.Name)
	primary, ok := info.Primary()
	s.Require().True(ok)
	s.Equal(s.conn.Address(), primary.Address)

	s.Equal(1, s.server.Node.Calls(connection.ConnectionOpen))
}

func (s *ConnectionTestSuite) TestServerErrorIsMapped() {
	_, err := connection.Call[models.DatabaseInfo](s.conn, s.ctx, connection.DatabaseGet, "missing")
	s.Require().Error(err)
	s.ErrorIs(err, constants.ErrDatabaseDoesNotExist)
	s.True(connection.IsServerError(err))
	s.False(s.conn.IsClosed())
}

func (s *ConnectionTestSuite) TestInvalidCredential() {
	s.cluster.Credential = &connection.Credential{Username: "admin", Password: "password"}

	conn := New(models.Address(s.server.Address()), s.cfg)
	err := conn.Connect(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, constants.ErrInvalidCredential)
	s.True(conn.IsClosed())
}

func (s *ConnectionTestSuite) TestConnectionRefused() {
	conn := New("127.0.0.1:1", s.cfg)
	err := conn.Connect(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, constants.ErrTransport)
	s.True(constants.IsRetryable(err))
}

func (s *ConnectionTestSuite) TestSendAfterClose() {
	s.Require().NoError(s.conn.Close(s.ctx))
	s.True(s.conn.IsClosed())

	_, err := s.conn.Send(s.ctx, string(connection.ServersAll))
	s.ErrorIs(err, constants.ErrConnectionClosed)

	_, err = s.conn.NewStream(s.ctx)
	s.ErrorIs(err, constants.ErrConnectionClosed)
}

func (s *ConnectionTestSuite) TestTransactionStream() {
	opened, err := connection.Call[connection.SessionOpenResult](s.conn, s.ctx, connection.SessionOpen,
		connection.SessionOpenParams{Database: "social", Type: models.SessionData})
	s.Require().NoError(err)

	stream, err := s.conn.NewStream(s.ctx)
	s.Require().NoError(err)

	openID := models.ID{1}
	queryID := models.ID{2}
	s.Require().NoError(stream.Send(&connection.TransactionClient{Reqs: []*connection.TransactionRequest{
		{
			ReqID: openID,
			Kind:  connection.TxOpen,
			Open:  &connection.TransactionOpenRequest{SessionID: opened.SessionID, Type: models.TransactionRead},
		},
		{
			ReqID: queryID,
			Kind:  connection.TxQuery,
			Query: &connection.QueryRequest{Kind: connection.QueryMatch, Query: "match $x isa person;"},
		},
	}}))

	msg, err := stream.Recv()
	s.Require().NoError(err)
	s.Require().NotNil(msg.Res)
	s.Equal(openID, msg.Res.ReqID)
	s.Nil(msg.Res.Error)

	msg, err = stream.Recv()
	s.Require().NoError(err)
	s.Require().NotNil(msg.ResPart)
	s.Equal(queryID, msg.ResPart.ReqID)
	var answer string
	s.Require().NoError(s.cfg.Unmarshaler.Unmarshal(msg.ResPart.Result, &answer))
	s.Equal("match $x isa person;", answer)

	msg, err = stream.Recv()
	s.Require().NoError(err)
	s.Require().NotNil(msg.ResPart)
	s.Equal(connection.StreamDone, msg.ResPart.State)

	s.Require().NoError(stream.CloseSend())
	s.Require().NoError(stream.CloseSend())
	s.ErrorIs(stream.Send(&connection.TransactionClient{}), constants.ErrTransactionClosed)

	_, err = stream.Recv()
	s.True(errors.Is(err, io.EOF), "expected io.EOF, got %v", err)
}

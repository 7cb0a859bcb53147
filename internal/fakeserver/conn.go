package fakeserver

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/internal/rand"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// Conn is an in-process connection.Connection to one Node.
type Conn struct {
	cluster *Cluster
	address models.Address
	cfg     *connection.Config
	closed  atomic.Bool
}

// Factory returns a connection.Factory dialing the nodes of c in process.
func (c *Cluster) Factory() connection.Factory {
	return func(address models.Address, cfg *connection.Config) connection.Connection {
		return &Conn{cluster: c, address: address, cfg: cfg}
	}
}

func (c *Conn) node() (*Node, error) {
	if c.closed.Load() {
		return nil, constants.ErrConnectionClosed
	}
	n := c.cluster.Node(c.address.String())
	if n == nil || n.IsDown() {
		return nil, fmt.Errorf("%w: %s", constants.ErrUnableToConnect, c.address)
	}
	return n, nil
}

func (c *Conn) Connect(ctx context.Context) error {
	if _, err := c.node(); err != nil {
		return err
	}

	params := connection.ConnectionOpenParams{Version: connection.ProtocolVersion}
	if c.cfg != nil && c.cfg.Credential != nil {
		params.Username = c.cfg.Credential.Username
		params.Password = c.cfg.Credential.Password
	}
	return connection.Send[any](c, ctx, nil, connection.ConnectionOpen, params)
}

func (c *Conn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) Address() models.Address {
	return c.address
}

func (c *Conn) GetUnmarshaler() codec.Unmarshaler {
	return c.cluster.codec
}

func (c *Conn) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := c.node()
	if err != nil {
		if c.closed.Load() {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", constants.ErrBrokenPipe, c.address)
	}

	raw := make([]cbor.RawMessage, len(params))
	for i, p := range params {
		if raw[i], err = c.cluster.encode(p); err != nil {
			return nil, err
		}
	}

	result, rpcErr := n.handle(method, raw)
	if rpcErr != nil {
		return nil, rpcErr
	}

	encoded, err := c.cluster.encode(result)
	if err != nil {
		return nil, err
	}

	id := rand.NewRequestID()
	return &connection.RPCResponse[cbor.RawMessage]{ID: &id, Result: &encoded}, nil
}

func (c *Conn) NewStream(context.Context) (connection.Stream, error) {
	n, err := c.node()
	if err != nil {
		return nil, err
	}

	p := NewPipe()
	go n.serve(p)
	return p.Client(), nil
}

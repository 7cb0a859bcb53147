package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/internal/rand"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/metrics"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// DefaultDialer is the default gorilla dialer used by Connection.
//
// It uses the default gorilla dialer with the following modifications:
// - EnableCompression is set to true
// - Subprotocols is set to ["cbor"]
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Connection struct {
	connection.Toolkit

	address    models.Address
	credential *connection.Credential
	tls        connection.TLSConfig

	Conn *gorilla.Conn
	// connLock guards writes to Conn.
	connLock sync.Mutex

	// Timeout is the timeout for receiving the RPC response after
	// the request has been written. Zero disables it.
	Timeout time.Duration

	logger  logger.Logger
	metrics *metrics.Metrics

	// connCloseCh is closed once the connection is closed, by either side.
	connCloseCh    chan struct{}
	connCloseError error
	closeOnce      sync.Once
	closedLock     sync.RWMutex
	closed         bool
}

// New creates an unconnected websocket Connection. It satisfies connection.Factory.
func New(address models.Address, cfg *connection.Config) connection.Connection {
	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &Connection{
		Toolkit:     connection.NewToolkit(cfg),
		address:     address,
		credential:  cfg.Credential,
		tls:         cfg.TLS,
		Timeout:     cfg.Timeout,
		logger:      l,
		metrics:     cfg.Metrics,
		connCloseCh: make(chan struct{}),
	}
}

func (c *Connection) Address() models.Address {
	return c.address
}

// IsClosed reports whether the connection has been closed locally or lost.
// A closed Connection cannot be reopened.
func (c *Connection) IsClosed() bool {
	c.closedLock.RLock()
	defer c.closedLock.RUnlock()
	return c.closed
}

func (c *Connection) GetUnmarshaler() codec.Unmarshaler {
	return c.Unmarshaler
}

func (c *Connection) url(path string) string {
	return fmt.Sprintf("%s://%s%s", c.tls.Scheme(), c.address, path)
}

func (c *Connection) dial(ctx context.Context, path string) (*gorilla.Conn, error) {
	tlsConfig, err := c.tls.ClientConfig()
	if err != nil {
		return nil, err
	}

	dialer := *DefaultDialer
	dialer.TLSClientConfig = tlsConfig

	conn, res, err := dialer.DialContext(ctx, c.url(path), nil)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s: %v", constants.ErrConnectionRefused, c.address, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", constants.ErrUnableToConnect, c.address, err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	return conn, nil
}

// Connect dials the server and authenticates with connection_open.
func (c *Connection) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx, constants.RPCPath)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	c.Conn = conn
	c.connLock.Unlock()

	go c.readLoop(conn)

	params := connection.ConnectionOpenParams{Version: connection.ProtocolVersion}
	if c.credential != nil {
		params.Username = c.credential.Username
		params.Password = c.credential.Password
	}

	if err := connection.Send[any](c, ctx, nil, connection.ConnectionOpen, params); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultCloseTimeout)
		defer cancel()
		_ = c.Close(closeCtx)
		return err
	}

	c.logger.Debug("connected", "address", c.address.String())
	return nil
}

// Close closes the connection and fails every pending request.
//
// The context bounds the write of the close frame. The socket is closed
// regardless of whether that write succeeds.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(constants.ErrConnectionClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.Conn
	c.Conn = nil
	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.DefaultCloseTimeout)
	}
	if err := conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline); err != nil {
		c.logger.Warn("failed to write close message", "error", err.Error())
	}

	return conn.Close()
}

// Send sends a unary request and waits for its response.
//
// The ctx is wrapped with a timeout if c.Timeout is set.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := rand.NewRequestID()
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	start := time.Now()
	if err := c.write(request); err != nil {
		c.metrics.ObserveUnary(method, time.Since(start), err)
		return nil, err
	}

	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", constants.ErrTimeout, method, time.Since(start))
		}
		c.metrics.ObserveUnary(method, time.Since(start), err)
		return nil, err
	case res, open := <-responseChan:
		if !open {
			err := c.closeError()
			c.metrics.ObserveUnary(method, time.Since(start), err)
			return nil, err
		}

		if res.Error != nil {
			c.metrics.ObserveUnary(method, time.Since(start), res.Error)
			return nil, res.Error
		}
		c.metrics.ObserveUnary(method, time.Since(start), nil)
		return &res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.Conn == nil {
		return c.closeError()
	}

	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if err != nil {
		c.closeWithError(fmt.Errorf("%w: %v", constants.ErrBrokenPipe, err))
		return c.closeError()
	}
	return nil
}

func (c *Connection) closeError() error {
	c.closedLock.RLock()
	defer c.closedLock.RUnlock()
	if c.connCloseError == nil {
		return constants.ErrConnectionClosed
	}
	return c.connCloseError
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closedLock.Lock()
		c.closed = true
		c.connCloseError = err
		c.closedLock.Unlock()
		close(c.connCloseCh)
	})
}

// readLoop delivers responses in arrival order until the socket fails.
// When it exits every pending request is failed.
func (c *Connection) readLoop(conn *gorilla.Conn) {
	defer c.FailResponseChannels()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.readError(err))
			return
		}
		c.handleResponse(data)
	}
}

func (c *Connection) readError(err error) error {
	if errors.Is(err, net.ErrClosed) || gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
		return constants.ErrConnectionClosed
	}
	c.logger.Warn("connection lost", "address", c.address.String(), "error", err.Error())
	return fmt.Errorf("%w: %v", constants.ErrBrokenPipe, err)
}

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &res); err != nil {
		c.logger.Error("failed to decode response", "error", err.Error())
		return
	}

	if res.ID == nil {
		// Nothing can be correlated without an ID.
		c.logger.Error("response without id", "error", fmt.Sprint(res.Error))
		return
	}

	if !c.DeliverResponse(res) {
		c.logger.Warn("dropping response for unknown request", "id", res.ID.String())
	}
}

// NewStream dials a dedicated transaction stream.
func (c *Connection) NewStream(ctx context.Context) (connection.Stream, error) {
	if c.IsClosed() {
		return nil, c.closeError()
	}

	conn, err := c.dial(ctx, constants.TransactionPath)
	if err != nil {
		return nil, err
	}

	return &Stream{
		conn:        conn,
		marshaler:   c.Marshaler,
		unmarshaler: c.Unmarshaler,
	}, nil
}

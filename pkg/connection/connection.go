package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// Connection is a connection to one server.
//
// Unary calls go through Send and are matched to their responses by request ID.
// Each transaction opens its own bidirectional Stream.
type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
	Address() models.Address

	// Send issues a unary call and waits for its response.
	// A server-side error is returned as *RPCError.
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)

	// NewStream opens a transaction stream.
	NewStream(ctx context.Context) (Stream, error)

	GetUnmarshaler() codec.Unmarshaler
}

// Stream is a bidirectional transaction stream.
//
// Send and CloseSend may be called from one goroutine while Recv is called from another.
type Stream interface {
	Send(msg *TransactionClient) error
	// Recv blocks for the next server frame. It returns io.EOF once the server
	// has ended the stream cleanly.
	Recv() (*TransactionServer, error)
	// CloseSend half-closes the client side of the stream.
	CloseSend() error
}

// Toolkit holds what every Connection implementation needs to correlate
// unary requests with their responses.
type Toolkit struct {
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	ResponseChannels     map[models.ID]chan RPCResponse[cbor.RawMessage]
	ResponseChannelsLock sync.RWMutex
}

// NewToolkit returns a Toolkit with an empty response table.
func NewToolkit(cfg *Config) Toolkit {
	return Toolkit{
		Marshaler:        cfg.Marshaler,
		Unmarshaler:      cfg.Unmarshaler,
		ResponseChannels: make(map[models.ID]chan RPCResponse[cbor.RawMessage]),
	}
}

// CreateResponseChannel registers a channel for id.
// The channel is buffered so that the read loop never blocks on a caller that gave up.
func (t *Toolkit) CreateResponseChannel(id models.ID) (chan RPCResponse[cbor.RawMessage], error) {
	t.ResponseChannelsLock.Lock()
	defer t.ResponseChannelsLock.Unlock()

	if _, ok := t.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	t.ResponseChannels[id] = ch

	return ch, nil
}

func (t *Toolkit) GetResponseChannel(id models.ID) (chan RPCResponse[cbor.RawMessage], bool) {
	t.ResponseChannelsLock.RLock()
	defer t.ResponseChannelsLock.RUnlock()
	ch, ok := t.ResponseChannels[id]
	return ch, ok
}

func (t *Toolkit) RemoveResponseChannel(id models.ID) {
	t.ResponseChannelsLock.Lock()
	defer t.ResponseChannelsLock.Unlock()
	delete(t.ResponseChannels, id)
}

// DeliverResponse hands res to the caller waiting on its ID.
// It reports false when nobody is waiting.
func (t *Toolkit) DeliverResponse(res RPCResponse[cbor.RawMessage]) bool {
	if res.ID == nil {
		return false
	}

	t.ResponseChannelsLock.Lock()
	defer t.ResponseChannelsLock.Unlock()

	ch, ok := t.ResponseChannels[*res.ID]
	if !ok {
		return false
	}
	delete(t.ResponseChannels, *res.ID)
	ch <- res
	return true
}

// FailResponseChannels closes every pending channel. Waiters observe the closed
// channel and report the connection's close error.
func (t *Toolkit) FailResponseChannels() {
	t.ResponseChannelsLock.Lock()
	defer t.ResponseChannelsLock.Unlock()

	for id, ch := range t.ResponseChannels {
		close(ch)
		delete(t.ResponseChannels, id)
	}
}

// PendingResponses returns the number of requests waiting for a response.
func (t *Toolkit) PendingResponses() int {
	t.ResponseChannelsLock.RLock()
	defer t.ResponseChannelsLock.RUnlock()
	return len(t.ResponseChannels)
}

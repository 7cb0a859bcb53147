package gorillaws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
)

// Stream is a transaction stream over its own websocket.
// Each client frame is one CBOR-encoded connection.TransactionClient.
type Stream struct {
	conn        *gorilla.Conn
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	writeLock  sync.Mutex
	sendClosed bool
}

func (s *Stream) Send(msg *connection.TransactionClient) error {
	data, err := s.marshaler.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.sendClosed {
		return constants.ErrTransactionClosed
	}

	if err := s.conn.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", constants.ErrBrokenPipe, err)
	}
	return nil
}

func (s *Stream) Recv() (*connection.TransactionServer, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		_ = s.conn.Close()
		if gorilla.IsCloseError(err, gorilla.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", constants.ErrBrokenPipe, err)
	}

	var msg connection.TransactionServer
	if err := s.unmarshaler.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrUnexpectedResponse, err)
	}
	return &msg, nil
}

// CloseSend sends a close frame. The server answers with its own close frame
// once it has finished, which ends Recv with io.EOF.
func (s *Stream) CloseSend() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.sendClosed {
		return nil
	}
	s.sendClosed = true

	deadline := time.Now().Add(constants.DefaultCloseTimeout)
	err := s.conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline)
	_ = s.conn.SetReadDeadline(deadline)
	if err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
		return fmt.Errorf("%w: %v", constants.ErrBrokenPipe, err)
	}
	return nil
}

package fakeserver

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

var upgrader = gorilla.Upgrader{
	Subprotocols:      []string{"cbor"},
	EnableCompression: true,
}

type rawRequest struct {
	ID     models.ID         `cbor:"id"`
	Method string            `cbor:"method"`
	Params []cbor.RawMessage `cbor:"params"`
}

// WSServer serves one Node over websocket.
type WSServer struct {
	*httptest.Server
	Node *Node
}

// NewWSServer starts a websocket front end and adds it to c as a new node
// whose address is the listener address.
func NewWSServer(c *Cluster) *WSServer {
	s := &WSServer{}
	mux := http.NewServeMux()
	mux.HandleFunc(constants.RPCPath, s.serveRPC)
	mux.HandleFunc(constants.TransactionPath, s.serveTransaction)

	s.Server = httptest.NewServer(mux)
	s.Node = c.AddNode(strings.TrimPrefix(s.Server.URL, "http://"))
	return s
}

// Address returns the node address as the driver expects it.
func (s *WSServer) Address() string {
	return s.Node.Address().String()
}

func (s *WSServer) serveRPC(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := s.Node.cluster.codec
	for {
		_, data, err := conn.ReadMessage()
		if err != nil || s.Node.IsDown() {
			return
		}

		var req rawRequest
		if err := c.Unmarshal(data, &req); err != nil {
			return
		}

		res := connection.RPCResponse[cbor.RawMessage]{ID: &req.ID}
		result, rpcErr := s.Node.handle(req.Method, req.Params)
		if rpcErr != nil {
			res.Error = rpcErr
		} else {
			raw, err := s.Node.cluster.encode(result)
			if err != nil {
				res.Error = &connection.RPCError{Code: "RPC04", Message: err.Error()}
			} else {
				res.Result = &raw
			}
		}

		out, err := c.Marshal(res)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(gorilla.BinaryMessage, out); err != nil {
			return
		}
	}
}

// serveTransaction bridges the websocket to a Pipe served by the node.
func (s *WSServer) serveTransaction(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The close frame is answered once every pending reply has been written.
	conn.SetCloseHandler(func(int, string) error { return nil })

	p := NewPipe()
	client := p.Client()
	go s.Node.serve(p)

	c := s.Node.cluster.codec
	go func() {
		defer client.CloseSend()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg connection.TransactionClient
			if err := c.Unmarshal(data, &msg); err != nil {
				return
			}
			if err := client.Send(&msg); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := client.Recv()
		if err != nil {
			code := gorilla.CloseNormalClosure
			if !errors.Is(err, io.EOF) {
				code = gorilla.CloseInternalServerErr
			}
			_ = conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, ""))
			return
		}

		out, err := c.Marshal(msg)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(gorilla.BinaryMessage, out); err != nil {
			return
		}
	}
}

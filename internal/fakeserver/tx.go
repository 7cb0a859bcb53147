package fakeserver

import (
	"fmt"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

type heldReply struct {
	pipe *Pipe
	out  []*connection.TransactionServer
}

// Hold keeps back the responses to the queries whose text is listed until
// Release is called for them.
func (n *Node) Hold(queries ...string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for _, q := range queries {
		n.holding[q] = true
	}
}

// Release sends the held responses to query. A query that has not arrived yet
// is answered as soon as it does.
func (n *Node) Release(query string) {
	n.lock.Lock()
	delete(n.holding, query)
	h := n.held[query]
	delete(n.held, query)
	n.lock.Unlock()

	if h == nil {
		return
	}
	for _, out := range h.out {
		h.pipe.Reply(out)
	}
}

func (n *Node) holdResponses(p *Pipe, query string, out []*connection.TransactionServer) bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	if !n.holding[query] {
		return false
	}
	n.held[query] = &heldReply{pipe: p, out: out}
	return true
}

type transaction struct {
	node    *Node
	pipe    *Pipe
	opened  bool
	typ     models.TransactionType
	pending map[models.ID][]any
}

func (n *Node) track(p *Pipe) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.pipes = append(n.pipes, p)
}

func (n *Node) untrack(p *Pipe) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for i, q := range n.pipes {
		if q == p {
			n.pipes = append(n.pipes[:i], n.pipes[i+1:]...)
			return
		}
	}
}

// Streams returns the number of transaction streams currently served.
func (n *Node) Streams() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.pipes)
}

// serve answers the requests arriving on p until the client half-closes it.
func (n *Node) serve(p *Pipe) {
	n.track(p)
	defer n.untrack(p)

	tx := &transaction{node: n, pipe: p, pending: make(map[models.ID][]any)}
	for {
		msg, ok := p.Recv()
		if !ok {
			p.End(nil)
			return
		}
		for _, req := range msg.Reqs {
			for _, out := range tx.handle(req) {
				p.Reply(out)
			}
		}
	}
}

func response(req *connection.TransactionRequest, err *connection.RPCError) []*connection.TransactionServer {
	return []*connection.TransactionServer{{Res: &connection.TransactionResponse{ReqID: req.ReqID, Kind: req.Kind, Error: err}}}
}

func (tx *transaction) handle(req *connection.TransactionRequest) []*connection.TransactionServer {
	if req.Kind != connection.TxOpen && req.Kind != connection.TxStream && !tx.opened {
		return response(req, &connection.RPCError{Code: constants.CodeTransactionNotAllowed, Message: "transaction is not open"})
	}

	switch req.Kind {
	case connection.TxOpen:
		if req.Open == nil {
			return response(req, &connection.RPCError{Code: "TXN02", Message: "missing open request"})
		}
		if _, ok := tx.node.session(req.Open.SessionID); !ok {
			return response(req, &connection.RPCError{Code: constants.CodeSessionNotFound, Message: fmt.Sprintf("session %v not found", req.Open.SessionID)})
		}
		tx.opened = true
		tx.typ = req.Open.Type
		return response(req, nil)

	case connection.TxCommit:
		if !tx.typ.IsWrite() {
			return response(req, &connection.RPCError{Code: CodeTransactionType, Message: "read transactions cannot be committed"})
		}
		return response(req, nil)

	case connection.TxRollback:
		return response(req, nil)

	case connection.TxQuery:
		return tx.query(req)

	case connection.TxStream:
		return tx.nextBatch(req.ReqID)
	}

	return response(req, &connection.RPCError{Code: "TXN03", Message: fmt.Sprintf("unknown request kind %q", req.Kind)})
}

func (tx *transaction) query(req *connection.TransactionRequest) []*connection.TransactionServer {
	if req.Query == nil {
		return response(req, &connection.RPCError{Code: "QRY01", Message: "missing query"})
	}

	q := req.Query
	var out []*connection.TransactionServer

	switch {
	case q.Kind.Streamed():
		tx.pending[req.ReqID] = tx.node.cluster.answers(q.Kind, q.Query)
		out = tx.nextBatch(req.ReqID)
	case q.Kind == connection.QueryMatchAggregate:
		answers := tx.node.cluster.answers(q.Kind, q.Query)
		var result any
		if len(answers) > 0 {
			result = answers[0]
		}
		raw, err := tx.node.cluster.encode(result)
		if err != nil {
			return response(req, &connection.RPCError{Code: "QRY02", Message: err.Error()})
		}
		out = []*connection.TransactionServer{{Res: &connection.TransactionResponse{ReqID: req.ReqID, Kind: req.Kind, Result: raw}}}
	default:
		out = response(req, nil)
	}

	if tx.node.holdResponses(tx.pipe, q.Query, out) {
		return nil
	}
	return out
}

func (tx *transaction) nextBatch(id models.ID) []*connection.TransactionServer {
	answers, ok := tx.pending[id]
	if !ok {
		return nil
	}

	size := tx.node.cluster.PartsPerBatch
	if size <= 0 || size > len(answers) {
		size = len(answers)
	}

	out := make([]*connection.TransactionServer, 0, size+1)
	for _, a := range answers[:size] {
		raw, err := tx.node.cluster.encode(a)
		if err != nil {
			delete(tx.pending, id)
			return append(out, &connection.TransactionServer{ResPart: &connection.TransactionResponsePart{
				ReqID: id,
				Error: &connection.RPCError{Code: "QRY02", Message: err.Error()},
			}})
		}
		out = append(out, &connection.TransactionServer{ResPart: &connection.TransactionResponsePart{ReqID: id, Result: raw}})
	}

	rest := answers[size:]
	if len(rest) == 0 {
		delete(tx.pending, id)
		return append(out, &connection.TransactionServer{ResPart: &connection.TransactionResponsePart{ReqID: id, State: connection.StreamDone}})
	}

	tx.pending[id] = rest
	return append(out, &connection.TransactionServer{ResPart: &connection.TransactionResponsePart{ReqID: id, State: connection.StreamContinue}})
}

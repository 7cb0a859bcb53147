package fakeserver

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
)

const pipeBuffer = 1024

// Pipe is an in-process transaction stream. The client half implements
// connection.Stream; the server half is driven by tests or by a Node.
type Pipe struct {
	toServer chan *connection.TransactionClient
	toClient chan *connection.TransactionServer

	sendLock   sync.Mutex
	sendClosed bool
	closeSends atomic.Int32
	sends      atomic.Int32

	endOnce sync.Once
	endLock sync.Mutex
	endErr  error
	ended   chan struct{}
}

func NewPipe() *Pipe {
	return &Pipe{
		toServer: make(chan *connection.TransactionClient, pipeBuffer),
		toClient: make(chan *connection.TransactionServer, pipeBuffer),
		ended:    make(chan struct{}),
	}
}

// Client returns the client half.
func (p *Pipe) Client() connection.Stream {
	return (*pipeClient)(p)
}

// CloseSends returns how many times the client half-closed the stream.
func (p *Pipe) CloseSends() int {
	return int(p.closeSends.Load())
}

// Sends returns how many frames the client wrote.
func (p *Pipe) Sends() int {
	return int(p.sends.Load())
}

// Recv returns the next client frame. ok is false once the client has
// half-closed and every frame was read.
func (p *Pipe) Recv() (*connection.TransactionClient, bool) {
	msg, ok := <-p.toServer
	return msg, ok
}

// Reply writes a server frame. Replies after End are dropped.
func (p *Pipe) Reply(msg *connection.TransactionServer) {
	select {
	case <-p.ended:
	case p.toClient <- msg:
	}
}

// Respond is Reply for a terminal response.
func (p *Pipe) Respond(res *connection.TransactionResponse) {
	p.Reply(&connection.TransactionServer{Res: res})
}

// Part is Reply for a response part.
func (p *Pipe) Part(part *connection.TransactionResponsePart) {
	p.Reply(&connection.TransactionServer{ResPart: part})
}

// End ends the server half. A nil err is a clean end: the client reads io.EOF
// after every reply already written.
func (p *Pipe) End(err error) {
	p.endOnce.Do(func() {
		p.endLock.Lock()
		p.endErr = err
		p.endLock.Unlock()
		close(p.ended)
	})
}

type pipeClient Pipe

func (c *pipeClient) Send(msg *connection.TransactionClient) error {
	p := (*Pipe)(c)

	p.sendLock.Lock()
	defer p.sendLock.Unlock()

	if p.sendClosed {
		return constants.ErrTransactionClosed
	}

	p.sends.Add(1)
	p.toServer <- msg
	return nil
}

func (c *pipeClient) Recv() (*connection.TransactionServer, error) {
	p := (*Pipe)(c)

	select {
	case msg := <-p.toClient:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.toClient:
		return msg, nil
	case <-p.ended:
		select {
		case msg := <-p.toClient:
			return msg, nil
		default:
		}
		p.endLock.Lock()
		defer p.endLock.Unlock()
		if p.endErr == nil {
			return nil, io.EOF
		}
		return nil, p.endErr
	}
}

func (c *pipeClient) CloseSend() error {
	p := (*Pipe)(c)
	p.closeSends.Add(1)

	p.sendLock.Lock()
	defer p.sendLock.Unlock()

	if !p.sendClosed {
		p.sendClosed = true
		close(p.toServer)
	}
	return nil
}

// Package fakeserver provides a fake database cluster for tests.
//
// A Cluster holds the replica topology of its databases. Each Node answers the
// unary methods and serves transaction streams the way a real server does,
// including "not primary" replies when it does not hold the primary replica.
// Nodes can be reached in process, through Cluster.Factory, or over websocket,
// through NewWSServer.
//
// Failures are injected with Node.SetDown, Node.Stub and Node.SetView.
package fakeserver

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/internal/rand"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

const (
	CodeDatabaseExists  = "DBS02"
	CodeTransactionType = "TXN07"
)

type database struct {
	primary models.Address
	term    int64
	schema  string
}

type Cluster struct {
	lock      sync.Mutex
	nodes     map[models.Address]*Node
	order     []models.Address
	databases map[string]*database

	// Credential, when set, is required by connection_open.
	Credential *connection.Credential

	// Answers produces the answers of a query. By default a query has one
	// answer: its own text.
	Answers func(kind connection.QueryKind, query string) []any

	// PartsPerBatch is how many answers are streamed before the server waits
	// for a continuation request.
	PartsPerBatch int

	codec *codec.CBOR
}

// NewCluster creates a cluster with one node per address.
func NewCluster(addresses ...string) *Cluster {
	c := &Cluster{
		nodes:         make(map[models.Address]*Node),
		databases:     make(map[string]*database),
		PartsPerBatch: 2,
		codec:         codec.NewCBOR(),
	}
	for _, a := range addresses {
		c.AddNode(a)
	}
	return c
}

func (c *Cluster) AddNode(address string) *Node {
	c.lock.Lock()
	defer c.lock.Unlock()

	addr := models.Address(address)
	n := &Node{
		cluster:  c,
		address:  addr,
		calls:    make(map[string]int),
		views:    make(map[string]models.DatabaseInfo),
		stubs:    make(map[string]*connection.RPCError),
		sessions: make(map[models.ID]*session),
		holding:  make(map[string]bool),
		held:     make(map[string]*heldReply),
	}
	c.nodes[addr] = n
	c.order = append(c.order, addr)
	return n
}

func (c *Cluster) Node(address string) *Node {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.nodes[models.Address(address)]
}

func (c *Cluster) Addresses() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	out := make([]string, len(c.order))
	for i, a := range c.order {
		out[i] = a.String()
	}
	return out
}

// CreateDatabase creates name with its primary replica on primary.
func (c *Cluster) CreateDatabase(name, primary string, term int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.databases[name] = &database{primary: models.Address(primary), term: term, schema: "define\n"}
}

// SetPrimary moves the primary replica of name. An empty primary means no
// replica is primary, as during an election.
func (c *Cluster) SetPrimary(name, primary string, term int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	db := c.databases[name]
	db.primary = models.Address(primary)
	db.term = term
}

func (c *Cluster) primaryOf(name string) (models.Address, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	db, ok := c.databases[name]
	if !ok {
		return "", false
	}
	return db.primary, true
}

func (c *Cluster) info(name string) (models.DatabaseInfo, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	db, ok := c.databases[name]
	if !ok {
		return models.DatabaseInfo{}, false
	}

	info := models.DatabaseInfo{Name: name}
	for i, a := range c.order {
		info.Replicas = append(info.Replicas, models.ReplicaInfo{
			Address:   a,
			Primary:   a == db.primary,
			Preferred: i == 0,
			Term:      db.term,
		})
	}
	return info, true
}

func (c *Cluster) answers(kind connection.QueryKind, query string) []any {
	if c.Answers != nil {
		return c.Answers(kind, query)
	}
	return []any{query}
}

type session struct {
	database string
	typ      models.SessionType
	open     bool
}

type Node struct {
	cluster *Cluster
	address models.Address
	down    atomic.Bool

	lock     sync.Mutex
	calls    map[string]int
	views    map[string]models.DatabaseInfo
	stubs    map[string]*connection.RPCError
	sessions map[models.ID]*session
	pipes    []*Pipe
	holding  map[string]bool
	held     map[string]*heldReply
}

func (n *Node) Address() models.Address {
	return n.address
}

// SetDown makes the node unreachable. Open transaction streams end with a
// broken pipe.
func (n *Node) SetDown(down bool) {
	n.down.Store(down)
	if !down {
		return
	}

	n.lock.Lock()
	pipes := n.pipes
	n.pipes = nil
	n.lock.Unlock()

	for _, p := range pipes {
		p.End(constants.ErrBrokenPipe)
	}
}

func (n *Node) IsDown() bool {
	return n.down.Load()
}

// Calls returns how many times method reached this node.
func (n *Node) Calls(method connection.RPCFunction) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.calls[string(method)]
}

// Stub makes method fail with err until cleared with a nil err.
func (n *Node) Stub(method connection.RPCFunction, err *connection.RPCError) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if err == nil {
		delete(n.stubs, string(method))
		return
	}
	n.stubs[string(method)] = err
}

// SetView makes this node report its own, possibly stale, topology for name.
func (n *Node) SetView(name, primary string, term int64) {
	info, ok := n.cluster.info(name)
	if !ok {
		info = models.DatabaseInfo{Name: name}
	}
	for i := range info.Replicas {
		info.Replicas[i].Primary = info.Replicas[i].Address == models.Address(primary)
		info.Replicas[i].Term = term
	}

	n.lock.Lock()
	defer n.lock.Unlock()
	n.views[name] = info
}

// OpenSessions returns the IDs of the sessions open on this node.
func (n *Node) OpenSessions() []models.ID {
	n.lock.Lock()
	defer n.lock.Unlock()

	var ids []models.ID
	for id, s := range n.sessions {
		if s.open {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// CloseSession closes a session server-side.
func (n *Node) CloseSession(id models.ID) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if s, ok := n.sessions[id]; ok {
		s.open = false
	}
}

func (n *Node) record(method string) *connection.RPCError {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.calls[method]++
	return n.stubs[method]
}

func (n *Node) decode(params []cbor.RawMessage, i int, v any) *connection.RPCError {
	if i >= len(params) {
		return &connection.RPCError{Code: "RPC01", Message: fmt.Sprintf("missing parameter %d", i)}
	}
	if err := n.cluster.codec.Unmarshal(params[i], v); err != nil {
		return &connection.RPCError{Code: "RPC02", Message: err.Error()}
	}
	return nil
}

func notPrimary(addr models.Address) *connection.RPCError {
	return &connection.RPCError{Code: constants.CodeReplicaNotPrimary, Message: fmt.Sprintf("%s is not the primary replica", addr)}
}

func noDatabase(name string) *connection.RPCError {
	return &connection.RPCError{Code: constants.CodeDatabaseDoesNotExist, Message: fmt.Sprintf("database '%s' does not exist", name)}
}

func (n *Node) isPrimary(name string) (bool, *connection.RPCError) {
	primary, ok := n.cluster.primaryOf(name)
	if !ok {
		return false, noDatabase(name)
	}
	return primary == n.address, nil
}

// handle answers one unary call.
func (n *Node) handle(method string, params []cbor.RawMessage) (any, *connection.RPCError) {
	if stub := n.record(method); stub != nil {
		return nil, stub
	}

	switch connection.RPCFunction(method) {
	case connection.ConnectionOpen:
		var p connection.ConnectionOpenParams
		if err := n.decode(params, 0, &p); err != nil {
			return nil, err
		}
		if cred := n.cluster.Credential; cred != nil && (cred.Username != p.Username || cred.Password != p.Password) {
			return nil, &connection.RPCError{Code: constants.CodeInvalidCredential, Message: "invalid credential"}
		}
		return true, nil

	case connection.ServersAll:
		return n.cluster.Addresses(), nil

	case connection.DatabasesContains:
		var name string
		if err := n.decode(params, 0, &name); err != nil {
			return nil, err
		}
		_, ok := n.cluster.primaryOf(name)
		return ok, nil

	case connection.DatabaseCreate:
		var name string
		if err := n.decode(params, 0, &name); err != nil {
			return nil, err
		}
		if _, ok := n.cluster.primaryOf(name); ok {
			return nil, &connection.RPCError{Code: CodeDatabaseExists, Message: fmt.Sprintf("database '%s' already exists", name)}
		}
		n.cluster.CreateDatabase(name, n.cluster.Addresses()[0], 1)
		return true, nil

	case connection.DatabaseGet:
		var name string
		if err := n.decode(params, 0, &name); err != nil {
			return nil, err
		}
		return n.view(name)

	case connection.DatabasesAll:
		var infos []models.DatabaseInfo
		for _, name := range n.cluster.databaseNames() {
			info, err := n.view(name)
			if err != nil {
				return nil, err
			}
			infos = append(infos, info)
		}
		return infos, nil

	case connection.DatabaseDelete:
		var name string
		if err := n.decode(params, 0, &name); err != nil {
			return nil, err
		}
		primary, err := n.isPrimary(name)
		if err != nil {
			return nil, err
		}
		if !primary {
			return nil, notPrimary(n.address)
		}
		n.cluster.deleteDatabase(name)
		return true, nil

	case connection.DatabaseSchema, connection.DatabaseTypeSchema, connection.DatabaseRuleSchema:
		var name string
		if err := n.decode(params, 0, &name); err != nil {
			return nil, err
		}
		schema, ok := n.cluster.schema(name)
		if !ok {
			return nil, noDatabase(name)
		}
		return schema, nil

	case connection.SessionOpen:
		var p connection.SessionOpenParams
		if err := n.decode(params, 0, &p); err != nil {
			return nil, err
		}
		primary, err := n.isPrimary(p.Database)
		if err != nil {
			return nil, err
		}
		readAny := p.Options.ReadAnyReplica != nil && *p.Options.ReadAnyReplica
		if !primary && !readAny {
			return nil, notPrimary(n.address)
		}

		id := rand.NewID()
		n.lock.Lock()
		n.sessions[id] = &session{database: p.Database, typ: p.Type, open: true}
		n.lock.Unlock()
		return connection.SessionOpenResult{SessionID: id}, nil

	case connection.SessionClose:
		var id models.ID
		if err := n.decode(params, 0, &id); err != nil {
			return nil, err
		}
		n.CloseSession(id)
		return true, nil

	case connection.SessionPulse:
		var id models.ID
		if err := n.decode(params, 0, &id); err != nil {
			return nil, err
		}
		n.lock.Lock()
		s, ok := n.sessions[id]
		alive := ok && s.open
		n.lock.Unlock()
		return connection.SessionPulseResult{Alive: alive}, nil
	}

	return nil, &connection.RPCError{Code: "RPC03", Message: fmt.Sprintf("unknown method %s", method)}
}

func (n *Node) view(name string) (models.DatabaseInfo, *connection.RPCError) {
	n.lock.Lock()
	info, ok := n.views[name]
	n.lock.Unlock()
	if ok {
		return info, nil
	}

	info, ok = n.cluster.info(name)
	if !ok {
		return models.DatabaseInfo{}, noDatabase(name)
	}
	return info, nil
}

func (n *Node) session(id models.ID) (*session, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	s, ok := n.sessions[id]
	if !ok || !s.open {
		return nil, false
	}
	return s, true
}

func (c *Cluster) databaseNames() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Cluster) deleteDatabase(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.databases, name)
}

func (c *Cluster) schema(name string) (string, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	db, ok := c.databases[name]
	if !ok {
		return "", false
	}
	return db.schema, true
}

func (c *Cluster) encode(v any) (cbor.RawMessage, error) {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(data), nil
}

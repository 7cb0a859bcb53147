package connection

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// RPCError is an error reported by the server.
type RPCError struct {
	Code        string `cbor:"code"`
	Message     string `cbor:"message,omitempty"`
	Description string `cbor:"description,omitempty"`
}

func (r *RPCError) Error() string {
	msg := r.Message
	if r.Description != "" {
		msg = r.Description
	}
	if r.Code == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", r.Code, msg)
}

// Is maps server error codes onto the driver's sentinel errors, so that
// errors.Is(err, constants.ErrReplicaNotPrimary) holds for a server-side
// "not primary" reply.
func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	if _, ok := target.(*RPCError); ok {
		return true
	}

	switch r.Code {
	case constants.CodeReplicaNotPrimary:
		return target == constants.ErrReplicaNotPrimary || target == constants.ErrCluster
	case constants.CodeDatabaseDoesNotExist:
		return target == constants.ErrDatabaseDoesNotExist || target == constants.ErrProtocol
	case constants.CodeInvalidCredential:
		return target == constants.ErrInvalidCredential || target == constants.ErrTransport
	case constants.CodeSessionNotFound:
		return target == constants.ErrSessionClosed || target == constants.ErrLifecycle
	}
	return false
}

// IsServerError reports whether err originated from the server.
func IsServerError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// RPCRequest is a unary request
type RPCRequest struct {
	ID     models.ID `cbor:"id"`
	Method string    `cbor:"method,omitempty"`
	Params []any     `cbor:"params,omitempty"`
}

// RPCResponse is the reply to a unary request
type RPCResponse[T any] struct {
	// ID is the ID of the request this response corresponds to.
	ID     *models.ID `cbor:"id,omitempty"`
	Error  *RPCError  `cbor:"error,omitempty"`
	Result *T         `cbor:"result,omitempty"`
}

type RPCFunction string

var (
	ConnectionOpen     RPCFunction = "connection_open"
	ServersAll         RPCFunction = "servers_all"
	DatabasesContains  RPCFunction = "databases_contains"
	DatabaseCreate     RPCFunction = "database_create"
	DatabaseGet        RPCFunction = "database_get"
	DatabasesAll       RPCFunction = "databases_all"
	DatabaseDelete     RPCFunction = "database_delete"
	DatabaseSchema     RPCFunction = "database_schema"
	DatabaseTypeSchema RPCFunction = "database_type_schema"
	DatabaseRuleSchema RPCFunction = "database_rule_schema"
	SessionOpen        RPCFunction = "session_open"
	SessionClose       RPCFunction = "session_close"
	SessionPulse       RPCFunction = "session_pulse"
)

// ConnectionOpenParams is the single parameter of connection_open.
type ConnectionOpenParams struct {
	Version  int    `cbor:"version"`
	Username string `cbor:"username,omitempty"`
	Password string `cbor:"password,omitempty"`
}

// ProtocolVersion is sent with connection_open.
const ProtocolVersion = 1

// SessionOpenParams is the single parameter of session_open.
type SessionOpenParams struct {
	Database string             `cbor:"database"`
	Type     models.SessionType `cbor:"type"`
	Options  Options            `cbor:"options"`
}

// SessionOpenResult is the result of session_open.
type SessionOpenResult struct {
	SessionID models.ID `cbor:"session_id"`
	// ServerDurationMillis is how long the server spent opening the session.
	ServerDurationMillis int64 `cbor:"server_duration_millis"`
}

// SessionPulseResult is the result of session_pulse.
type SessionPulseResult struct {
	Alive bool `cbor:"alive"`
}

// Options are the per-session and per-transaction server options.
// Zero values mean "server default".
type Options struct {
	Infer                *bool `cbor:"infer,omitempty"`
	TraceInference       *bool `cbor:"trace_inference,omitempty"`
	Explain              *bool `cbor:"explain,omitempty"`
	Parallel             *bool `cbor:"parallel,omitempty"`
	Prefetch             *bool `cbor:"prefetch,omitempty"`
	PrefetchSize         int32 `cbor:"prefetch_size,omitempty"`
	SessionIdleTimeoutMs int64 `cbor:"session_idle_timeout_millis,omitempty"`
	TransactionTimeoutMs int64 `cbor:"transaction_timeout_millis,omitempty"`
	SchemaLockTimeoutMs  int64 `cbor:"schema_lock_acquire_timeout_millis,omitempty"`
	ReadAnyReplica       *bool `cbor:"read_any_replica,omitempty"`
}

// TransactionRequestKind tags the payload of a TransactionRequest.
type TransactionRequestKind string

const (
	TxOpen     TransactionRequestKind = "open"
	TxCommit   TransactionRequestKind = "commit"
	TxRollback TransactionRequestKind = "rollback"
	TxQuery    TransactionRequestKind = "query"

	// TxStream asks the server for the next batch of a streamed response.
	TxStream TransactionRequestKind = "stream"
)

// TransactionOpenRequest is the payload of an open request.
type TransactionOpenRequest struct {
	SessionID            models.ID              `cbor:"session_id"`
	Type                 models.TransactionType `cbor:"type"`
	Options              Options                `cbor:"options"`
	NetworkLatencyMillis int64                  `cbor:"network_latency_millis"`
}

// QueryKind is the kind of query carried by a query request.
type QueryKind string

const (
	QueryDefine              QueryKind = "define"
	QueryUndefine            QueryKind = "undefine"
	QueryMatch               QueryKind = "match"
	QueryMatchAggregate      QueryKind = "match_aggregate"
	QueryMatchGroup          QueryKind = "match_group"
	QueryMatchGroupAggregate QueryKind = "match_group_aggregate"
	QueryInsert              QueryKind = "insert"
	QueryDelete              QueryKind = "delete"
	QueryUpdate              QueryKind = "update"
)

// Streamed reports whether the server answers this kind with response parts.
func (k QueryKind) Streamed() bool {
	switch k {
	case QueryMatch, QueryMatchGroup, QueryMatchGroupAggregate, QueryInsert, QueryUpdate:
		return true
	default:
		return false
	}
}

// QueryRequest is the payload of a query request. The query text is opaque to the driver.
type QueryRequest struct {
	Kind    QueryKind `cbor:"kind"`
	Query   string    `cbor:"query"`
	Options Options   `cbor:"options"`
}

// TransactionRequest is one request multiplexed on a transaction stream.
type TransactionRequest struct {
	ReqID    models.ID               `cbor:"req_id"`
	Kind     TransactionRequestKind  `cbor:"kind"`
	Open     *TransactionOpenRequest `cbor:"open,omitempty"`
	Query    *QueryRequest           `cbor:"query,omitempty"`
	Metadata map[string]string       `cbor:"metadata,omitempty"`
}

// TransactionClient is one client→server frame: a batch of requests.
type TransactionClient struct {
	Reqs []*TransactionRequest `cbor:"reqs"`
}

// TransactionResponse is a terminal, single response to one request.
type TransactionResponse struct {
	ReqID  models.ID              `cbor:"req_id"`
	Kind   TransactionRequestKind `cbor:"kind"`
	Error  *RPCError              `cbor:"error,omitempty"`
	Result cbor.RawMessage        `cbor:"result,omitempty"`
}

// StreamState marks the end of a batch of response parts.
type StreamState string

const (
	// StreamNone marks a part that carries a result.
	StreamNone StreamState = ""

	// StreamContinue means the server is waiting for a TxStream request.
	StreamContinue StreamState = "continue"

	// StreamDone means there are no more parts for the request.
	StreamDone StreamState = "done"
)

// TransactionResponsePart is one element of a streamed response.
type TransactionResponsePart struct {
	ReqID  models.ID       `cbor:"req_id"`
	State  StreamState     `cbor:"state,omitempty"`
	Error  *RPCError       `cbor:"error,omitempty"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

// TransactionServer is one server→client frame. Exactly one field is set.
type TransactionServer struct {
	Res     *TransactionResponse     `cbor:"res,omitempty"`
	ResPart *TransactionResponsePart `cbor:"res_part,omitempty"`
}

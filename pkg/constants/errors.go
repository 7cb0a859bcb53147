package constants

import (
	"errors"
	"fmt"
)

// Error categories. Every error produced by the driver wraps exactly one of these,
// so callers can branch on the category with errors.Is.
var (
	// ErrTransport covers connection refused/broken and TLS failures.
	ErrTransport = errors.New("transport error")
	// ErrProtocol covers malformed or unexpected responses. It is fatal to one request only.
	ErrProtocol = errors.New("protocol error")
	// ErrCluster covers replica routing failures.
	ErrCluster = errors.New("cluster error")
	// ErrLifecycle covers operations on closed connections, sessions and transactions.
	ErrLifecycle = errors.New("lifecycle error")
)

// Transport errors
var (
	ErrUnableToConnect    = fmt.Errorf("%w: unable to connect to server", ErrTransport)
	ErrConnectionRefused  = fmt.Errorf("%w: connection refused", ErrTransport)
	ErrBrokenPipe         = fmt.Errorf("%w: stream closed because of a broken pipe", ErrTransport)
	ErrInvalidAddress     = fmt.Errorf("%w: invalid address", ErrTransport)
	ErrTLSMaterial        = fmt.Errorf("%w: unable to load TLS material", ErrTransport)
	ErrTimeout            = fmt.Errorf("%w: timeout", ErrTransport)
	ErrInvalidCredential  = fmt.Errorf("%w: invalid credential", ErrTransport)
	ErrMethodNotAvailable = fmt.Errorf("%w: method not available on this connection", ErrTransport)
)

// Protocol errors
var (
	ErrIDInUse              = fmt.Errorf("%w: id already in use", ErrProtocol)
	ErrUnknownRequestID     = fmt.Errorf("%w: received a response with unknown request id", ErrProtocol)
	ErrMissingResponseField = fmt.Errorf("%w: missing field in message received from server", ErrProtocol)
	ErrUnexpectedResponse   = fmt.Errorf("%w: unexpected response type", ErrProtocol)
	ErrDatabaseDoesNotExist = fmt.Errorf("%w: database does not exist", ErrProtocol)
	ErrNoMarshaler          = fmt.Errorf("%w: marshaler is not set", ErrProtocol)
	ErrNoUnmarshaler        = fmt.Errorf("%w: unmarshaler is not set", ErrProtocol)
)

// Cluster errors
var (
	ErrReplicaNotPrimary = fmt.Errorf("%w: the replica is not the primary replica", ErrCluster)
	ErrAllReplicasFailed = fmt.Errorf("%w: all replicas failed", ErrCluster)
	ErrNoPrimaryReplica  = fmt.Errorf("%w: no primary replica is available", ErrCluster)
	ErrUnknownDatabase   = fmt.Errorf("%w: database is not known to any replica", ErrCluster)
)

// Lifecycle errors
var (
	ErrConnectionClosed  = fmt.Errorf("%w: the connection has been closed", ErrLifecycle)
	ErrSessionClosed     = fmt.Errorf("%w: the session is closed", ErrLifecycle)
	ErrTransactionClosed = fmt.Errorf("%w: the transaction is closed", ErrLifecycle)
	ErrPromiseConsumed   = fmt.Errorf("%w: the promise has already been resolved", ErrLifecycle)
	ErrWriteOnReplica    = fmt.Errorf("%w: write transactions need a session on the primary replica", ErrLifecycle)
)

// IsRetryable reports whether an operation that failed with err may be
// retried against another replica.
// Timeouts, credential failures and local configuration errors are never
// retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrTLSMaterial) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrReplicaNotPrimary)
}

package constants

import "time"

const (
	// RequestIDLength size of id sent with every request
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultTimeout timeout in seconds
	DefaultTimeout = 30
	// DefaultWSTimeout is the default timeout for receiving a unary RPC response
	DefaultWSTimeout = DefaultTimeout * time.Second
	// DefaultCloseTimeout bounds how long a stream waits for the server to acknowledge CloseSend
	DefaultCloseTimeout = 5 * time.Second

	// DefaultDispatchInterval is how often queued transaction requests are flushed in one batch
	DefaultDispatchInterval = 3 * time.Millisecond
	// DefaultMaxMessageSize caps the encoded size of one batch of transaction requests
	DefaultMaxMessageSize = 1_000_000

	// DefaultPulseInterval is how often an open session tells the server it is still in use
	DefaultPulseInterval = 5 * time.Second

	// PrimaryReplicaWaitDelay is the pause between topology fetches while a primary is elected
	PrimaryReplicaWaitDelay = 2 * time.Second
	// FetchReplicasMaxRetries bounds topology fetches while waiting for a primary
	FetchReplicasMaxRetries = 10

	// DefaultDatabaseCacheSize bounds the number of databases a manager keeps replica sets for
	DefaultDatabaseCacheSize = 256
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"

	// RPCPath is the websocket path serving unary requests
	RPCPath = "/rpc"
	// TransactionPath is the websocket path serving one transaction stream per socket
	TransactionPath = "/transaction"
)

// Server error codes the client reacts to
const (
	CodeReplicaNotPrimary     = "RPL01"
	CodeDatabaseDoesNotExist  = "DBS06"
	CodeInvalidCredential     = "CLS08"
	CodeSessionNotFound       = "SSN01"
	CodeTransactionNotAllowed = "TXN01"
)

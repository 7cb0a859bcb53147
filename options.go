package typedb

import (
	"time"

	"github.com/typedb/typedb-driver-go/pkg/connection"
)

// Options are the settings of a session or transaction.
// Zero values leave the server defaults in place.
type Options struct {
	Infer          *bool
	TraceInference *bool
	Explain        *bool
	Parallel       *bool
	Prefetch       *bool
	PrefetchSize   int32

	SessionIdleTimeout       time.Duration
	TransactionTimeout       time.Duration
	SchemaLockAcquireTimeout time.Duration

	// ReadAnyReplica lets a session be served by any replica rather than the
	// primary. Only read transactions are allowed on such sessions.
	ReadAnyReplica bool
}

// Bool returns a pointer to b, for the optional fields of Options.
func Bool(b bool) *bool {
	return &b
}

func (o Options) wire() connection.Options {
	w := connection.Options{
		Infer:                o.Infer,
		TraceInference:       o.TraceInference,
		Explain:              o.Explain,
		Parallel:             o.Parallel,
		Prefetch:             o.Prefetch,
		PrefetchSize:         o.PrefetchSize,
		SessionIdleTimeoutMs: o.SessionIdleTimeout.Milliseconds(),
		TransactionTimeoutMs: o.TransactionTimeout.Milliseconds(),
		SchemaLockTimeoutMs:  o.SchemaLockAcquireTimeout.Milliseconds(),
	}
	if o.ReadAnyReplica {
		w.ReadAnyReplica = Bool(true)
	}
	return w
}

func firstOptions(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}
	}
	return opts[0]
}

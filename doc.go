// The [typedb] package is a driver for TypeDB clusters written in the Go way.
//
// # Connecting
//
// [Open] takes a [connection.Config] listing one or more server addresses. It asks the
// first reachable address for the members of the cluster, connects to every one of them
// and checks the credential. Servers learned about later are dialed on first use.
//
//	cfg := connection.NewConfig("10.0.0.1:1729", "10.0.0.2:1729")
//	cfg.WithCredential("admin", "password")
//	driver, err := typedb.Open(ctx, cfg)
//
// # Databases and replicas
//
// Every database is replicated across the cluster. Schema reads can be served by any
// replica, writes go to the primary. [Database] caches the replica set and follows the
// primary across elections: a newer term replaces the cached primary, an older one is
// ignored. When every replica fails the error is a [*ClusterError] listing each attempt.
//
// # Sessions and transactions
//
// A [Session] is opened on the primary replica of a database, or on any replica when
// [Options.ReadAnyReplica] is set. Transactions opened on the session share a single
// bidirectional stream per transaction: requests are batched and sent together, responses
// are matched to their request by ID and may complete in any order.
//
//	tx, err := session.Transaction(ctx, models.TransactionWrite)
//	inserted := tx.Query().Insert("insert $p isa person;")
//	answers, err := promise.Collect(ctx, inserted)
//	err = tx.Commit(ctx)
//
// Closing a session force-closes its transactions. Callbacks registered with OnClose run
// once, after the transition.
//
// # Scheduling
//
// Results are delivered as [promise.Promise] and [promise.Stream]. By default work runs
// eagerly on a bounded pool of goroutines; build with -tags cooperative to run everything
// lazily on the goroutine that awaits it.
package typedb

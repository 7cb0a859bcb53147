package typedb

import (
	"context"
	"fmt"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/promise"
)

// QueryManager issues queries on a transaction. Query text is sent as is.
//
// Each call returns immediately; the request is batched with the other
// requests of the transaction and its result is delivered through the
// returned promise or stream.
type QueryManager struct {
	tx *Transaction
}

func (q *QueryManager) Define(query string, opts ...Options) promise.Promise[struct{}] {
	return q.unit(connection.QueryDefine, query, opts)
}

func (q *QueryManager) Undefine(query string, opts ...Options) promise.Promise[struct{}] {
	return q.unit(connection.QueryUndefine, query, opts)
}

func (q *QueryManager) Delete(query string, opts ...Options) promise.Promise[struct{}] {
	return q.unit(connection.QueryDelete, query, opts)
}

// MatchAggregate resolves to the single aggregate answer. The answer is empty
// when the aggregate is undefined, e.g. the mean of no values.
func (q *QueryManager) MatchAggregate(query string, opts ...Options) promise.Promise[Answer] {
	return promise.Map(q.single(connection.QueryMatchAggregate, query, opts), func(res *connection.TransactionResponse) (Answer, error) {
		return Answer{raw: res.Result}, nil
	})
}

func (q *QueryManager) Match(query string, opts ...Options) promise.Stream[Answer] {
	return q.stream(connection.QueryMatch, query, opts)
}

func (q *QueryManager) MatchGroup(query string, opts ...Options) promise.Stream[Answer] {
	return q.stream(connection.QueryMatchGroup, query, opts)
}

func (q *QueryManager) MatchGroupAggregate(query string, opts ...Options) promise.Stream[Answer] {
	return q.stream(connection.QueryMatchGroupAggregate, query, opts)
}

func (q *QueryManager) Insert(query string, opts ...Options) promise.Stream[Answer] {
	return q.stream(connection.QueryInsert, query, opts)
}

func (q *QueryManager) Update(query string, opts ...Options) promise.Stream[Answer] {
	return q.stream(connection.QueryUpdate, query, opts)
}

func (q *QueryManager) request(kind connection.QueryKind, query string, opts []Options) *connection.TransactionRequest {
	o := q.tx.opts
	if len(opts) > 0 {
		o = opts[0]
	}
	return &connection.TransactionRequest{
		Kind: connection.TxQuery,
		Query: &connection.QueryRequest{
			Kind:    kind,
			Query:   query,
			Options: o.wire(),
		},
	}
}

func (q *QueryManager) single(kind connection.QueryKind, query string, opts []Options) promise.Promise[*connection.TransactionResponse] {
	if !q.tx.IsOpen() {
		return promise.Rejected[*connection.TransactionResponse](q.tx.closedError())
	}
	return withTimeout(q.tx.tr.Single(q.request(kind, query, opts)), q.tx.timeout)
}

func (q *QueryManager) unit(kind connection.QueryKind, query string, opts []Options) promise.Promise[struct{}] {
	return promise.Map(q.single(kind, query, opts), func(*connection.TransactionResponse) (struct{}, error) {
		return struct{}{}, nil
	})
}

func (q *QueryManager) stream(kind connection.QueryKind, query string, opts []Options) promise.Stream[Answer] {
	if !q.tx.IsOpen() {
		return promise.NewStream(func(ctx context.Context) (Answer, bool, error) {
			return Answer{}, false, q.tx.closedError()
		})
	}

	parts := withStreamTimeout(q.tx.tr.Stream(q.request(kind, query, opts)), q.tx.timeout)
	return promise.MapStream(parts, func(part *connection.TransactionResponsePart) (Answer, error) {
		if part.Result == nil {
			return Answer{}, fmt.Errorf("%w: response part for %s carries no answer", constants.ErrMissingResponseField, kind)
		}
		return Answer{raw: part.Result}, nil
	})
}

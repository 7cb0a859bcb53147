package benchmark_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	typedb "github.com/typedb/typedb-driver-go"
	"github.com/typedb/typedb-driver-go/internal/fakeserver"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/promise"
)

const address = "bench:1729"

func setupTransaction(b *testing.B) *typedb.Transaction {
	b.Helper()

	c := fakeserver.NewCluster(address)
	c.CreateDatabase("bench", address, 1)
	c.PartsPerBatch = 50
	c.Answers = func(connection.QueryKind, string) []any {
		answers := make([]any, 200)
		for i := range answers {
			answers[i] = i
		}
		return answers
	}

	cfg := connection.NewConfig(address)
	cfg.NewConnection = c.Factory()
	cfg.Logger = logger.Nop()
	cfg.PulseInterval = 0
	cfg.DispatchInterval = 100 * time.Microsecond

	ctx := context.Background()
	d, err := typedb.Open(ctx, cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = d.Close(ctx) })

	s, err := d.Session(ctx, "bench", models.SessionData)
	if err != nil {
		b.Fatal(err)
	}
	tx, err := s.Transaction(ctx, models.TransactionWrite)
	if err != nil {
		b.Fatal(err)
	}
	return tx
}

// BenchmarkPipelinedDefine issues queries in groups of 64 before waiting, so
// they share batches on the stream.
func BenchmarkPipelinedDefine(b *testing.B) {
	tx := setupTransaction(b)
	ctx := context.Background()
	pending := make([]promise.Promise[struct{}], 0, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pending = append(pending, tx.Query().Define(fmt.Sprintf("define t%d sub entity;", i)))
		if len(pending) == cap(pending) || i == b.N-1 {
			for _, p := range pending {
				if _, err := p.Resolve(ctx); err != nil {
					b.Fatal(err)
				}
			}
			pending = pending[:0]
		}
	}
}

// BenchmarkStreamedMatch drains a 200-answer stream per iteration.
func BenchmarkStreamedMatch(b *testing.B) {
	tx := setupTransaction(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		answers, err := promise.Collect(ctx, tx.Query().Match("match $x isa thing;"))
		if err != nil {
			b.Fatal(err)
		}
		if len(answers) != 200 {
			b.Fatalf("got %d answers", len(answers))
		}
	}
}

package rand

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

func TestNewIDUnique(t *testing.T) {
	const (
		goroutines = 8
		perG       = 2000
	)

	var (
		mu   sync.Mutex
		seen = make(map[models.ID]struct{}, goroutines*perG)
		wg   sync.WaitGroup
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]models.ID, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, NewRequestID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perG)
}

func TestNewIDNotZero(t *testing.T) {
	id := NewID()
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), len(models.IDPrefix)+2*models.IDLength)
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}

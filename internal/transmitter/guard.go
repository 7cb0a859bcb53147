package transmitter

import (
	"sync"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/logger"
)

// senderGuard owns the outbound half of a stream. Releasing it half-closes the
// stream exactly once; later releases do nothing.
type senderGuard struct {
	stream connection.Stream
	logger logger.Logger
	once   sync.Once
}

func (g *senderGuard) send(msg *connection.TransactionClient) error {
	return g.stream.Send(msg)
}

func (g *senderGuard) release() {
	g.once.Do(func() {
		if err := g.stream.CloseSend(); err != nil {
			g.logger.Debug("close send failed", "error", err.Error())
		}
	})
}

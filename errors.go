package typedb

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/models"
)

// ReplicaAttempt records why one replica failed an operation.
type ReplicaAttempt struct {
	Address models.Address
	Err     error
}

func (a *ReplicaAttempt) Error() string {
	return fmt.Sprintf("%s: %v", a.Address, a.Err)
}

func (a *ReplicaAttempt) Unwrap() error {
	return a.Err
}

// ClusterError is returned when every replica tried for one operation failed.
// errors.Is(err, constants.ErrAllReplicasFailed) holds for it, and so does
// errors.Is against the cause of any single attempt.
type ClusterError struct {
	Database string
	Attempts []*ReplicaAttempt
	err      error
}

func newClusterError(database string, attempts []*ReplicaAttempt) *ClusterError {
	var err error
	for _, a := range attempts {
		err = multierr.Append(err, a)
	}
	return &ClusterError{Database: database, Attempts: attempts, err: err}
}

func (e *ClusterError) Error() string {
	prefix := constants.ErrAllReplicasFailed.Error()
	if e.Database != "" {
		prefix = fmt.Sprintf("%s for database '%s'", prefix, e.Database)
	}
	if e.err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.err)
}

func (e *ClusterError) Is(target error) bool {
	return target == constants.ErrAllReplicasFailed || target == constants.ErrCluster
}

func (e *ClusterError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Addresses lists the replicas that were tried, in order.
func (e *ClusterError) Addresses() []models.Address {
	out := make([]models.Address, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Address
	}
	return out
}

// IsClusterError reports whether err is, or wraps, a *ClusterError.
func IsClusterError(err error) bool {
	var c *ClusterError
	return errors.As(err, &c)
}

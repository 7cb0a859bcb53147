package constants

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{ErrUnableToConnect, true},
		{fmt.Errorf("dial: %w", ErrTransport), true},
		{ErrReplicaNotPrimary, true},
		{ErrTimeout, false},
		{ErrInvalidCredential, false},
		{fmt.Errorf("%w %q: missing host", ErrInvalidAddress, ":1729"), false},
		{fmt.Errorf("%w: no certificates found", ErrTLSMaterial), false},
		{ErrDatabaseDoesNotExist, false},
	} {
		assert.Equal(t, tc.want, IsRetryable(tc.err), tc.err.Error())
	}
}

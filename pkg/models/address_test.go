package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typedb/typedb-driver-go/pkg/constants"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" localhost:1729 ")
	require.NoError(t, err)
	assert.Equal(t, Address("localhost:1729"), addr)

	addr, err = ParseAddress("[::1]:1729")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:1729", addr.String())

	for _, bad := range []string{"", "localhost", ":1729", "localhost:0", "localhost:abc", "localhost:70000"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, constants.ErrInvalidAddress, bad)
		assert.ErrorIs(t, err, constants.ErrTransport, bad)
	}
}

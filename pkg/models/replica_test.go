package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseInfoPrimary(t *testing.T) {
	info := DatabaseInfo{
		Name: "test",
		Replicas: []ReplicaInfo{
			{Address: "a:1729", Primary: true, Term: 3},
			{Address: "b:1729", Preferred: true, Term: 4},
			{Address: "c:1729", Primary: true, Term: 5},
		},
	}

	primary, ok := info.Primary()
	assert.True(t, ok)
	assert.Equal(t, Address("c:1729"), primary.Address)

	preferred, ok := info.Preferred()
	assert.True(t, ok)
	assert.Equal(t, Address("b:1729"), preferred.Address)

	_, ok = DatabaseInfo{Name: "empty"}.Primary()
	assert.False(t, ok)
}

func TestDatabaseInfoClone(t *testing.T) {
	info := DatabaseInfo{Name: "test", Replicas: []ReplicaInfo{{Address: "a:1729", Term: 1}}}

	clone := info.Clone()
	clone.Replicas[0].Term = 2

	assert.Equal(t, int64(1), info.Replicas[0].Term)
}

func TestKindsString(t *testing.T) {
	assert.Equal(t, "data", SessionData.String())
	assert.Equal(t, "schema", SessionSchema.String())
	assert.Equal(t, "write", TransactionWrite.String())
	assert.True(t, TransactionSchema.IsWrite())
	assert.False(t, TransactionRead.IsWrite())
}

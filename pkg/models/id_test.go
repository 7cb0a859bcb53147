package models

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDString(t *testing.T) {
	id := ID{0x01, 0xab}

	assert.Equal(t, "0x01ab0000000000000000000000000000", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, ID{}.IsZero())
}

func TestParseID(t *testing.T) {
	id := ID{0xde, 0xad, 0xbe, 0xef, 15: 0x42}

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	withoutPrefix, err := ParseID(id.String()[len(IDPrefix):])
	require.NoError(t, err)
	assert.Equal(t, id, withoutPrefix)

	_, err = ParseID("0x1234")
	assert.Error(t, err)

	_, err = ParseID("not-hex")
	assert.Error(t, err)
}

func TestIDCBOR(t *testing.T) {
	id := ID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	data, err := cbor.Marshal(id)
	require.NoError(t, err)

	var raw []byte
	require.NoError(t, cbor.Unmarshal(data, &raw))
	assert.Equal(t, id[:], raw)

	var decoded ID
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	short, err := cbor.Marshal([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Error(t, cbor.Unmarshal(short, &decoded))
}

func TestIDAsMapKey(t *testing.T) {
	a := ID{1}
	b := ID{1}
	c := ID{2}

	m := map[ID]string{a: "a"}
	assert.Equal(t, "a", m[b])
	_, ok := m[c]
	assert.False(t, ok)
}

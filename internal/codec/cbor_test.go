package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `cbor:"name"`
	Count int    `cbor:"count"`
}

func TestCBORRoundTrip(t *testing.T) {
	c := NewCBOR()

	data, err := c.Marshal(sample{Name: "a", Count: 3})
	require.NoError(t, err)

	var generic any
	require.NoError(t, c.Unmarshal(data, &generic))
	m, ok := generic.(map[string]any)
	require.True(t, ok, "maps must decode as map[string]any, got %T", generic)
	assert.Equal(t, "a", m["name"])
	assert.EqualValues(t, 3, m["count"])
}

func TestCBORStream(t *testing.T) {
	c := NewCBOR()

	var buf bytes.Buffer
	enc := c.NewEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Name: "x", Count: 1}))
	require.NoError(t, enc.Encode(sample{Name: "y", Count: 2}))

	dec := c.NewDecoder(&buf)
	var first, second sample
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "x", first.Name)
	assert.Equal(t, 2, second.Count)
}

package typedb

import (
	"github.com/fxamacker/cbor/v2"
)

// Answer is one query answer as sent by the server. The driver does not
// interpret it.
type Answer struct {
	raw cbor.RawMessage
}

// Decode unmarshals the answer into v.
func (a Answer) Decode(v any) error {
	return cbor.Unmarshal(a.raw, v)
}

// Raw returns the encoded answer.
func (a Answer) Raw() []byte {
	return a.raw
}

func (a Answer) IsEmpty() bool {
	return len(a.raw) == 0
}

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the wire codec used for every message exchanged with the server.
type CBOR struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

var mapStringAnyType = reflect.TypeOf(map[string]any(nil))

// NewCBOR returns the default codec.
//
// Maps decode to map[string]any so that generic payloads are usable
// without further conversion. Durations travel as integers.
func NewCBOR() *CBOR {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	dm, err := cbor.DecOptions{
		DefaultMapType: mapStringAnyType,
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return &CBOR{encMode: em, decMode: dm}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.encMode.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.encMode.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.decMode.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.decMode.NewDecoder(r)
}

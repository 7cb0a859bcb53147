package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// IDLength is the size of an ID in bytes.
const IDLength = 16

// IDPrefix is prepended to the hex form of an ID.
const IDPrefix = "0x"

// ID is an opaque 128-bit identifier used for sessions and requests.
//
// IDs are compared by their raw bytes, so they can be used as map keys.
// The zero ID is never produced by the generator and is treated as "unset".
//
// On the wire an ID is a 16-byte CBOR byte string.
type ID [IDLength]byte

// String returns the hex form of the ID, e.g. 0x0f3c...
func (id ID) String() string {
	return IDPrefix + hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns a copy of the raw bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, id[:])
	return b
}

// ParseID parses the hex form produced by String.
// The prefix is optional.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := hex.DecodeString(strings.TrimPrefix(s, IDPrefix))
	if err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}

	return IDFromBytes(raw)
}

// IDFromBytes copies b into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDLength {
		return id, fmt.Errorf("id must be exactly %d bytes, got %d", IDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MarshalCBOR implements cbor.Marshaler interface for ID
func (id ID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(id[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler interface for ID
func (id *ID) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := IDFromBytes(raw)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}

package rand

import (
	"github.com/google/uuid"

	"github.com/typedb/typedb-driver-go/pkg/models"
)

// NewID returns a fresh random identifier.
//
// The bytes come from crypto/rand. NewID panics only if the
// system entropy source is broken, which is unrecoverable anyway.
func NewID() models.ID {
	u, err := uuid.NewRandom()
	if err != nil {
		panic("rand: entropy source failure: " + err.Error())
	}
	return models.ID(u)
}

// NewRequestID returns a fresh identifier for one request.
// It is the same generator as NewID; request and session ids are never
// compared with each other.
func NewRequestID() models.ID {
	return NewID()
}

package models

import "fmt"

// SessionType is the kind of work a session is opened for.
type SessionType uint8

const (
	SessionData SessionType = iota
	SessionSchema
)

func (t SessionType) String() string {
	switch t {
	case SessionData:
		return "data"
	case SessionSchema:
		return "schema"
	default:
		return fmt.Sprintf("session_type(%d)", uint8(t))
	}
}

// TransactionType is the kind of work a transaction is opened for.
type TransactionType uint8

const (
	TransactionRead TransactionType = iota
	TransactionWrite
	TransactionSchema
)

func (t TransactionType) String() string {
	switch t {
	case TransactionRead:
		return "read"
	case TransactionWrite:
		return "write"
	case TransactionSchema:
		return "schema"
	default:
		return fmt.Sprintf("transaction_type(%d)", uint8(t))
	}
}

// IsWrite reports whether the transaction may modify the database.
func (t TransactionType) IsWrite() bool {
	return t != TransactionRead
}

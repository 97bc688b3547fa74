package database

import (
	"errors"

	"github.com/npezzotti/meeting-relay/internal/types"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicateID = errors.New("duplicate record id")
)

// RecordStore is the durable home of sessions and transcript entries.
//
// Reads never fail because the backing store is missing or corrupt: such a
// store reads as an empty collection. A returned error from a mutation means
// the mutation did not take effect.
type RecordStore interface {
	Ping() error
	Close() error

	CreateSession(params CreateSessionParams) (types.Session, error)
	GetSession(id string) (types.Session, error)
	ListSessions() ([]types.Session, error)
	UpdateSession(id string, update SessionUpdate) (types.Session, error)
	DeleteSession(id string) (bool, error)

	CreateTranscript(params CreateTranscriptParams) (types.TranscriptEntry, error)
	ListTranscripts() ([]types.TranscriptEntry, error)
	ListTranscriptsBySession(sessionId string) ([]types.TranscriptEntry, error)
	DeleteTranscript(id string) (bool, error)
	DeleteTranscriptsBySession(sessionId string) (int, error)
}

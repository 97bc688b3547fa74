// Package lookup resolves sessions by their own id or by the conferencing
// platform's meeting id. Lookups are not cached: every call re-reads the store.
package lookup

import (
	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
)

type Service struct {
	log   zerolog.Logger
	store database.RecordStore
}

func NewService(store database.RecordStore, logger zerolog.Logger) *Service {
	return &Service{log: logger, store: store}
}

// GetByID returns database.ErrNotFound when no session has the id.
func (s *Service) GetByID(id string) (types.Session, error) {
	return s.store.GetSession(id)
}

// GetByExternalMeetingID returns the first session, in insertion order, whose
// start payload carries meetingId as its meeting_uuid.
func (s *Service) GetByExternalMeetingID(meetingId string) (types.Session, error) {
	if meetingId == "" {
		return types.Session{}, database.ErrNotFound
	}

	sessions, err := s.store.ListSessions()
	if err != nil {
		return types.Session{}, err
	}

	for _, sess := range sessions {
		if uuid, ok := sess.MeetingUUID(); ok && uuid == meetingId {
			return sess, nil
		}
	}

	s.log.Debug().Str("meeting_uuid", meetingId).Msg("no session for meeting")
	return types.Session{}, database.ErrNotFound
}

package database

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/teris-io/shortid"
)

type CreateSessionParams struct {
	// Id is assigned from the clock when empty.
	Id               string
	ZoomRTMS         map[string]any
	AttendeeResponse map[string]any
	Status           types.SessionStatus
}

// SessionUpdate names the fields to change; nil fields are left untouched.
type SessionUpdate struct {
	ZoomRTMS         map[string]any
	AttendeeResponse map[string]any
	Status           *types.SessionStatus
}

type CreateTranscriptParams struct {
	// Id is assigned as <unix-ms>-<random> when empty.
	Id           string
	AppSessionId string
	Data         map[string]any
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// nextUpdatedAt returns now, bumped past prev when the clock has not moved.
func nextUpdatedAt(prev *time.Time, now time.Time) time.Time {
	if prev != nil && !now.After(*prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func applySessionUpdate(s types.Session, u SessionUpdate, now time.Time) types.Session {
	if u.ZoomRTMS != nil {
		s.ZoomRTMS = u.ZoomRTMS
	}
	if u.AttendeeResponse != nil {
		s.AttendeeResponse = u.AttendeeResponse
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	prev := s.UpdatedAt
	if prev == nil {
		prev = &s.CreatedAt
	}
	updated := nextUpdatedAt(prev, now)
	s.UpdatedAt = &updated
	return s
}

// idGenerator hands out millisecond timestamp ids that never repeat within
// the process, even under bursts inside a single millisecond.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) sessionId(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return strconv.FormatInt(ms, 10)
}

func transcriptId(now time.Time) (string, error) {
	suffix, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate transcript id: %w", err)
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix), nil
}

func newSession(params CreateSessionParams, ids *idGenerator, now time.Time) types.Session {
	id := params.Id
	if id == "" {
		id = ids.sessionId(now)
	}
	return types.Session{
		Id:               id,
		CreatedAt:        now,
		ZoomRTMS:         params.ZoomRTMS,
		AttendeeResponse: params.AttendeeResponse,
		Status:           params.Status,
	}
}

func newTranscript(params CreateTranscriptParams, now time.Time) (types.TranscriptEntry, error) {
	id := params.Id
	if id == "" {
		var err error
		if id, err = transcriptId(now); err != nil {
			return types.TranscriptEntry{}, err
		}
	}
	return types.TranscriptEntry{
		Id:           id,
		CreatedAt:    now,
		AppSessionId: params.AppSessionId,
		Data:         params.Data,
	}, nil
}

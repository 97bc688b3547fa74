package types

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusStarted SessionStatus = "started"
	SessionStatusStopped SessionStatus = "stopped"
)

// Session correlates one conferencing meeting with the recording platform's
// app session. ZoomRTMS holds the payload of the session-start event and
// AttendeeResponse the body returned when the session was registered.
type Session struct {
	Id               string         `json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	ZoomRTMS         map[string]any `json:"zoom_rtms,omitempty"`
	AttendeeResponse map[string]any `json:"attendee_response,omitempty"`
	Status           SessionStatus  `json:"status,omitempty"`
}

// MeetingUUID returns the meeting identifier embedded in the session-start
// payload, if any.
func (s Session) MeetingUUID() (string, bool) {
	if s.ZoomRTMS == nil {
		return "", false
	}
	id, ok := s.ZoomRTMS["meeting_uuid"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

type TranscriptEntry struct {
	Id           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	AppSessionId string         `json:"app_session_id"`
	Data         map[string]any `json:"data,omitempty"`
}

// Speaker returns the attributed speaker name, or "Unknown".
func (t TranscriptEntry) Speaker() string {
	if name, ok := t.Data["speaker_name"].(string); ok && name != "" {
		return name
	}
	return "Unknown"
}

// Text returns the transcribed fragment. The recording platform nests it
// under transcription.transcript; older payloads carry it at the top level.
func (t TranscriptEntry) Text() string {
	if tr, ok := t.Data["transcription"].(map[string]any); ok {
		if text, ok := tr["transcript"].(string); ok && text != "" {
			return text
		}
	}
	if text, ok := t.Data["transcript"].(string); ok {
		return text
	}
	return ""
}

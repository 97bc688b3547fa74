package types

const (
	SourceZoom     = "zoom"
	SourceAttendee = "attendee"

	ZoomEventURLValidation = "endpoint.url_validation"
	ZoomEventRTMSStarted   = "meeting.rtms_started"
	ZoomEventRTMSStopped   = "meeting.rtms_stopped"

	AttendeeTriggerTranscriptUpdate = "transcript.update"
)

// ZoomEvent is the conferencing platform's webhook envelope.
type ZoomEvent struct {
	Event   string         `json:"event" validate:"required"`
	Payload map[string]any `json:"payload" validate:"required"`
}

// PlainToken returns the nonce of a URL validation challenge.
func (e ZoomEvent) PlainToken() string {
	token, _ := e.Payload["plainToken"].(string)
	return token
}

// AttendeeEvent is the recording platform's webhook envelope.
type AttendeeEvent struct {
	Trigger      string         `json:"trigger"`
	Data         map[string]any `json:"data"`
	AppSessionId string         `json:"app_session_id"`
}

type ValidationResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// ZoomMessage is broadcast for every conferencing event except the URL
// validation handshake.
type ZoomMessage struct {
	Source  string         `json:"source"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// AttendeeMessage is broadcast for every recording platform event. MeetingId
// is null when the app session could not be resolved.
type AttendeeMessage struct {
	Source       string         `json:"source"`
	Trigger      string         `json:"trigger"`
	Data         map[string]any `json:"data"`
	AppSessionId string         `json:"app_session_id,omitempty"`
	MeetingId    *string        `json:"meeting_id"`
}

func NewZoomMessage(ev ZoomEvent) *ZoomMessage {
	return &ZoomMessage{
		Source:  SourceZoom,
		Event:   ev.Event,
		Payload: ev.Payload,
	}
}

func NewAttendeeMessage(ev AttendeeEvent, meetingId *string) *AttendeeMessage {
	return &AttendeeMessage{
		Source:       SourceAttendee,
		Trigger:      ev.Trigger,
		Data:         ev.Data,
		AppSessionId: ev.AppSessionId,
		MeetingId:    meetingId,
	}
}

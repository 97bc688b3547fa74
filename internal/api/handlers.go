package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/meeting-relay/internal/chat"
	"github.com/npezzotti/meeting-relay/internal/correlator"
	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/hub"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog/hlog"
)

type chatChunk struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type deleteSessionResponse struct {
	Id                 string `json:"id"`
	DeletedTranscripts int    `json:"deleted_transcripts"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *RelayApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

// readObject reads a JSON object body into v. Anything other than an object
// is rejected.
func readObject(r *http.Request, w http.ResponseWriter, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return errors.New("body is not a JSON object")
	}
	return json.Unmarshal(raw, v)
}

func (s *RelayApp) zoomWebhook(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var ev types.ZoomEvent
	if err := readObject(r, w, &ev); err != nil {
		log.Warn().Err(err).Msg("invalid zoom webhook body")
		s.writeError(w, NewBadRequestError())
		return
	}
	if err := s.validate.Struct(ev); err != nil {
		log.Warn().Err(err).Msg("zoom webhook missing payload or event")
		s.writeError(w, NewValidationError("missing payload or event"))
		return
	}

	log.Info().Str("event", ev.Event).Msg("received zoom webhook")

	resp, err := s.correlator.HandleZoomEvent(r.Context(), ev)
	switch {
	case errors.Is(err, correlator.ErrMissingPlainToken):
		s.writeError(w, NewValidationError("invalid validation request"))
		return
	case errors.Is(err, correlator.ErrNotConfigured):
		s.writeError(w, NewNotConfiguredError(err))
		return
	case err != nil:
		// Already accepted; the sender retries on anything but 200.
		log.Error().Err(err).Str("event", ev.Event).Msg("error handling zoom webhook")
	}

	if resp != nil {
		s.writeJson(w, http.StatusOK, resp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *RelayApp) attendeeWebhook(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var ev types.AttendeeEvent
	if err := readObject(r, w, &ev); err != nil {
		log.Warn().Err(err).Msg("invalid attendee webhook body")
		s.writeError(w, NewValidationError("invalid JSON"))
		return
	}

	log.Info().Str("trigger", ev.Trigger).Str("app_session_id", ev.AppSessionId).Msg("received attendee webhook")

	if err := s.correlator.HandleAttendeeEvent(r.Context(), ev); err != nil {
		log.Error().Err(err).Msg("error handling attendee webhook")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *RelayApp) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.NewSSEConn(w)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to open event stream")
		return
	}

	sub := s.hub.Subscribe(conn)
	defer s.hub.Unsubscribe(sub)

	select {
	case <-r.Context().Done():
	case <-sub.Done():
	}
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	if len(s.allowedOrigins) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := hub.NewWSConn(ws, s.log)
	sub := s.hub.Subscribe(conn)
	defer s.hub.Unsubscribe(sub)

	conn.ReadPump()
}

func (s *RelayApp) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessions()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, sessions)
}

func (s *RelayApp) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetByID(r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, NewNotFoundError())
		return
	}
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, sess)
}

func (s *RelayApp) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.correlator.TearDownSession(id)
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, NewNotFoundError())
		return
	}
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, deleteSessionResponse{Id: id, DeletedTranscripts: n})
}

func (s *RelayApp) sessionChild(w http.ResponseWriter, r *http.Request) {
	id, child := r.PathValue("id"), r.PathValue("child")
	switch {
	case id == "by-meeting":
		s.getSessionByMeeting(w, r, child)
	case child == "transcripts":
		s.listSessionTranscripts(w, r, id)
	default:
		s.writeError(w, NewNotFoundError())
	}
}

func (s *RelayApp) getSessionByMeeting(w http.ResponseWriter, r *http.Request, meetingId string) {
	hlog.FromRequest(r).Debug().Str("meeting_uuid", meetingId).Msg("finding session by meeting id")

	sess, err := s.sessions.GetByExternalMeetingID(meetingId)
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, NewNotFoundError())
		return
	}
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, sess)
}

func (s *RelayApp) listSessionTranscripts(w http.ResponseWriter, r *http.Request, id string) {
	transcripts, err := s.db.ListTranscriptsBySession(id)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, transcripts)
}

func (s *RelayApp) listTranscripts(w http.ResponseWriter, r *http.Request) {
	transcripts, err := s.db.ListTranscripts()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	s.writeJson(w, http.StatusOK, transcripts)
}

// chatCompletion streams the answer as server-sent events of
// {"content": ...} ending with [DONE]. Failures before the first chunk are
// plain JSON errors; later ones become an error event.
func (s *RelayApp) chatCompletion(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if !s.chat.Configured() {
		s.writeError(w, NewNotConfiguredError(chat.ErrNotConfigured))
		return
	}

	var req chat.Request
	if err := readObject(r, w, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewValidationError("message is required"))
		return
	}

	var conn *hub.SSEConn
	open := func() error {
		if conn != nil {
			return nil
		}
		var err error
		conn, err = hub.NewSSEConn(w)
		return err
	}
	send := func(c chatChunk) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return conn.WriteMessage(data)
	}

	err := s.chat.Stream(r.Context(), req, func(content string) error {
		if err := open(); err != nil {
			return err
		}
		return send(chatChunk{Content: content})
	})
	if err != nil {
		log.Error().Err(err).Msg("chat completion failed")
		if conn == nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		send(chatChunk{Error: "Stream error"})
		return
	}

	if err := open(); err != nil {
		return
	}
	conn.WriteMessage([]byte("[DONE]"))
}

func (s *RelayApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
		s.writeError(w, NewInternalServerError(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

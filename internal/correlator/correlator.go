// Package correlator turns webhook events from the conferencing and
// recording platforms into broadcasts and session records.
package correlator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/lookup"
	"github.com/npezzotti/meeting-relay/internal/stats"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
)

const defaultRegisterTimeout = 15 * time.Second

var (
	ErrNotConfigured     = errors.New("correlator not configured")
	ErrMissingPlainToken = errors.New("validation request missing plainToken")
)

// Publisher fans a message out to live viewers.
type Publisher interface {
	Publish(msg any)
}

// Registrar creates the recording platform's app session for a meeting.
type Registrar interface {
	RegisterSession(ctx context.Context, zoomRTMS map[string]any) (map[string]any, error)
}

type Config struct {
	WebhookSecret string
	// PersistTranscripts stores transcript.update events as transcript
	// entries in addition to broadcasting them.
	PersistTranscripts bool
	RegisterTimeout    time.Duration
}

type Correlator struct {
	log                zerolog.Logger
	stats              stats.StatsProvider
	secret             []byte
	persistTranscripts bool
	registerTimeout    time.Duration

	hub       Publisher
	store     database.RecordStore
	sessions  *lookup.Service
	registrar Registrar
}

// New returns ErrNotConfigured when the webhook secret is empty, since the
// validation handshake can never succeed without it. A nil registrar is
// accepted; session-start events then fail with ErrNotConfigured.
func New(cfg Config, hub Publisher, store database.RecordStore, registrar Registrar, logger zerolog.Logger, sp stats.StatsProvider) (*Correlator, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: missing webhook secret", ErrNotConfigured)
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = defaultRegisterTimeout
	}
	if sp == nil {
		sp = stats.NoopStats{}
	}
	sp.RegisterMetric(stats.WebhooksReceived)
	sp.RegisterMetric(stats.SessionsCreated)

	return &Correlator{
		log:                logger,
		stats:              sp,
		secret:             []byte(cfg.WebhookSecret),
		persistTranscripts: cfg.PersistTranscripts,
		registerTimeout:    cfg.RegisterTimeout,
		hub:                hub,
		store:              store,
		sessions:           lookup.NewService(store, logger),
		registrar:          registrar,
	}, nil
}

// Sessions exposes the lookup service backing attendee correlation.
func (c *Correlator) Sessions() *lookup.Service {
	return c.sessions
}

// SignToken returns the hex HMAC-SHA256 of token under the webhook secret.
func (c *Correlator) SignToken(token string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleZoomEvent processes a conferencing platform webhook. Only the URL
// validation handshake produces a response body; it is neither broadcast nor
// recorded. Every other event is broadcast before anything else happens.
func (c *Correlator) HandleZoomEvent(ctx context.Context, ev types.ZoomEvent) (*types.ValidationResponse, error) {
	c.stats.Incr(stats.WebhooksReceived)
	log := c.log.With().Str("event", ev.Event).Logger()

	if ev.Event == types.ZoomEventURLValidation {
		token := ev.PlainToken()
		if token == "" {
			log.Warn().Msg("validation request without plainToken")
			return nil, ErrMissingPlainToken
		}
		log.Info().Msg("responding to url validation")
		return &types.ValidationResponse{
			PlainToken:     token,
			EncryptedToken: c.SignToken(token),
		}, nil
	}

	c.hub.Publish(types.NewZoomMessage(ev))

	switch ev.Event {
	case types.ZoomEventRTMSStarted:
		return nil, c.startSession(ctx, ev.Payload)
	case types.ZoomEventRTMSStopped:
		c.stopSession(ev.Payload)
	}
	return nil, nil
}

// startSession registers the meeting with the recording platform and records
// the session. Registration is attempted once; on failure nothing is stored.
func (c *Correlator) startSession(ctx context.Context, payload map[string]any) error {
	if c.registrar == nil {
		c.log.Error().Msg("session start received but recording platform is not configured")
		return fmt.Errorf("%w: no recording platform client", ErrNotConfigured)
	}

	// The webhook caller hanging up must not abort registration.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.registerTimeout)
	defer cancel()

	resp, err := c.registrar.RegisterSession(ctx, payload)
	if err != nil {
		c.log.Error().Err(err).Msg("app session registration failed")
		return nil
	}

	id := responseID(resp)
	if id == "" {
		c.log.Error().Interface("response", resp).Msg("app session response carries no id")
		return nil
	}

	sess, err := c.store.CreateSession(database.CreateSessionParams{
		Id:               id,
		ZoomRTMS:         payload,
		AttendeeResponse: resp,
		Status:           types.SessionStatusStarted,
	})
	if err != nil {
		c.log.Error().Err(err).Str("session_id", id).Msg("failed to save session")
		return nil
	}

	c.stats.Incr(stats.SessionsCreated)
	c.log.Info().Str("session_id", sess.Id).Msg("saved app session")
	return nil
}

// stopSession marks the session of a finished meeting as stopped. Meetings
// that never produced a session are ignored.
func (c *Correlator) stopSession(payload map[string]any) {
	meetingId, _ := payload["meeting_uuid"].(string)
	if meetingId == "" {
		return
	}

	sess, err := c.sessions.GetByExternalMeetingID(meetingId)
	if err != nil {
		c.log.Debug().Str("meeting_uuid", meetingId).Msg("no session to stop")
		return
	}

	stopped := types.SessionStatusStopped
	if _, err := c.store.UpdateSession(sess.Id, database.SessionUpdate{Status: &stopped}); err != nil {
		c.log.Error().Err(err).Str("session_id", sess.Id).Msg("failed to mark session stopped")
		return
	}
	c.log.Info().Str("session_id", sess.Id).Msg("session stopped")
}

func responseID(resp map[string]any) string {
	switch id := resp["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// HandleAttendeeEvent broadcasts a recording platform webhook tagged with the
// meeting it belongs to. An unknown app session leaves meeting_id null.
func (c *Correlator) HandleAttendeeEvent(ctx context.Context, ev types.AttendeeEvent) error {
	c.stats.Incr(stats.WebhooksReceived)

	var meetingId *string
	if ev.AppSessionId != "" {
		if sess, err := c.sessions.GetByID(ev.AppSessionId); err == nil {
			if uuid, ok := sess.MeetingUUID(); ok {
				meetingId = &uuid
			}
		} else if !errors.Is(err, database.ErrNotFound) {
			c.log.Warn().Err(err).Str("app_session_id", ev.AppSessionId).Msg("session lookup failed")
		}
	}

	c.hub.Publish(types.NewAttendeeMessage(ev, meetingId))

	if c.persistTranscripts && ev.Trigger == types.AttendeeTriggerTranscriptUpdate && ev.AppSessionId != "" {
		if _, err := c.store.CreateTranscript(database.CreateTranscriptParams{
			AppSessionId: ev.AppSessionId,
			Data:         ev.Data,
		}); err != nil {
			c.log.Error().Err(err).Str("app_session_id", ev.AppSessionId).Msg("failed to save transcript")
		}
	}
	return nil
}

// TearDownSession deletes a session together with its transcript entries and
// reports how many entries went with it.
func (c *Correlator) TearDownSession(id string) (int, error) {
	if _, err := c.store.GetSession(id); err != nil {
		return 0, err
	}

	n, err := c.store.DeleteTranscriptsBySession(id)
	if err != nil {
		return 0, fmt.Errorf("delete transcripts: %w", err)
	}

	deleted, err := c.store.DeleteSession(id)
	if err != nil {
		return n, fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return n, database.ErrNotFound
	}

	c.log.Info().Str("session_id", id).Int("transcripts", n).Msg("session torn down")
	return n, nil
}

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ,
	zoom_rtms JSONB,
	attendee_response JSONB,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	app_session_id TEXT NOT NULL,
	data JSONB
);
CREATE INDEX IF NOT EXISTS transcripts_app_session_id_idx ON transcripts (app_session_id);
`

const (
	sessionColumns    = "id, created_at, updated_at, zoom_rtms, attendee_response, status"
	transcriptColumns = "id, created_at, app_session_id, data"
)

type PgRecordStore struct {
	log  zerolog.Logger
	conn *sql.DB
	ids  idGenerator
	now  func() time.Time
}

func NewPgRecordStore(dsn string, logger zerolog.Logger) (*PgRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PgRecordStore{log: logger, conn: db, now: Now}, nil
}

func (db *PgRecordStore) Ping() error {
	return db.conn.Ping()
}

func (db *PgRecordStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// jsonParam encodes a map for a $n::jsonb placeholder; nil stays SQL NULL.
func jsonParam(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSONColumn(raw []byte) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (types.Session, error) {
	var (
		s          types.Session
		updatedAt  sql.NullTime
		zoomRaw    []byte
		attendeeRw []byte
		status     string
	)
	if err := row.Scan(&s.Id, &s.CreatedAt, &updatedAt, &zoomRaw, &attendeeRw, &status); err != nil {
		return s, err
	}

	s.CreatedAt = s.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		s.UpdatedAt = &t
	}
	s.Status = types.SessionStatus(status)

	var err error
	if s.ZoomRTMS, err = decodeJSONColumn(zoomRaw); err != nil {
		return s, fmt.Errorf("decode zoom_rtms: %w", err)
	}
	if s.AttendeeResponse, err = decodeJSONColumn(attendeeRw); err != nil {
		return s, fmt.Errorf("decode attendee_response: %w", err)
	}
	return s, nil
}

func scanTranscript(row rowScanner) (types.TranscriptEntry, error) {
	var (
		t   types.TranscriptEntry
		raw []byte
	)
	if err := row.Scan(&t.Id, &t.CreatedAt, &t.AppSessionId, &raw); err != nil {
		return t, err
	}
	t.CreatedAt = t.CreatedAt.UTC()

	var err error
	if t.Data, err = decodeJSONColumn(raw); err != nil {
		return t, fmt.Errorf("decode data: %w", err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (db *PgRecordStore) CreateSession(params CreateSessionParams) (types.Session, error) {
	s := newSession(params, &db.ids, db.now())

	zoom, err := jsonParam(s.ZoomRTMS)
	if err != nil {
		return types.Session{}, fmt.Errorf("encode zoom_rtms: %w", err)
	}
	attendee, err := jsonParam(s.AttendeeResponse)
	if err != nil {
		return types.Session{}, fmt.Errorf("encode attendee_response: %w", err)
	}

	_, err = db.conn.Exec(
		"INSERT INTO sessions (id, created_at, zoom_rtms, attendee_response, status) "+
			"VALUES ($1, $2, $3::jsonb, $4::jsonb, $5)",
		s.Id,
		s.CreatedAt,
		zoom,
		attendee,
		string(s.Status),
	)
	if isUniqueViolation(err) {
		return types.Session{}, fmt.Errorf("session %q: %w", s.Id, ErrDuplicateID)
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (db *PgRecordStore) GetSession(id string) (types.Session, error) {
	row := db.conn.QueryRow(
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1 LIMIT 1",
		id,
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Session{}, ErrNotFound
	}
	if err != nil {
		db.log.Error().Err(err).Str("session_id", id).Msg("get session")
		return types.Session{}, ErrNotFound
	}
	return s, nil
}

func (db *PgRecordStore) ListSessions() ([]types.Session, error) {
	rows, err := db.conn.Query("SELECT " + sessionColumns + " FROM sessions ORDER BY seq")
	if err != nil {
		db.log.Error().Err(err).Msg("list sessions")
		return []types.Session{}, nil
	}
	defer rows.Close()

	out := []types.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			db.log.Error().Err(err).Msg("scan session")
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		db.log.Error().Err(err).Msg("iterate sessions")
	}
	return out, nil
}

func (db *PgRecordStore) UpdateSession(id string, update SessionUpdate) (types.Session, error) {
	zoom, err := jsonParam(update.ZoomRTMS)
	if err != nil {
		return types.Session{}, fmt.Errorf("encode zoom_rtms: %w", err)
	}
	attendee, err := jsonParam(update.AttendeeResponse)
	if err != nil {
		return types.Session{}, fmt.Errorf("encode attendee_response: %w", err)
	}
	var status any
	if update.Status != nil {
		status = string(*update.Status)
	}

	row := db.conn.QueryRow(
		"UPDATE sessions SET "+
			"zoom_rtms = COALESCE($2::jsonb, zoom_rtms), "+
			"attendee_response = COALESCE($3::jsonb, attendee_response), "+
			"status = COALESCE($4, status), "+
			"updated_at = GREATEST($5, COALESCE(updated_at, created_at) + interval '1 millisecond') "+
			"WHERE id = $1 RETURNING "+sessionColumns,
		id,
		zoom,
		attendee,
		status,
		db.now(),
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Session{}, ErrNotFound
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("update session: %w", err)
	}
	return s, nil
}

func (db *PgRecordStore) DeleteSession(id string) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *PgRecordStore) CreateTranscript(params CreateTranscriptParams) (types.TranscriptEntry, error) {
	entry, err := newTranscript(params, db.now())
	if err != nil {
		return types.TranscriptEntry{}, err
	}
	data, err := jsonParam(entry.Data)
	if err != nil {
		return types.TranscriptEntry{}, fmt.Errorf("encode data: %w", err)
	}

	_, err = db.conn.Exec(
		"INSERT INTO transcripts (id, created_at, app_session_id, data) VALUES ($1, $2, $3, $4::jsonb)",
		entry.Id,
		entry.CreatedAt,
		entry.AppSessionId,
		data,
	)
	if isUniqueViolation(err) {
		return types.TranscriptEntry{}, fmt.Errorf("transcript %q: %w", entry.Id, ErrDuplicateID)
	}
	if err != nil {
		return types.TranscriptEntry{}, fmt.Errorf("insert transcript: %w", err)
	}
	return entry, nil
}

func (db *PgRecordStore) queryTranscripts(query string, args ...any) []types.TranscriptEntry {
	out := []types.TranscriptEntry{}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		db.log.Error().Err(err).Msg("query transcripts")
		return out
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			db.log.Error().Err(err).Msg("scan transcript")
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		db.log.Error().Err(err).Msg("iterate transcripts")
	}
	return out
}

func (db *PgRecordStore) ListTranscripts() ([]types.TranscriptEntry, error) {
	return db.queryTranscripts("SELECT " + transcriptColumns + " FROM transcripts ORDER BY seq"), nil
}

func (db *PgRecordStore) ListTranscriptsBySession(sessionId string) ([]types.TranscriptEntry, error) {
	return db.queryTranscripts(
		"SELECT "+transcriptColumns+" FROM transcripts WHERE app_session_id = $1 ORDER BY seq",
		sessionId,
	), nil
}

func (db *PgRecordStore) DeleteTranscript(id string) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM transcripts WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *PgRecordStore) DeleteTranscriptsBySession(sessionId string) (int, error) {
	res, err := db.conn.Exec("DELETE FROM transcripts WHERE app_session_id = $1", sessionId)
	if err != nil {
		return 0, fmt.Errorf("delete transcripts by session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

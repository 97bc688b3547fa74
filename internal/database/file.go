package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
)

const (
	sessionsFile    = "sessions.json"
	transcriptsFile = "transcripts.json"
)

// FileStore keeps each collection as a single JSON snapshot that is read in
// full and rewritten in full on every mutation. A crash in the middle of a
// write can leave a truncated snapshot behind; it then reads as empty.
type FileStore struct {
	log             zerolog.Logger
	sessionsPath    string
	transcriptsPath string
	mu              sync.Mutex
	ids             idGenerator
	now             func() time.Time
}

func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fs := &FileStore{
		log:             logger,
		sessionsPath:    filepath.Join(dir, sessionsFile),
		transcriptsPath: filepath.Join(dir, transcriptsFile),
		now:             Now,
	}

	for _, p := range []string{fs.sessionsPath, fs.transcriptsPath} {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			if err := writeSnapshot(p, []struct{}{}); err != nil {
				return nil, fmt.Errorf("init %s: %w", p, err)
			}
		}
	}

	return fs, nil
}

// readSnapshot returns the collection stored at path, or an empty one when
// the file is missing or unreadable.
func readSnapshot[T any](log zerolog.Logger, path string) []T {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("read snapshot")
		return []T{}
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Error().Err(err).Str("path", path).Msg("decode snapshot")
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func writeSnapshot[T any](path string, items []T) error {
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// persist writes the collection and logs on failure; the caller reports the
// mutation as not applied.
func persist[T any](fs *FileStore, path string, items []T) error {
	if err := writeSnapshot(path, items); err != nil {
		fs.log.Error().Err(err).Str("path", path).Msg("write snapshot")
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (fs *FileStore) sessions() []types.Session {
	return readSnapshot[types.Session](fs.log, fs.sessionsPath)
}

func (fs *FileStore) transcripts() []types.TranscriptEntry {
	return readSnapshot[types.TranscriptEntry](fs.log, fs.transcriptsPath)
}

func (fs *FileStore) Ping() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, p := range []string{fs.sessionsPath, fs.transcriptsPath} {
		if _, err := os.Stat(p); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) CreateSession(params CreateSessionParams) (types.Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.sessions()
	s := newSession(params, &fs.ids, fs.now())
	if slices.ContainsFunc(all, func(e types.Session) bool { return e.Id == s.Id }) {
		return types.Session{}, fmt.Errorf("session %q: %w", s.Id, ErrDuplicateID)
	}

	all = append(all, s)
	if err := persist(fs, fs.sessionsPath, all); err != nil {
		return types.Session{}, err
	}
	return s, nil
}

func (fs *FileStore) GetSession(id string) (types.Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.sessions()
	if i := slices.IndexFunc(all, func(s types.Session) bool { return s.Id == id }); i >= 0 {
		return all[i], nil
	}
	return types.Session{}, ErrNotFound
}

func (fs *FileStore) ListSessions() ([]types.Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sessions(), nil
}

func (fs *FileStore) UpdateSession(id string, update SessionUpdate) (types.Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.sessions()
	i := slices.IndexFunc(all, func(s types.Session) bool { return s.Id == id })
	if i < 0 {
		return types.Session{}, ErrNotFound
	}

	all[i] = applySessionUpdate(all[i], update, fs.now())
	if err := persist(fs, fs.sessionsPath, all); err != nil {
		return types.Session{}, err
	}
	return all[i], nil
}

func (fs *FileStore) DeleteSession(id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.sessions()
	filtered := slices.DeleteFunc(slices.Clone(all), func(s types.Session) bool { return s.Id == id })
	if len(filtered) == len(all) {
		return false, nil
	}
	if err := persist(fs, fs.sessionsPath, filtered); err != nil {
		return false, err
	}
	return true, nil
}

func (fs *FileStore) CreateTranscript(params CreateTranscriptParams) (types.TranscriptEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry, err := newTranscript(params, fs.now())
	if err != nil {
		return types.TranscriptEntry{}, err
	}

	all := append(fs.transcripts(), entry)
	if err := persist(fs, fs.transcriptsPath, all); err != nil {
		return types.TranscriptEntry{}, err
	}
	return entry, nil
}

func (fs *FileStore) ListTranscripts() ([]types.TranscriptEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.transcripts(), nil
}

func (fs *FileStore) ListTranscriptsBySession(sessionId string) ([]types.TranscriptEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := []types.TranscriptEntry{}
	for _, t := range fs.transcripts() {
		if t.AppSessionId == sessionId {
			out = append(out, t)
		}
	}
	return out, nil
}

func (fs *FileStore) DeleteTranscript(id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.transcripts()
	filtered := slices.DeleteFunc(slices.Clone(all), func(t types.TranscriptEntry) bool { return t.Id == id })
	if len(filtered) == len(all) {
		return false, nil
	}
	if err := persist(fs, fs.transcriptsPath, filtered); err != nil {
		return false, err
	}
	return true, nil
}

func (fs *FileStore) DeleteTranscriptsBySession(sessionId string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.transcripts()
	filtered := slices.DeleteFunc(slices.Clone(all), func(t types.TranscriptEntry) bool { return t.AppSessionId == sessionId })
	deleted := len(all) - len(filtered)
	if deleted == 0 {
		return 0, nil
	}
	if err := persist(fs, fs.transcriptsPath, filtered); err != nil {
		return 0, err
	}
	return deleted, nil
}

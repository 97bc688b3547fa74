package database

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
)

// Key prefixes for BadgerDB storage
const (
	sessionKeyPrefix           = "session:"
	transcriptKeyPrefix        = "transcript:"
	sessionTranscriptKeyPrefix = "session_transcript:"
	insertSeqKey               = "seq:insert"
)

// badgerRecord wraps a stored value with its insertion sequence so listings
// come back in insertion order.
type badgerRecord[T any] struct {
	Seq  uint64 `json:"seq"`
	Item T      `json:"item"`
}

// BadgerStore implements RecordStore on top of a transactional key-value
// store. Every mutation is a single badger transaction.
type BadgerStore struct {
	log zerolog.Logger
	db  *badger.DB
	seq *badger.Sequence
	// mu serializes read-modify-write mutations so they never conflict.
	mu  sync.Mutex
	ids idGenerator
	now func() time.Time
}

func OpenBadgerStore(opts badger.Options, logger zerolog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(insertSeqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}

	return &BadgerStore{
		log: logger,
		db:  db,
		seq: seq,
		now: Now,
	}, nil
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func transcriptKey(id string) []byte {
	return []byte(transcriptKeyPrefix + id)
}

// sessionTranscriptPrefix length-prefixes the session id so that no session's
// prefix is a prefix of another's ("a" vs "a:b").
func sessionTranscriptPrefix(sessionId string) []byte {
	return []byte(sessionTranscriptKeyPrefix + strconv.Itoa(len(sessionId)) + ":" + sessionId + ":")
}

func sessionTranscriptKey(sessionId, transcriptId string) []byte {
	return append(sessionTranscriptPrefix(sessionId), transcriptId...)
}

func (bs *BadgerStore) Ping() error {
	if bs.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func (bs *BadgerStore) Close() error {
	if err := bs.seq.Release(); err != nil {
		bs.log.Error().Err(err).Msg("release badger sequence")
	}
	return bs.db.Close()
}

func getRecord[T any](txn *badger.Txn, key []byte) (badgerRecord[T], error) {
	var rec badgerRecord[T]
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func setRecord[T any](txn *badger.Txn, key []byte, rec badgerRecord[T]) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(key, data)
}

// scanRecords decodes every value under prefix, skipping (and logging)
// entries that fail to decode, and returns them in insertion order.
func scanRecords[T any](bs *BadgerStore, prefix string) []T {
	var recs []badgerRecord[T]
	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var rec badgerRecord[T]
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				bs.log.Error().Err(err).Str("key", string(it.Item().Key())).Msg("decode record")
				continue
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		bs.log.Error().Err(err).Str("prefix", prefix).Msg("scan records")
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.Item
	}
	return out
}

func (bs *BadgerStore) CreateSession(params CreateSessionParams) (types.Session, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s := newSession(params, &bs.ids, bs.now())
	n, err := bs.seq.Next()
	if err != nil {
		return types.Session{}, fmt.Errorf("next sequence: %w", err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(s.Id)); err == nil {
			return fmt.Errorf("session %q: %w", s.Id, ErrDuplicateID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setRecord(txn, sessionKey(s.Id), badgerRecord[types.Session]{Seq: n, Item: s})
	})
	if err != nil {
		return types.Session{}, err
	}
	return s, nil
}

func (bs *BadgerStore) GetSession(id string) (types.Session, error) {
	var rec badgerRecord[types.Session]
	err := bs.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord[types.Session](txn, sessionKey(id))
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return types.Session{}, ErrNotFound
	}
	if err != nil {
		bs.log.Error().Err(err).Str("session_id", id).Msg("get session")
		return types.Session{}, ErrNotFound
	}
	return rec.Item, nil
}

func (bs *BadgerStore) ListSessions() ([]types.Session, error) {
	return scanRecords[types.Session](bs, sessionKeyPrefix), nil
}

func (bs *BadgerStore) UpdateSession(id string, update SessionUpdate) (types.Session, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var updated types.Session
	err := bs.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord[types.Session](txn, sessionKey(id))
		if err != nil {
			return err
		}
		rec.Item = applySessionUpdate(rec.Item, update, bs.now())
		updated = rec.Item
		return setRecord(txn, sessionKey(id), rec)
	})
	if err != nil {
		return types.Session{}, err
	}
	return updated, nil
}

func (bs *BadgerStore) DeleteSession(id string) (bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	deleted := false
	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		deleted = true
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted, nil
}

func (bs *BadgerStore) CreateTranscript(params CreateTranscriptParams) (types.TranscriptEntry, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	entry, err := newTranscript(params, bs.now())
	if err != nil {
		return types.TranscriptEntry{}, err
	}
	n, err := bs.seq.Next()
	if err != nil {
		return types.TranscriptEntry{}, fmt.Errorf("next sequence: %w", err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		if err := setRecord(txn, transcriptKey(entry.Id), badgerRecord[types.TranscriptEntry]{Seq: n, Item: entry}); err != nil {
			return err
		}
		return txn.Set(sessionTranscriptKey(entry.AppSessionId, entry.Id), []byte(entry.Id))
	})
	if err != nil {
		return types.TranscriptEntry{}, fmt.Errorf("create transcript: %w", err)
	}
	return entry, nil
}

func (bs *BadgerStore) ListTranscripts() ([]types.TranscriptEntry, error) {
	return scanRecords[types.TranscriptEntry](bs, transcriptKeyPrefix), nil
}

// transcriptIdsForSession walks the session index.
func transcriptIdsForSession(txn *badger.Txn, sessionId string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := sessionTranscriptPrefix(sessionId)
	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	return ids
}

func (bs *BadgerStore) ListTranscriptsBySession(sessionId string) ([]types.TranscriptEntry, error) {
	var recs []badgerRecord[types.TranscriptEntry]
	err := bs.db.View(func(txn *badger.Txn) error {
		for _, id := range transcriptIdsForSession(txn, sessionId) {
			rec, err := getRecord[types.TranscriptEntry](txn, transcriptKey(id))
			if err != nil {
				bs.log.Warn().Err(err).Str("transcript_id", id).Msg("dangling transcript index entry")
				continue
			}
			if rec.Item.AppSessionId != sessionId {
				bs.log.Warn().Str("transcript_id", id).Str("session_id", sessionId).Msg("transcript index entry points at another session")
				continue
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		bs.log.Error().Err(err).Str("session_id", sessionId).Msg("list transcripts by session")
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	out := make([]types.TranscriptEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Item)
	}
	return out, nil
}

func (bs *BadgerStore) DeleteTranscript(id string) (bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	deleted := false
	err := bs.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord[types.TranscriptEntry](txn, transcriptKey(id))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(transcriptKey(id)); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(sessionTranscriptKey(rec.Item.AppSessionId, id))
	})
	if err != nil {
		return false, fmt.Errorf("delete transcript: %w", err)
	}
	return deleted, nil
}

func (bs *BadgerStore) DeleteTranscriptsBySession(sessionId string) (int, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	count := 0
	err := bs.db.Update(func(txn *badger.Txn) error {
		for _, id := range transcriptIdsForSession(txn, sessionId) {
			rec, err := getRecord[types.TranscriptEntry](txn, transcriptKey(id))
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return err
			case rec.Item.AppSessionId == sessionId:
				if err := txn.Delete(transcriptKey(id)); err != nil {
					return err
				}
				count++
			default:
				// Index entry of another session; leave its transcript alone.
				continue
			}
			if err := txn.Delete(sessionTranscriptKey(sessionId, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete transcripts by session: %w", err)
	}
	return count, nil
}

package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger returns a debug-level logger that writes through t.Log.
func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, used to capture
// log output from goroutines under test.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// BufferLogger returns a logger writing json lines into the returned buffer.
func BufferLogger() (zerolog.Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

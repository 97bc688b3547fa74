package hub

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	sseConnected = []byte(": connected\n\n")
	sseKeepAlive = []byte(": keep-alive\n\n")
	sseDataStart = []byte("data: ")
	sseDataEnd   = []byte("\n\n")
)

// SSEConn writes server-sent events to a streaming HTTP response.
type SSEConn struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	// mu guards writes against Close so nothing touches the response after
	// the handler has returned.
	mu     sync.Mutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEConn sends the event-stream headers and the connected greeting.
func NewSSEConn(w http.ResponseWriter) (*SSEConn, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	c := &SSEConn{
		w:    w,
		rc:   http.NewResponseController(w),
		done: make(chan struct{}),
	}
	if err := c.write(sseConnected); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SSEConn) WriteMessage(data []byte) error {
	frame := make([]byte, 0, len(sseDataStart)+len(data)+len(sseDataEnd))
	frame = append(frame, sseDataStart...)
	frame = append(frame, data...)
	frame = append(frame, sseDataEnd...)
	return c.write(frame)
}

func (c *SSEConn) WritePing() error {
	return c.write(sseKeepAlive)
}

func (c *SSEConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := c.w.Write(frame); err != nil {
		return err
	}
	return c.rc.Flush()
}

// Done is closed when the connection is closed by the hub.
func (c *SSEConn) Done() <-chan struct{} {
	return c.done
}

// Close stops further writes. It waits for an in-flight write, which is
// itself bounded by the write deadline.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 1024
)

// WSConn carries events as websocket text frames. Viewers are receive-only;
// anything they send is read and discarded.
type WSConn struct {
	conn      *websocket.Conn
	log       zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSConn(conn *websocket.Conn, logger zerolog.Logger) *WSConn {
	return &WSConn{
		conn: conn,
		log:  logger,
		done: make(chan struct{}),
	}
}

func (c *WSConn) WriteMessage(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) WritePing() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// ReadPump blocks until the peer goes away, then closes the connection.
func (c *WSConn) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}
	}
}

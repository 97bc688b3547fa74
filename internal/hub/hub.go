// Package hub fans events out to every connected live viewer.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/npezzotti/meeting-relay/internal/stats"
	"github.com/rs/zerolog"
)

const (
	writeWait     = 10 * time.Second
	probeInterval = 15 * time.Second
)

var (
	ErrWriteTimeout = errors.New("write timed out")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn is the transport sink of one subscriber. Implementations bound each
// write by their own deadline; the hub bounds it again by writeWait.
type Conn interface {
	WriteMessage(data []byte) error
	WritePing() error
	Close() error
}

type Subscriber struct {
	id   string
	conn Conn
	// mu serializes writes on conn.
	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (s *Subscriber) ID() string {
	return s.id
}

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

type Hub struct {
	log   zerolog.Logger
	stats stats.StatsProvider

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	closed      bool

	// publishMu orders publishes and probes so every subscriber sees
	// messages in publish-call order.
	publishMu sync.Mutex

	writeWait     time.Duration
	probeInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewHub(logger zerolog.Logger, sp stats.StatsProvider) *Hub {
	if sp == nil {
		sp = stats.NoopStats{}
	}
	sp.RegisterMetric(stats.ActiveSubscribers)
	sp.RegisterMetric(stats.SubscribersDropped)
	sp.RegisterMetric(stats.MessagesPublished)

	return &Hub{
		log:           logger,
		stats:         sp,
		subscribers:   make(map[*Subscriber]struct{}),
		writeWait:     writeWait,
		probeInterval: probeInterval,
		stop:          make(chan struct{}),
	}
}

// Subscribe registers conn. On a hub that has been shut down the connection
// is closed immediately and the returned subscriber is already done.
func (h *Hub) Subscribe(conn Conn) *Subscriber {
	sub := &Subscriber{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.stats.Incr(stats.ActiveSubscribers)
	h.log.Info().Str("subscriber_id", sub.id).Int("subscribers", count).Msg("subscriber connected")
	return sub
}

// Unsubscribe removes and closes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h.remove(sub) {
		h.log.Info().Str("subscriber_id", sub.id).Int("subscribers", h.Count()).Msg("subscriber disconnected")
	}
	sub.close()
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	h.stats.Decr(stats.ActiveSubscribers)
	return true
}

// drop removes a subscriber whose write failed. The connection is closed off
// the publish path since a stuck transport may take a while to let go.
func (h *Hub) drop(sub *Subscriber, err error) {
	if !h.remove(sub) {
		return
	}
	h.stats.Incr(stats.SubscribersDropped)
	h.log.Warn().Err(err).Str("subscriber_id", sub.id).Msg("dropping subscriber")
	go sub.close()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// Publish delivers msg, serialized once as JSON, to every current subscriber
// and returns after every write attempt has completed or timed out.
// Subscribers that fail are removed; the caller never sees their errors.
func (h *Hub) Publish(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to serialize message")
		return
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.stats.Incr(stats.MessagesPublished)
	h.broadcast(func(c Conn) error { return c.WriteMessage(data) })
}

func (h *Hub) probe() {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.broadcast(func(c Conn) error { return c.WritePing() })
}

func (h *Hub) broadcast(write func(Conn) error) {
	subs := h.snapshot()
	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			if err := h.deliver(sub, write); err != nil {
				h.drop(sub, err)
			}
		}(sub)
	}
	wg.Wait()
}

// deliver runs write against sub's connection, giving up after writeWait.
func (h *Hub) deliver(sub *Subscriber, write func(Conn) error) error {
	result := make(chan error, 1)
	go func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()

		select {
		case <-sub.done:
			result <- ErrConnClosed
			return
		default:
		}
		result <- write(sub.conn)
	}()

	timer := time.NewTimer(h.writeWait)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Run probes every subscriber on a fixed interval until ctx is cancelled or
// the hub is shut down. Probing detects peers that went away without the
// transport noticing.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.probe()
		case <-ctx.Done():
			return nil
		case <-h.stop:
			return nil
		}
	}
}

// Shutdown closes every subscriber and stops the prober. Later subscriptions
// are closed on arrival.
func (h *Hub) Shutdown() {
	h.log.Info().Msg("shutting down hub")
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, sub)
		h.stats.Decr(stats.ActiveSubscribers)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/hyperloop/internal/hooks"
	"github.com/soyeahso/hyperloop/internal/logging"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// Event is one frame pushed to /events subscribers.
type Event struct {
	Seq   int64          `json:"seq"`
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// Hub fans lifecycle events out to websocket subscribers.
// A subscriber that falls behind has events dropped rather than
// stalling the bootstrap loop.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu     sync.Mutex
	subs   map[string]*subscriber
	seq    int64
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates an empty event hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log:  log.Sub("events"),
		subs: make(map[string]*subscriber),
	}
}

// Attach registers the hub on every lifecycle event of m.
func (h *Hub) Attach(m *hooks.Manager) {
	for _, event := range hooks.AllEvents {
		m.On(event, "events-hub", h.handle)
	}
}

func (h *Hub) handle(_ context.Context, p hooks.Payload) error {
	h.Publish(p.Event, p.Data)
	return nil
}

// Publish stamps an event with the next sequence number and queues it
// for every subscriber.
func (h *Hub) Publish(event string, data map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	ev := Event{Seq: h.seq, Event: event, Time: time.Now().UTC(), Data: data}
	for _, s := range h.subs {
		select {
		case s.send <- ev:
		default:
			h.log.Warn().Str("subscriber", s.id).Str("event", event).Msg("subscriber behind, event dropped")
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the peer
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Event, subscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.subs[s.id] = s
	h.wg.Add(1)
	h.mu.Unlock()

	h.log.Debug().Str("subscriber", s.id).Str("remote", r.RemoteAddr).Msg("subscriber connected")

	go h.writeLoop(s)
	h.readLoop(s)
}

// readLoop discards inbound frames; it exists to observe the close.
func (h *Hub) readLoop(s *subscriber) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("subscriber", s.id).Msg("read error")
			}
			break
		}
	}
	h.remove(s)
}

func (h *Hub) writeLoop(s *subscriber) {
	defer h.wg.Done()
	defer s.conn.Close()

	for ev := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteJSON(ev); err != nil {
			h.log.Warn().Err(err).Str("subscriber", s.id).Msg("event send failed")
			h.remove(s)
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s.id]; ok {
		delete(h.subs, s.id)
		h.log.Debug().Str("subscriber", s.id).Msg("subscriber disconnected")
	}
	h.mu.Unlock()
	s.close()
}

// Close flushes queued events to every subscriber, sends a close frame
// and waits for the writers to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for id, s := range h.subs {
		subs = append(subs, s)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	h.wg.Wait()
}

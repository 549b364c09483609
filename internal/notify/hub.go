package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"virtual-market/internal/domain"
)

const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"

	defaultSessionBuffer = 64
)

// Message is one serialized event queued for a dashboard session.
type Message struct {
	Name string
	Data []byte
}

// Session is a connected dashboard. The transport drains Messages until the
// channel is closed by the hub.
type Session struct {
	ID        string
	Transport string
	send      chan Message
}

func (s *Session) Messages() <-chan Message { return s.send }

type SessionObserver interface {
	SessionsChanged(transport string, delta int)
}

// Hub is the registry of dashboard sessions. Every registered session gets
// every broadcast event; there is no replay for late joiners.
type Hub struct {
	log      logrus.FieldLogger
	observer SessionObserver
	buffer   int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(log logrus.FieldLogger, observer SessionObserver) *Hub {
	return &Hub{
		log:      log,
		observer: observer,
		buffer:   defaultSessionBuffer,
		sessions: make(map[string]*Session),
	}
}

func (h *Hub) Register(transport string) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Transport: transport,
		send:      make(chan Message, h.buffer),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.changed(transport, 1)
	h.log.WithFields(logrus.Fields{"session": s.ID, "transport": transport}).Info("dashboard connected")
	return s
}

// Unregister removes the session and closes its queue. Safe to call twice.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	if ok {
		delete(h.sessions, s.ID)
		close(s.send)
	}
	h.mu.Unlock()

	if ok {
		h.changed(s.Transport, -1)
		h.log.WithFields(logrus.Fields{"session": s.ID, "transport": s.Transport}).Info("dashboard disconnected")
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast queues evt on every session. A session that cannot keep up is
// dropped; its client reconnects and re-fetches the order list.
func (h *Hub) Broadcast(evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := Message{Name: evt.SSEName(), Data: data}

	var dropped []*Session
	h.mu.Lock()
	for id, s := range h.sessions {
		select {
		case s.send <- msg:
		default:
			delete(h.sessions, id)
			close(s.send)
			dropped = append(dropped, s)
		}
	}
	h.mu.Unlock()

	for _, s := range dropped {
		h.changed(s.Transport, -1)
		h.log.WithFields(logrus.Fields{"session": s.ID, "transport": s.Transport}).Warn("dashboard too slow, dropped")
	}
	return nil
}

func (h *Hub) Name() string { return "dashboard" }

func (h *Hub) Handle(_ context.Context, evt domain.Event) error {
	return h.Broadcast(evt)
}

func (h *Hub) changed(transport string, delta int) {
	if h.observer != nil {
		h.observer.SessionsChanged(transport, delta)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-market/internal/domain"
	"virtual-market/internal/logging"
)

type sessionCounter struct {
	mu    sync.Mutex
	count map[string]int
}

func (s *sessionCounter) SessionsChanged(transport string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == nil {
		s.count = map[string]int{}
	}
	s.count[transport] += delta
}

func (s *sessionCounter) get(transport string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[transport]
}

func TestHub_BroadcastReachesEverySession(t *testing.T) {
	hub := NewHub(logging.Discard(), nil)
	a := hub.Register(TransportSSE)
	b := hub.Register(TransportWebSocket)

	order := testOrder(domain.StatusNew)
	require.NoError(t, hub.Handle(context.Background(), domain.NewOrderEvent(order)))

	for _, s := range []*Session{a, b} {
		msg := <-s.Messages()
		assert.Equal(t, "newOrder", msg.Name)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, "NEW_ORDER", payload["type"])
	}
}

func TestHub_LateJoinerGetsNoReplay(t *testing.T) {
	hub := NewHub(logging.Discard(), nil)
	require.NoError(t, hub.Broadcast(domain.NewOrderEvent(testOrder(domain.StatusNew))))

	late := hub.Register(TransportSSE)
	select {
	case msg := <-late.Messages():
		t.Fatalf("unexpected replay: %s", msg.Name)
	default:
	}
}

func TestHub_DropsSlowSession(t *testing.T) {
	counter := &sessionCounter{}
	hub := NewHub(logging.Discard(), counter)
	hub.buffer = 1
	slow := hub.Register(TransportSSE)
	assert.Equal(t, 1, counter.get(TransportSSE))

	evt := domain.NewOrderEvent(testOrder(domain.StatusNew))
	require.NoError(t, hub.Broadcast(evt))
	require.NoError(t, hub.Broadcast(evt))

	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0, counter.get(TransportSSE))

	_, ok := <-slow.Messages()
	assert.True(t, ok, "buffered message is still readable")
	_, ok = <-slow.Messages()
	assert.False(t, ok, "channel closed after drop")

	hub.Unregister(slow)
	assert.Equal(t, 0, counter.get(TransportSSE))
}

func TestHub_UnregisterTwice(t *testing.T) {
	counter := &sessionCounter{}
	hub := NewHub(logging.Discard(), counter)
	s := hub.Register(TransportWebSocket)
	hub.Unregister(s)
	hub.Unregister(s)
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0, counter.get(TransportWebSocket))
}

func TestWebSocketServer_StreamsEvents(t *testing.T) {
	hub := NewHub(logging.Discard(), nil)
	srv := httptest.NewServer(NewWebSocketServer(hub, logging.Discard(), []string{"http://dashboard.test"}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://dashboard.test")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	order := testOrder(domain.StatusProcessing)
	require.NoError(t, hub.Broadcast(domain.StatusChangedEvent(order, domain.StatusNew)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "STATUS_UPDATE", payload["type"])
	assert.Equal(t, order.ID.String(), payload["orderId"])
	assert.Equal(t, "processing", payload["newStatus"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_RejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(logging.Discard(), nil)
	srv := httptest.NewServer(NewWebSocketServer(hub, logging.Discard(), []string{"http://dashboard.test"}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())
}

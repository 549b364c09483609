package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketServer upgrades dashboard connections and pumps hub events to them.
type WebSocketServer struct {
	hub      *Hub
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWebSocketServer(hub *Hub, log logrus.FieldLogger, allowedOrigins []string) *WebSocketServer {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WebSocketServer{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (ws *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		ws.log.WithError(err).WithField("origin", r.Header.Get("Origin")).Warn("websocket upgrade rejected")
		return
	}
	session := ws.hub.Register(TransportWebSocket)
	go ws.writePump(conn, session)
	ws.readPump(conn, session)
}

// readPump only services control frames; dashboards never send data.
func (ws *WebSocketServer) readPump(conn *websocket.Conn, s *Session) {
	defer func() {
		ws.hub.Unregister(s)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *WebSocketServer) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				ws.hub.Unregister(s)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.hub.Unregister(s)
				return
			}
		}
	}
}

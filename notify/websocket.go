package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mensylisir/xmbench/common"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams the events of the room named by
// the session_id query parameter until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("session_id")
	if room == "" {
		room = common.DefaultSessionID
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	ch := h.Subscribe(room)
	h.log.Debugf("observer joined room %s", room)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(room, ch)
		conn.Close()
		h.log.Debugf("observer left room %s", room)
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Event{Type: "connected", Room: room, Data: map[string]string{"session_id": room}, Timestamp: time.Now()}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

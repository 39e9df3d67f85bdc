package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local app; allow all
		return true
	},
}

// handleWSSession streams session events. A new client first receives the
// current state so it does not have to poll /api/state.
func (s *Server) handleWSSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l, err := s.feed.Subscribe(conn, s.snapshot())
	if err != nil {
		return
	}

	// Keep reading until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.feed.Unsubscribe(l)
			return
		}
	}
}

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trading-sim/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams bus messages. ?types=order.filled,position.closed narrows
// the stream; ?account=x keeps only that account's records. Account-scoped
// tokens only ever see their own account.
func (s *Server) websocket(c *gin.Context) {
	types := splitParam(c.Query("types"))
	account := requestAccount(c, c.Query("account"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(events.EventAll, 256)
	defer unsub()

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if !wanted(msg, types, account) {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}

func wanted(msg any, types []string, account string) bool {
	rec, ok := msg.(events.Record)
	if !ok {
		// Ticks, signals and alerts are not account scoped.
		return len(types) == 0 && account == ""
	}
	if account != "" && rec.Account != account {
		return false
	}
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if string(rec.Type) == t {
			return true
		}
	}
	return false
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

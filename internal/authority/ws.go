package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	// Clients never send anything meaningful; reading just detects the close.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}
	}
}

// notifyAll pushes one payload-less change notification to every connected
// client. The connection set is snapshotted first and writes happen outside
// the state lock, so a stalled subscriber cannot block the HTTP handlers.
// Connections that fail to take the write are dropped; the client reconnects
// and resyncs on its own.
func (s *Server) notifyAll(notificationType string) {
	payload, err := json.Marshal(types.Notification{Type: notificationType})
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var failed []*websocket.Conn
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			s.log.Debug("dropping notification subscriber", zap.Error(err))
			failed = append(failed, conn)
		}
	}

	if len(failed) == 0 {
		return
	}
	s.mu.Lock()
	for _, conn := range failed {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
}

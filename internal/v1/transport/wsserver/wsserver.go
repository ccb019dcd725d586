// Package wsserver is the raw TCP/WebSocket transport adapter: it owns a
// net/http handler, upgrades every incoming connection, and forwards
// frames between the socket and a joint. It never touches room or
// reducer state directly — only Attach, Detach, and frame forwarding
// (spec.md §4.4).
package wsserver

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/injoint/joint/internal/v1/joint"
	"github.com/injoint/joint/internal/v1/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn to joint.Conn, grounded on the teacher's
// transport/client.go read/write pump pair but speaking JSON text frames
// instead of protobuf binary frames.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// Server listens on a raw HTTP/WebSocket endpoint and hands every upgraded
// connection to a *joint.Joint.
type Server struct {
	j *joint.Joint
}

// New builds a wsserver.Server bound to j.
func New(j *joint.Joint) *Server {
	return &Server{j: j}
}

// Handler returns the http.HandlerFunc to mount on a bare net/http
// ServeMux or http.Server — this adapter needs no host router.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(r.Context(), "websocket upgrade failed", zap.Error(err))
			return
		}
		s.serve(conn)
	}
}

func (s *Server) serve(conn *websocket.Conn) {
	adapted := &wsConn{conn: conn}
	handle := s.j.Attach(adapted)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(ctx, conn, handle)
	s.readPump(cancel, adapted, handle.ID)
}

func (s *Server) readPump(cancel context.CancelFunc, conn *wsConn, clientID uint64) {
	defer cancel()
	defer s.j.Detach(clientID)
	defer conn.Close()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.j.Inbound(clientID, frame)
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, handle *joint.ClientHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-handle.Outbound:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

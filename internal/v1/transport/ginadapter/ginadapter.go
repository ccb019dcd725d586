// Package ginadapter adapts a joint to a host gin.Engine's upgrade route,
// grounded on the teacher's Hub.ServeWs + cmd/v1/session/main.go wiring:
// optional connect rate limiting, then the same upgrade-and-pump path
// wsserver uses. Correlation ids, tracing spans and CORS are not applied
// here; they come from whatever middleware the host router installs.
package ginadapter

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/injoint/joint/internal/v1/joint"
	"github.com/injoint/joint/internal/v1/logging"
	"github.com/injoint/joint/internal/v1/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

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

// Adapter mounts a joint's upgrade endpoint onto a gin.Engine/RouterGroup.
type Adapter struct {
	j  *joint.Joint
	rl *ratelimit.RateLimiter
}

// New builds an Adapter. rl may be nil to skip connection rate limiting.
func New(j *joint.Joint, rl *ratelimit.RateLimiter) *Adapter {
	return &Adapter{j: j, rl: rl}
}

// Register mounts the adapter's handler (plus its own rate-limit
// middleware, if configured) at path on r.
func (a *Adapter) Register(r gin.IRoutes, path string) {
	if a.rl != nil {
		r.GET(path, a.rl.ConnectMiddleware(), a.Handle)
		return
	}
	r.GET(path, a.Handle)
}

// Handle is the gin.HandlerFunc performing the upgrade.
func (a *Adapter) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	adapted := &wsConn{conn: conn}
	handle := a.j.Attach(adapted)

	ctx, cancel := context.WithCancel(c.Request.Context())
	go a.writePump(ctx, conn, handle)
	a.readPump(cancel, adapted, handle.ID)
}

func (a *Adapter) readPump(cancel context.CancelFunc, conn *wsConn, clientID uint64) {
	defer cancel()
	defer a.j.Detach(clientID)
	defer conn.Close()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		a.j.Inbound(clientID, frame)
	}
}

func (a *Adapter) writePump(ctx context.Context, conn *websocket.Conn, handle *joint.ClientHandle) {
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

package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsMaxDuration    = 5 * time.Minute
	wsPollInterval   = 1 * time.Second
	wsPingInterval   = 30 * time.Second
	wsPongTimeout    = 10 * time.Second
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams a queue's stat snapshot to a connected operator
// at wsPollInterval, mirroring the upstream reference's job-status stream:
// same read-pump-for-disconnect, ping/pong keepalive, and max-duration cutoff,
// generalized from "poll one job's status" to "poll one queue's stat".
type WebSocketHandler struct {
	registry Registry
	log      *zap.Logger
}

func NewWebSocketHandler(registry Registry, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, log: log}
}

// Stream handles GET /api/v1/queues/:name/stream (WebSocket upgrade).
func (h *WebSocketHandler) Stream(c *gin.Context) {
	name := c.Param("name")
	q, ok := h.registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such queue", "queue": name})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Error("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout + wsPingInterval))
		return nil
	})

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pollTicker := time.NewTicker(wsPollInterval)
	defer pollTicker.Stop()
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()
	maxTimer := time.NewTimer(wsMaxDuration)
	defer maxTimer.Stop()

	var lastLen int = -1

	for {
		select {
		case <-clientDone:
			return

		case <-maxTimer.C:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "max connection duration exceeded"))
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-pollTicker.C:
			stat := q.Stat()
			if stat.Len == lastLen {
				continue
			}
			lastLen = stat.Len
			conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			if err := conn.WriteJSON(stat); err != nil {
				return
			}
		}
	}
}

package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatHandler exposes the priority-9 read-only mailbox ops (stat, info,
// get_limit) over HTTP, grounded on the upstream reference's submission_handler.go
// request/response shape (gin.H JSON, 404 on an unknown id).
type StatHandler struct {
	registry Registry
	log      *zap.Logger
}

func NewStatHandler(registry Registry, log *zap.Logger) *StatHandler {
	return &StatHandler{registry: registry, log: log}
}

func (h *StatHandler) queueOr404(c *gin.Context) (Queue, bool) {
	name := c.Param("name")
	q, ok := h.registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such queue", "queue": name})
		return nil, false
	}
	return q, true
}

// Stat handles GET /api/v1/queues/:name/stat.
func (h *StatHandler) Stat(c *gin.Context) {
	q, ok := h.queueOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, q.Stat())
}

// Info handles GET /api/v1/queues/:name/info.
func (h *StatHandler) Info(c *gin.Context) {
	q, ok := h.queueOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, q.Info())
}

// GetLimit handles GET /api/v1/queues/:name/get_limit.
func (h *StatHandler) GetLimit(c *gin.Context) {
	q, ok := h.queueOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": c.Param("name"), "limit": q.GetLimit()})
}

// ListQueues handles GET /api/v1/queues.
func (h *StatHandler) ListQueues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.registry.Names()})
}

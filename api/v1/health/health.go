package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Clock is the part of the store the health check touches.
type Clock interface {
	CurrentTimestamp(ctx context.Context) (time.Time, error)
}

type Handler struct {
	store Clock
}

func NewHandler(st Clock) *Handler {
	return &Handler{store: st}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	now, err := h.store.CurrentTimestamp(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  http.StatusServiceUnavailable,
			"message": "store unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    http.StatusOK,
		"message":   "ok",
		"storeTime": now,
	})
}

package alerts

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"reacher-sentinel/api/v1/apierr"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

const defaultActor = "operator"

type Handler struct {
	store  store.Store
	logger *slog.Logger
}

func NewHandler(st store.Store, logger *slog.Logger) *Handler {
	return &Handler{store: st, logger: logger.With("component", "alerts_api")}
}

type ackRequest struct {
	Actor string `json:"actor"`
}

// Ack acknowledges an alert. Acknowledging twice is not an error.
func (h *Handler) Ack(c *gin.Context) {
	alertID := c.Param("alertId")

	var req ackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.BadRequest(c, err.Error())
			return
		}
	}
	if req.Actor == "" {
		req.Actor = defaultActor
	}

	if err := h.store.AckAlert(c.Request.Context(), alertID, req.Actor); err != nil {
		apierr.Write(c, err)
		return
	}
	h.logger.Info("alert acknowledged", "alert_id", alertID, "actor", req.Actor)

	c.JSON(http.StatusOK, gin.H{
		"status":  http.StatusOK,
		"message": "acknowledged",
		"alertId": alertID,
	})
}

func (h *Handler) Get(c *gin.Context) {
	alert, err := h.store.GetAlert(c.Request.Context(), c.Param("alertId"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) Log(c *gin.Context) {
	alertID := c.Param("alertId")
	if _, err := h.store.GetAlert(c.Request.Context(), alertID); err != nil {
		apierr.Write(c, err)
		return
	}
	entries, err := h.store.ListAlertLog(c.Request.Context(), alertID)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if entries == nil {
		entries = []models.AlertLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

package services

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"reacher-sentinel/api/v1/apierr"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type Handler struct {
	store   store.Store
	history store.ProbeHistory
	logger  *slog.Logger
}

func NewHandler(st store.Store, history store.ProbeHistory, logger *slog.Logger) *Handler {
	return &Handler{store: st, history: history, logger: logger.With("component", "services_api")}
}

func (h *Handler) List(c *gin.Context) {
	svcs, err := h.store.ListServices(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	out := make([]models.ServiceSpec, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, models.SpecFromService(svc))
	}
	c.JSON(http.StatusOK, out)
}

// Register creates or replaces a monitored service.
func (h *Handler) Register(c *gin.Context) {
	var spec models.ServiceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		apierr.BadRequest(c, err.Error())
		return
	}
	svc, err := h.store.RegisterService(c.Request.Context(), spec.ToService())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	h.logger.Info("service registered", "service_id", svc.ServiceID, "url", svc.URL)
	c.JSON(http.StatusCreated, models.SpecFromService(svc))
}

func (h *Handler) Delete(c *gin.Context) {
	serviceID := c.Param("serviceId")
	if err := h.store.DeleteService(c.Request.Context(), serviceID); err != nil {
		apierr.Write(c, err)
		return
	}
	h.logger.Info("service deleted", "service_id", serviceID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Alerts(c *gin.Context) {
	alerts, err := h.store.ListAlerts(c.Request.Context(), c.Param("serviceId"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, alerts)
}

// Monitors lists the monitors currently holding a live lease on the service.
func (h *Handler) Monitors(c *gin.Context) {
	leases, err := h.store.ServiceLeases(c.Request.Context(), c.Param("serviceId"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if leases == nil {
		leases = []models.MonitorLease{}
	}
	c.JSON(http.StatusOK, leases)
}

type historyResponse struct {
	ServiceID string               `json:"serviceId"`
	Results   []models.ProbeResult `json:"results"`
	Today     map[string]int64     `json:"today"`
}

func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"status":  http.StatusNotImplemented,
			"message": "probe history is not configured",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierr.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	serviceID := c.Param("serviceId")
	ctx := c.Request.Context()
	results, err := h.history.Recent(ctx, serviceID, limit)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	today, err := h.history.DailyCounts(ctx, serviceID, time.Now())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if results == nil {
		results = []models.ProbeResult{}
	}
	c.JSON(http.StatusOK, historyResponse{ServiceID: serviceID, Results: results, Today: today})
}

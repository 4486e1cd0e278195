package monitors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reacher-sentinel/api/v1/apierr"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

type Handler struct {
	store store.Store
}

func NewHandler(st store.Store) *Handler {
	return &Handler{store: st}
}

// Active lists fleet members holding live leases. ?kind=alerts lists alerters.
func (h *Handler) Active(c *gin.Context) {
	kind := models.WorkKind(c.DefaultQuery("kind", string(models.WorkServices)))
	if kind != models.WorkServices && kind != models.WorkAlerts {
		apierr.BadRequest(c, "kind must be services or alerts")
		return
	}
	members, err := h.store.ActiveMembers(c.Request.Context(), kind)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if members == nil {
		members = []models.FleetMember{}
	}
	c.JSON(http.StatusOK, members)
}

func (h *Handler) Services(c *gin.Context) {
	leases, err := h.store.MemberLeases(c.Request.Context(), c.Param("monitorId"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if leases == nil {
		leases = []models.MonitorLease{}
	}
	c.JSON(http.StatusOK, leases)
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reacher-sentinel/api/v1/alerts"
	"reacher-sentinel/api/v1/health"
	"reacher-sentinel/api/v1/monitors"
	"reacher-sentinel/api/v1/services"
	"reacher-sentinel/config"
	"reacher-sentinel/metrics"
	"reacher-sentinel/store"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators of the control surface.
type Deps struct {
	Config  *config.Config
	Store   store.Store
	History store.ProbeHistory
	Metrics *metrics.Bundle
	Logger  *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()

	// CORS for browser clients
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	SetupRoutes(r, d)
	return r
}

func SetupRoutes(r *gin.Engine, d Deps) {
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	healthHandler := health.NewHandler(d.Store)
	alertsHandler := alerts.NewHandler(d.Store, d.Logger)
	servicesHandler := services.NewHandler(d.Store, d.History, d.Logger)
	monitorsHandler := monitors.NewHandler(d.Store)

	v1 := r.Group("/api/v1")
	{
		healthApi := v1.Group("/health")
		{
			healthApi.GET("", healthHandler.GetHealth)
		}

		alertsApi := v1.Group("/alerts")
		{
			alertsApi.GET("/:alertId", alertsHandler.Get)
			alertsApi.GET("/:alertId/log", alertsHandler.Log)
			alertsApi.POST("/:alertId/ack", alertsHandler.Ack)
		}

		servicesApi := v1.Group("/services")
		{
			servicesApi.GET("", servicesHandler.List)
			servicesApi.POST("", servicesHandler.Register)
			servicesApi.DELETE("/:serviceId", servicesHandler.Delete)
			servicesApi.GET("/:serviceId/alerts", servicesHandler.Alerts)
			servicesApi.GET("/:serviceId/monitors", servicesHandler.Monitors)
			servicesApi.GET("/:serviceId/history", servicesHandler.History)
		}

		monitorsApi := v1.Group("/monitors")
		{
			monitorsApi.GET("", monitorsHandler.Active)
			monitorsApi.GET("/:monitorId/services", monitorsHandler.Services)
		}

		// bulk reset for test environments only
		if d.Config != nil && d.Config.InstanceMode == config.ModeDev {
			v1.POST("/tests/reset", func(c *gin.Context) {
				if err := d.Store.Reset(c.Request.Context()); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"status": http.StatusInternalServerError, "message": err.Error()})
					return
				}
				d.Logger.Warn("store reset through the API")
				c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "message": "reset"})
			})
		}
	}
}

// StartServer serves the router until ctx is cancelled.
func StartServer(ctx context.Context, d Deps) error {
	srv := &http.Server{
		Addr:              ":" + d.Config.Port,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

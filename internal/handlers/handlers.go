package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	repo      *repository.Repository
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, s *scheduler.Scheduler, m *metrics.Metrics) *Handlers {
	return &Handlers{db: db, repo: repo, scheduler: s, metrics: m}
}

// SetupRoutes registers all routes on the router
func (h *Handlers) SetupRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/track/open/:uuid", h.TrackOpen)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/queue/send", h.TriggerSend)
		v1.POST("/mailbox/sync", h.TriggerSync)
		v1.GET("/queue/stats", h.QueueStats)
	}
}

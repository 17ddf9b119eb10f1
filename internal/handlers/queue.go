package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TriggerSend runs one outbound delivery pass outside the schedule
func (h *Handlers) TriggerSend(c *gin.Context) {
	sent, failed, err := h.scheduler.RunSendOnce()
	if err != nil {
		logrus.Errorf("Manual delivery pass failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent, "failed": failed})
}

// TriggerSync runs one inbound sync pass outside the schedule
func (h *Handlers) TriggerSync(c *gin.Context) {
	res, err := h.scheduler.RunSyncOnce()
	if err != nil {
		logrus.Errorf("Manual sync pass failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// QueueStats reports the delivery queue by state
func (h *Handlers) QueueStats(c *gin.Context) {
	stats, err := h.repo.Stats()
	if err != nil {
		logrus.Errorf("Failed to collect queue stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.metrics.QueuePending.Set(float64(stats.Pending))
	c.JSON(http.StatusOK, stats)
}

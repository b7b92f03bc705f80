package httpHandler

import (
	"context"
	"net/http"
	"time"

	"qubix-server/qubic"
	"qubix-server/services"
	"qubix-server/usecases"

	"github.com/gin-gonic/gin"
)

const apiVersion = "1.0.0"

type QubicStatusSource interface {
	Status(ctx context.Context) qubic.Status
}

type HealthSource interface {
	Last(ctx context.Context) services.HealthReport
}

// SystemHandler serves the root banner, health probes and aggregate stats.
type SystemHandler struct {
	stats       *usecases.StatsUseCase
	health      HealthSource
	qubic       QubicStatusSource
	environment string
}

func NewSystemHandler(stats *usecases.StatsUseCase, health HealthSource, q QubicStatusSource, environment string) *SystemHandler {
	return &SystemHandler{stats: stats, health: health, qubic: q, environment: environment}
}

// Root handles GET /
func (h *SystemHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "QUBIX Backend API",
		"status":      "online",
		"version":     apiVersion,
		"environment": h.environment,
		"timestamp":   time.Now().UTC(),
		"endpoints": gin.H{
			"health":    "/health",
			"auth":      "/api/auth",
			"jobs":      "/api/jobs",
			"providers": "/api/providers",
			"stats":     "/api/stats",
			"qubic":     "/api/qubic/status",
			"websocket": "/ws",
		},
	})
}

// Health handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// HealthDetails handles GET /health/details
func (h *SystemHandler) HealthDetails(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Last(c.Request.Context()))
}

// Stats handles GET /api/stats
func (h *SystemHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Compute(c.Request.Context())
	if err != nil {
		respondError(c, err, "Stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// QubicStatus handles GET /api/qubic/status
func (h *SystemHandler) QubicStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.qubic.Status(c.Request.Context()))
}

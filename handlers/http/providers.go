package httpHandler

import (
	"net/http"

	"qubix-server/auth"
	"qubix-server/entities"
	"qubix-server/usecases"

	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	useCase *usecases.ProviderUseCase
}

func NewProviderHandler(useCase *usecases.ProviderUseCase) *ProviderHandler {
	return &ProviderHandler{useCase: useCase}
}

type GPUSpec struct {
	Model string  `json:"model"`
	Vram  float64 `json:"vram"`
}

type QuickRegisterRequest struct {
	WorkerID     string   `json:"workerId"`
	QubicAddress string   `json:"qubicAddress"`
	GPU          *GPUSpec `json:"gpu"`
	PricePerHour float64  `json:"pricePerHour"`
}

type HeartbeatRequest struct {
	Utilization  float64 `json:"utilization"`
	Temperature  float64 `json:"temperature"`
	MemoryUsedGB float64 `json:"memoryUsedGb"`
}

type SetActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

// QuickRegister handles POST /api/providers/quick-register
func (h *ProviderHandler) QuickRegister(c *gin.Context) {
	var req QuickRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	in := usecases.QuickRegisterInput{
		WorkerID:     req.WorkerID,
		QubicAddress: req.QubicAddress,
		PricePerHour: req.PricePerHour,
	}
	if req.GPU != nil {
		in.GPUModel = req.GPU.Model
		in.GPUVramGB = req.GPU.Vram
	}
	if claims, ok := auth.FromContext(c); ok {
		in.UserID = claims.UserID()
	}

	provider, isNew, err := h.useCase.QuickRegister(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"provider": newProviderResponse(provider),
		"isNew":    isNew,
	})
}

// List handles GET /api/providers
func (h *ProviderHandler) List(c *gin.Context) {
	providers, err := h.useCase.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, newProviderResponses(providers))
}

// Get handles GET /api/providers/:id
func (h *ProviderHandler) Get(c *gin.Context) {
	provider, err := h.useCase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, newProviderResponse(provider))
}

// Heartbeat handles POST /api/providers/:id/heartbeat
func (h *ProviderHandler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	provider, err := h.useCase.Heartbeat(c.Request.Context(), c.Param("id"), entities.GPUMetrics{
		Utilization:  req.Utilization,
		Temperature:  req.Temperature,
		MemoryUsedGB: req.MemoryUsedGB,
	})
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "provider": newProviderResponse(provider)})
}

// SetActive handles PATCH /api/providers/:id/active
func (h *ProviderHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		badRequest(c, "isActive is required")
		return
	}
	provider, err := h.useCase.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "provider": newProviderResponse(provider)})
}

// Earnings handles GET /api/providers/:id/earnings
func (h *ProviderHandler) Earnings(c *gin.Context) {
	earnings, err := h.useCase.Earnings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, earnings)
}

// Metrics handles GET /api/providers/:id/metrics
func (h *ProviderHandler) Metrics(c *gin.Context) {
	metrics, err := h.useCase.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Provider")
		return
	}
	c.JSON(http.StatusOK, metrics)
}

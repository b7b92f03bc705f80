package httpHandler

import (
	"encoding/json"
	"net/http"

	"qubix-server/auth"
	"qubix-server/usecases"

	"github.com/gin-gonic/gin"
)

// QueueView exposes the dispatcher queue read-only.
type QueueView interface {
	Snapshot() []string
	Len() int
}

type JobHandler struct {
	useCase *usecases.JobUseCase
	queue   QueueView
}

func NewJobHandler(useCase *usecases.JobUseCase, queue QueueView) *JobHandler {
	return &JobHandler{useCase: useCase, queue: queue}
}

type SubmitJobRequest struct {
	UserID    string          `json:"userId"`
	ModelType string          `json:"modelType"`
	Budget    float64         `json:"budget"`
	Input     json.RawMessage `json:"input"`
}

type ProgressRequest struct {
	Progress int `json:"progress"`
}

type CompleteRequest struct {
	Result json.RawMessage `json:"result"`
}

type FailRequest struct {
	Error string `json:"error"`
}

// Submit handles POST /api/jobs/submit
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitJobRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	claims, ok := auth.FromContext(c)
	switch {
	case ok:
		req.UserID = claims.UserID()
	case req.Budget > 0:
		// escrow only ever locks the caller's own balance
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required to lock a budget"})
		return
	}

	job, err := h.useCase.Submit(c.Request.Context(), usecases.SubmitInput{
		UserID:    req.UserID,
		ModelType: req.ModelType,
		Budget:    req.Budget,
		Input:     string(req.Input),
	})
	if err != nil {
		respondError(c, err, "User")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     job,
		"jobId":   job.ID,
	})
}

// GetByUser handles GET /api/jobs/user/:userId
func (h *JobHandler) GetByUser(c *gin.Context) {
	jobs, err := h.useCase.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err, "User")
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// Get handles GET /api/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.useCase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// Progress handles POST /api/jobs/:id/progress
func (h *JobHandler) Progress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	job, err := h.useCase.UpdateProgress(c.Request.Context(), c.Param("id"), req.Progress)
	if err != nil {
		respondError(c, err, "Job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// Complete handles POST /api/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	job, err := h.useCase.Complete(c.Request.Context(), c.Param("id"), string(req.Result))
	if err != nil {
		respondError(c, err, "Job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// Fail handles POST /api/jobs/:id/fail
func (h *JobHandler) Fail(c *gin.Context) {
	var req FailRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	job, err := h.useCase.Fail(c.Request.Context(), c.Param("id"), req.Error)
	if err != nil {
		respondError(c, err, "Job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// Cancel handles POST /api/jobs/:id/cancel (authenticated)
func (h *JobHandler) Cancel(c *gin.Context) {
	claims, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
		return
	}
	job, err := h.useCase.Cancel(c.Request.Context(), c.Param("id"), claims.UserID())
	if err != nil {
		respondError(c, err, "Job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// Queue handles GET /api/jobs/queue
func (h *JobHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"length": h.queue.Len(),
		"jobs":   h.queue.Snapshot(),
	})
}

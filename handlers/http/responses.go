package httpHandler

import (
	"errors"
	"net/http"
	"time"

	"qubix-server/entities"

	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto HTTP statuses. resource names the
// entity in not-found and conflict messages.
func respondError(c *gin.Context, err error, resource string) {
	status, msg := http.StatusInternalServerError, "Internal server error"

	var verr *entities.ValidationError
	switch {
	case errors.As(err, &verr):
		status, msg = http.StatusBadRequest, verr.Msg
	case errors.Is(err, entities.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, entities.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, entities.ErrInsufficientBalance):
		status, msg = http.StatusPaymentRequired, "Insufficient balance"
	case errors.Is(err, entities.ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, entities.ErrNotFound):
		status, msg = http.StatusNotFound, resource+" not found"
	case errors.Is(err, entities.ErrAlreadyExists):
		status, msg = http.StatusConflict, resource+" already exists"
	case errors.Is(err, entities.ErrInvalidTransition):
		status, msg = http.StatusConflict, err.Error()
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

type userResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Type          string    `json:"type"`
	QubicIdentity string    `json:"qubicIdentity"`
	QubicAddress  string    `json:"qubicAddress"`
	Balance       float64   `json:"balance"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserResponse(u *entities.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Type:          u.Role,
		QubicIdentity: u.QubicAddress,
		QubicAddress:  u.QubicAddress,
		Balance:       u.Balance,
		CreatedAt:     u.CreatedAt,
	}
}

// providerResponse adds the nested specs object dashboards read.
type providerResponse struct {
	entities.Provider
	Specs entities.Specs `json:"specs"`
}

func newProviderResponse(p *entities.Provider) providerResponse {
	return providerResponse{Provider: *p, Specs: p.Specs()}
}

func newProviderResponses(ps []entities.Provider) []providerResponse {
	out := make([]providerResponse, 0, len(ps))
	for i := range ps {
		out = append(out, newProviderResponse(&ps[i]))
	}
	return out
}

package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EscrowLocked   = "LOCKED"
	EscrowReleased = "RELEASED"
	EscrowRefunded = "REFUNDED"
)

// EscrowTransaction holds a consumer's budget for a job until it settles.
type EscrowTransaction struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	JobID      string    `gorm:"type:varchar(36);uniqueIndex" json:"jobId"`
	UserID     string    `gorm:"type:varchar(36);index" json:"userId"`
	ProviderID string    `gorm:"type:varchar(36);index" json:"providerId,omitempty"`
	Amount     float64   `json:"amount"`
	Fee        float64   `json:"fee"`
	Status     string    `gorm:"type:varchar(16)" json:"status"`
	TxHash     string    `gorm:"type:varchar(64)" json:"txHash,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (e *EscrowTransaction) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = EscrowLocked
	}
	return nil
}

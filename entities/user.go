package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleConsumer = "CONSUMER"
	RoleProvider = "PROVIDER"
)

// User represents a marketplace account holding a Qubic wallet.
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	QubicAddress string    `gorm:"type:varchar(60);index" json:"qubicAddress"`
	Role         string    `gorm:"type:varchar(16);default:CONSUMER" json:"role"`
	Balance      float64   `json:"balance"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleConsumer
	}
	return nil
}

// Wallet is handed out once at registration; the seed is never persisted.
type Wallet struct {
	Identity string `json:"identity"`
	Seed     string `json:"seed"`
}

// ValidRole reports whether r is a known account role.
func ValidRole(r string) bool {
	return r == RoleConsumer || r == RoleProvider
}

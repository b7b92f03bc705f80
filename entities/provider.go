package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const UnknownGPUModel = "Unknown"

// Provider is a GPU compute supplier registered by its worker id.
type Provider struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	WorkerID      string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"worker_id"`
	UserID        string     `gorm:"type:varchar(36);index" json:"userId,omitempty"`
	QubicAddress  string     `gorm:"type:varchar(60)" json:"qubicAddress"`
	GPUModel      string     `gorm:"type:varchar(128)" json:"gpuModel"`
	GPUVramGB     float64    `json:"gpuVramGb"`
	PricePerHour  float64    `json:"pricePerHour"`
	IsActive      bool       `json:"isActive"`
	IsOnline      bool       `gorm:"index" json:"isOnline"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	LastAssigned  *time.Time `json:"lastAssigned,omitempty"`
	CurrentJobID  string     `gorm:"type:varchar(36)" json:"currentJobId,omitempty"`
	TotalEarnings float64    `json:"totalEarnings"`
	GPUUtil       float64    `json:"gpuUtilization"`
	GPUTemp       float64    `json:"gpuTemperature"`
	GPUMemUsedGB  float64    `json:"gpuMemoryUsedGb"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (p *Provider) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Specs mirrors the nested "specs" object clients expect.
type Specs struct {
	GPUModel  string  `json:"gpu_model"`
	GPUVramGB float64 `json:"gpu_vram_gb"`
}

func (p *Provider) Specs() Specs {
	return Specs{GPUModel: p.GPUModel, GPUVramGB: p.GPUVramGB}
}

// Available reports whether the provider can take a new job.
func (p *Provider) Available() bool {
	return p.IsActive && p.IsOnline && p.CurrentJobID == ""
}

// GPUMetrics is one heartbeat sample reported by a provider.
type GPUMetrics struct {
	Utilization  float64 `json:"utilization"`
	Temperature  float64 `json:"temperature"`
	MemoryUsedGB float64 `json:"memoryUsedGb"`
}

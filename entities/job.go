package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobPending   = "PENDING"
	JobAssigned  = "ASSIGNED"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
	JobCancelled = "CANCELLED"

	AnonymousUserID  = "anonymous"
	DefaultModelType = "llm-inference"
)

// Job is a unit of compute requested by a consumer.
type Job struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID      string     `gorm:"type:varchar(36);index" json:"userId"`
	ModelType   string     `gorm:"type:varchar(64)" json:"modelType"`
	Status      string     `gorm:"type:varchar(16);index" json:"status"`
	Progress    int        `json:"progress"`
	ProviderID  string     `gorm:"type:varchar(36);index" json:"providerId,omitempty"`
	Budget      float64    `json:"budget"`
	Input       string     `gorm:"type:text" json:"input,omitempty"`  // JSON string
	Result      string     `gorm:"type:text" json:"result,omitempty"` // JSON string
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	return nil
}

var jobTransitions = map[string][]string{
	JobPending:  {JobAssigned, JobRunning, JobCancelled, JobFailed},
	JobAssigned: {JobRunning, JobCompleted, JobFailed, JobCancelled, JobPending},
	JobRunning:  {JobCompleted, JobFailed, JobCancelled, JobPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

// IsActive reports whether the job is waiting for or holding a provider.
func (j *Job) IsActive() bool {
	return j.Status == JobPending || j.Status == JobAssigned || j.Status == JobRunning
}

// Transition moves the job to status `to`, stamping start/completion times.
func (j *Job) Transition(to string, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	switch to {
	case JobRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case JobCompleted:
		j.Progress = 100
		j.CompletedAt = &now
	case JobFailed, JobCancelled:
		j.CompletedAt = &now
	case JobPending:
		j.ProviderID = ""
		j.Progress = 0
		j.StartedAt = nil
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// ClampProgress bounds p to 0..100.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

package repositories

import (
	"context"
	"time"

	"qubix-server/entities"
)

type UserRepository interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	List(ctx context.Context) ([]entities.User, error)
	Count(ctx context.Context) (int64, error)
}

type JobRepository interface {
	Create(ctx context.Context, job *entities.Job) error
	GetByID(ctx context.Context, id string) (*entities.Job, error)
	GetByUserID(ctx context.Context, userID string) ([]entities.Job, error)
	ListByStatus(ctx context.Context, statuses ...string) ([]entities.Job, error)
	Update(ctx context.Context, job *entities.Job) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type ProviderRepository interface {
	Create(ctx context.Context, provider *entities.Provider) error
	GetByID(ctx context.Context, id string) (*entities.Provider, error)
	GetByWorkerID(ctx context.Context, workerID string) (*entities.Provider, error)
	List(ctx context.Context) ([]entities.Provider, error)
	ListOnline(ctx context.Context) ([]entities.Provider, error)
	// ListStale returns online providers whose last heartbeat is older than before.
	ListStale(ctx context.Context, before time.Time) ([]entities.Provider, error)
	// Update persists everything except TotalEarnings, which only escrow release changes.
	Update(ctx context.Context, provider *entities.Provider) error
}

// EscrowRepository moves funds between users, escrow and providers atomically.
type EscrowRepository interface {
	// Lock debits amount from the user and records a LOCKED escrow for the job.
	Lock(ctx context.Context, jobID, userID string, amount float64) (*entities.EscrowTransaction, error)
	// Release pays a LOCKED escrow to the provider, keeping feePercent for the platform.
	Release(ctx context.Context, jobID, providerID string, feePercent float64) (*entities.EscrowTransaction, error)
	// Refund returns a LOCKED escrow to its user.
	Refund(ctx context.Context, jobID string) (*entities.EscrowTransaction, error)
	GetByJobID(ctx context.Context, jobID string) (*entities.EscrowTransaction, error)
	SetTxHash(ctx context.Context, id, hash string) error
	SumReleasedByProvider(ctx context.Context, providerID string) (float64, error)
}

// Set bundles the repositories the use cases depend on.
type Set struct {
	Users     UserRepository
	Jobs      JobRepository
	Providers ProviderRepository
	Escrow    EscrowRepository
}

// Fee returns the platform share of amount for the given percentage.
func Fee(amount, feePercent float64) float64 {
	return amount * feePercent / 100
}

package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qubix-server/entities"

	"github.com/google/uuid"
)

// MemoryStore keeps every entity in process memory behind one lock. It backs
// the degraded mode used when no database is reachable, and the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]entities.User
	jobs      map[string]entities.Job
	providers map[string]entities.Provider
	escrows   map[string]entities.EscrowTransaction // jobID -> escrow
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]entities.User),
		jobs:      make(map[string]entities.Job),
		providers: make(map[string]entities.Provider),
		escrows:   make(map[string]entities.EscrowTransaction),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewMemorySet returns repositories sharing a fresh MemoryStore.
func NewMemorySet() *Set {
	s := NewMemoryStore()
	return &Set{
		Users:     memoryUsers{s},
		Jobs:      memoryJobs{s},
		Providers: memoryProviders{s},
		Escrow:    memoryEscrow{s},
	}
}

// ============= Users =============

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(_ context.Context, user *entities.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return fmt.Errorf("create user: %w", entities.ErrAlreadyExists)
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = entities.RoleConsumer
	}
	now := r.s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.users[user.ID] = *user
	return nil
}

func (r memoryUsers) GetByID(_ context.Context, id string) (*entities.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &u, nil
}

func (r memoryUsers) GetByEmail(_ context.Context, email string) (*entities.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, entities.ErrNotFound
}

func (r memoryUsers) List(_ context.Context) ([]entities.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]entities.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryUsers) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.users)), nil
}

// ============= Jobs =============

type memoryJobs struct{ s *MemoryStore }

func (r memoryJobs) Create(_ context.Context, job *entities.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return fmt.Errorf("create job: %w", entities.ErrAlreadyExists)
	}
	if job.Status == "" {
		job.Status = entities.JobPending
	}
	now := r.s.now()
	// keep creation order stable for jobs created within the same instant
	for _, j := range r.s.jobs {
		if !now.After(j.CreatedAt) {
			now = j.CreatedAt.Add(time.Nanosecond)
		}
	}
	job.CreatedAt, job.UpdatedAt = now, now
	r.s.jobs[job.ID] = *job
	return nil
}

func (r memoryJobs) GetByID(_ context.Context, id string) (*entities.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &j, nil
}

func (r memoryJobs) GetByUserID(_ context.Context, userID string) ([]entities.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []entities.Job{}
	for _, j := range r.s.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (r memoryJobs) ListByStatus(_ context.Context, statuses ...string) ([]entities.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := []entities.Job{}
	for _, j := range r.s.jobs {
		if len(want) == 0 || want[j.Status] {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r memoryJobs) Update(_ context.Context, job *entities.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.ID]; !ok {
		return entities.ErrNotFound
	}
	job.UpdatedAt = r.s.now()
	r.s.jobs[job.ID] = *job
	return nil
}

func (r memoryJobs) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]int64)
	for _, j := range r.s.jobs {
		out[j.Status]++
	}
	return out, nil
}

// ============= Providers =============

type memoryProviders struct{ s *MemoryStore }

func (r memoryProviders) Create(_ context.Context, p *entities.Provider) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.providers {
		if existing.WorkerID == p.WorkerID {
			return fmt.Errorf("create provider: %w", entities.ErrAlreadyExists)
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.providers[p.ID] = *p
	return nil
}

func (r memoryProviders) GetByID(_ context.Context, id string) (*entities.Provider, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.providers[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &p, nil
}

func (r memoryProviders) GetByWorkerID(_ context.Context, workerID string) (*entities.Provider, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.providers {
		if p.WorkerID == workerID {
			return &p, nil
		}
	}
	return nil, entities.ErrNotFound
}

func (r memoryProviders) list(keep func(entities.Provider) bool, newestFirst bool) []entities.Provider {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []entities.Provider{}
	for _, p := range r.s.providers {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r memoryProviders) List(_ context.Context) ([]entities.Provider, error) {
	return r.list(func(entities.Provider) bool { return true }, true), nil
}

func (r memoryProviders) ListOnline(_ context.Context) ([]entities.Provider, error) {
	return r.list(func(p entities.Provider) bool { return p.IsOnline }, false), nil
}

func (r memoryProviders) ListStale(_ context.Context, before time.Time) ([]entities.Provider, error) {
	return r.list(func(p entities.Provider) bool {
		return p.IsOnline && (p.LastHeartbeat == nil || p.LastHeartbeat.Before(before))
	}, false), nil
}

func (r memoryProviders) Update(_ context.Context, p *entities.Provider) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.providers[p.ID]
	if !ok {
		return entities.ErrNotFound
	}
	p.TotalEarnings = cur.TotalEarnings
	p.UpdatedAt = r.s.now()
	r.s.providers[p.ID] = *p
	return nil
}

// ============= Escrow =============

type memoryEscrow struct{ s *MemoryStore }

func (r memoryEscrow) Lock(_ context.Context, jobID, userID string, amount float64) (*entities.EscrowTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: escrow amount must be positive", entities.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[userID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	if _, exists := r.s.escrows[jobID]; exists {
		return nil, entities.ErrAlreadyExists
	}
	if user.Balance < amount {
		return nil, entities.ErrInsufficientBalance
	}
	now := r.s.now()
	user.Balance -= amount
	user.UpdatedAt = now
	r.s.users[userID] = user

	e := entities.EscrowTransaction{
		ID:        uuid.New().String(),
		JobID:     jobID,
		UserID:    userID,
		Amount:    amount,
		Status:    entities.EscrowLocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.escrows[jobID] = e
	return &e, nil
}

func (r memoryEscrow) locked(jobID string) (entities.EscrowTransaction, error) {
	e, ok := r.s.escrows[jobID]
	if !ok {
		return e, entities.ErrNotFound
	}
	if e.Status != entities.EscrowLocked {
		return e, fmt.Errorf("%w: escrow for job %s is %s", entities.ErrInvalidTransition, jobID, e.Status)
	}
	return e, nil
}

func (r memoryEscrow) Release(_ context.Context, jobID, providerID string, feePercent float64) (*entities.EscrowTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, err := r.locked(jobID)
	if err != nil {
		return nil, err
	}
	p, ok := r.s.providers[providerID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	now := r.s.now()
	fee := Fee(e.Amount, feePercent)
	payout := e.Amount - fee
	p.TotalEarnings += payout
	p.UpdatedAt = now
	r.s.providers[providerID] = p
	if u, ok := r.s.users[p.UserID]; ok {
		u.Balance += payout
		u.UpdatedAt = now
		r.s.users[u.ID] = u
	}

	e.Status = entities.EscrowReleased
	e.ProviderID = providerID
	e.Fee = fee
	e.UpdatedAt = now
	r.s.escrows[jobID] = e
	return &e, nil
}

func (r memoryEscrow) Refund(_ context.Context, jobID string) (*entities.EscrowTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, err := r.locked(jobID)
	if err != nil {
		return nil, err
	}
	now := r.s.now()
	if u, ok := r.s.users[e.UserID]; ok {
		u.Balance += e.Amount
		u.UpdatedAt = now
		r.s.users[u.ID] = u
	}
	e.Status = entities.EscrowRefunded
	e.UpdatedAt = now
	r.s.escrows[jobID] = e
	return &e, nil
}

func (r memoryEscrow) GetByJobID(_ context.Context, jobID string) (*entities.EscrowTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.escrows[jobID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &e, nil
}

func (r memoryEscrow) SetTxHash(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for jobID, e := range r.s.escrows {
		if e.ID == id {
			e.TxHash = hash
			r.s.escrows[jobID] = e
			return nil
		}
	}
	return entities.ErrNotFound
}

func (r memoryEscrow) SumReleasedByProvider(_ context.Context, providerID string) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var sum float64
	for _, e := range r.s.escrows {
		if e.ProviderID == providerID && e.Status == entities.EscrowReleased {
			sum += e.Amount - e.Fee
		}
	}
	return sum, nil
}

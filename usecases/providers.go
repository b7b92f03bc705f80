package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qubix-server/cache"
	"qubix-server/entities"
	"qubix-server/repositories"
	"qubix-server/ws"
)

type QuickRegisterInput struct {
	WorkerID     string
	QubicAddress string
	UserID       string
	GPUModel     string
	GPUVramGB    float64
	PricePerHour float64
}

type ProviderEarnings struct {
	ProviderID    string  `json:"providerId"`
	TotalEarnings float64 `json:"totalEarnings"`
	Released      float64 `json:"releasedEscrow"`
	CompletedJobs int     `json:"completedJobs"`
	CurrentJobID  string  `json:"currentJobId,omitempty"`
}

type ProviderUseCase struct {
	repos    *repositories.Set
	metrics  *cache.MetricsCache
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	mu sync.Mutex // serialises read-modify-write of provider rows
}

// errNoChange lets a Mutate callback skip the write.
var errNoChange = errors.New("no change")

func NewProviderUseCase(repos *repositories.Set, metrics *cache.MetricsCache, notifier Notifier, log *slog.Logger) *ProviderUseCase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = cache.NewMetricsCache(0, 5, 2)
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProviderUseCase{
		repos:    repos,
		metrics:  metrics,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// QuickRegister creates a provider for a worker id, or refreshes the
// existing one. The bool reports whether it was created.
func (uc *ProviderUseCase) QuickRegister(ctx context.Context, in QuickRegisterInput) (*entities.Provider, bool, error) {
	workerID := strings.TrimSpace(in.WorkerID)
	if workerID == "" {
		return nil, false, entities.Invalid("workerId is required")
	}
	if in.GPUVramGB < 0 || in.PricePerHour < 0 {
		return nil, false, entities.Invalid("GPU memory and price must not be negative")
	}
	model := strings.TrimSpace(in.GPUModel)
	if model == "" {
		model = entities.UnknownGPUModel
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	existing, err := uc.repos.Providers.GetByWorkerID(ctx, workerID)
	switch {
	case err == nil:
		if existing.UserID != "" && in.UserID != existing.UserID {
			return nil, false, fmt.Errorf("re-register worker %s: %w", workerID, entities.ErrForbidden)
		}
		if in.QubicAddress != "" {
			existing.QubicAddress = in.QubicAddress
		}
		if in.UserID != "" {
			existing.UserID = in.UserID
		}
		if model != entities.UnknownGPUModel || existing.GPUModel == "" {
			existing.GPUModel = model
		}
		if in.GPUVramGB > 0 {
			existing.GPUVramGB = in.GPUVramGB
		}
		if in.PricePerHour > 0 {
			existing.PricePerHour = in.PricePerHour
		}
		existing.IsActive = true
		if err := uc.repos.Providers.Update(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("refresh provider: %w", err)
		}
		uc.log.Info("provider re-registered", "provider_id", existing.ID, "worker_id", workerID)
		return existing, false, nil
	case !errors.Is(err, entities.ErrNotFound):
		return nil, false, fmt.Errorf("lookup provider: %w", err)
	}

	p := &entities.Provider{
		WorkerID:     workerID,
		UserID:       in.UserID,
		QubicAddress: in.QubicAddress,
		GPUModel:     model,
		GPUVramGB:    in.GPUVramGB,
		PricePerHour: in.PricePerHour,
		IsActive:     true,
	}
	if err := uc.repos.Providers.Create(ctx, p); err != nil {
		if errors.Is(err, entities.ErrAlreadyExists) {
			// lost a race with a concurrent registration of the same worker
			again, gerr := uc.repos.Providers.GetByWorkerID(ctx, workerID)
			if gerr == nil {
				return again, false, nil
			}
		}
		return nil, false, fmt.Errorf("create provider: %w", err)
	}
	uc.log.Info("provider registered", "provider_id", p.ID, "worker_id", workerID, "gpu", model)
	uc.notifier.BroadcastTo(ws.RoleDashboard, ws.TypeProviderStatus, p)
	return p, true, nil
}

func (uc *ProviderUseCase) List(ctx context.Context) ([]entities.Provider, error) {
	return uc.repos.Providers.List(ctx)
}

// Mutate loads a provider by id or worker id, applies fn and saves it while
// holding the provider lock.
func (uc *ProviderUseCase) Mutate(ctx context.Context, ref string, fn func(p *entities.Provider) error) (*entities.Provider, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	p, err := uc.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		if errors.Is(err, errNoChange) {
			return p, nil
		}
		return nil, err
	}
	if err := uc.repos.Providers.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update provider %s: %w", p.ID, err)
	}
	return p, nil
}

// Get looks a provider up by id, falling back to its worker id.
func (uc *ProviderUseCase) Get(ctx context.Context, ref string) (*entities.Provider, error) {
	if ref == "" {
		return nil, entities.Invalid("provider id is required")
	}
	p, err := uc.repos.Providers.GetByID(ctx, ref)
	if errors.Is(err, entities.ErrNotFound) {
		return uc.repos.Providers.GetByWorkerID(ctx, ref)
	}
	return p, err
}

// Heartbeat marks the provider online and stores its GPU sample.
func (uc *ProviderUseCase) Heartbeat(ctx context.Context, ref string, m entities.GPUMetrics) (*entities.Provider, error) {
	now := uc.now()
	cameOnline := false
	p, err := uc.Mutate(ctx, ref, func(p *entities.Provider) error {
		cameOnline = !p.IsOnline
		p.IsOnline = true
		p.LastHeartbeat = &now
		p.GPUUtil = m.Utilization
		p.GPUTemp = m.Temperature
		p.GPUMemUsedGB = m.MemoryUsedGB
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cameOnline {
		uc.log.Info("provider online", "provider_id", p.ID, "worker_id", p.WorkerID)
		uc.notifier.BroadcastTo(ws.RoleDashboard, ws.TypeProviderStatus, p)
	}
	if uc.metrics.Add(p.ID, m, now) {
		uc.notifier.BroadcastTo(ws.RoleDashboard, ws.TypeGPUMetrics, map[string]interface{}{
			"providerId": p.ID,
			"metrics":    m,
		})
	}
	return p, nil
}

// MarkOffline flags the provider offline unless a heartbeat arrived after
// cutoff, and drops its cached metrics. It returns the provider as stored.
func (uc *ProviderUseCase) MarkOffline(ctx context.Context, id string, cutoff time.Time) (*entities.Provider, bool, error) {
	changed := false
	p, err := uc.Mutate(ctx, id, func(p *entities.Provider) error {
		if !p.IsOnline || (p.LastHeartbeat != nil && !p.LastHeartbeat.Before(cutoff)) {
			return errNoChange
		}
		p.IsOnline = false
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		uc.metrics.Clear(p.ID)
		uc.log.Warn("provider offline", "provider_id", p.ID, "worker_id", p.WorkerID)
		uc.notifier.BroadcastTo(ws.RoleDashboard, ws.TypeProviderStatus, p)
	}
	return p, changed, nil
}

// SetActive toggles whether the provider accepts new jobs.
func (uc *ProviderUseCase) SetActive(ctx context.Context, ref string, active bool) (*entities.Provider, error) {
	p, err := uc.Mutate(ctx, ref, func(p *entities.Provider) error {
		p.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.notifier.BroadcastTo(ws.RoleDashboard, ws.TypeProviderStatus, p)
	return p, nil
}

func (uc *ProviderUseCase) Earnings(ctx context.Context, ref string) (*ProviderEarnings, error) {
	p, err := uc.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	released, err := uc.repos.Escrow.SumReleasedByProvider(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("sum released escrow: %w", err)
	}
	completed, err := uc.repos.Jobs.ListByStatus(ctx, entities.JobCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs: %w", err)
	}
	count := 0
	for _, j := range completed {
		if j.ProviderID == p.ID {
			count++
		}
	}
	return &ProviderEarnings{
		ProviderID:    p.ID,
		TotalEarnings: p.TotalEarnings,
		Released:      released,
		CompletedJobs: count,
		CurrentJobID:  p.CurrentJobID,
	}, nil
}

type ProviderMetrics struct {
	ProviderID string               `json:"providerId"`
	Summary    cache.Summary        `json:"summary"`
	Samples    []cache.MetricSample `json:"samples"`
}

// Metrics returns the recent GPU samples held for a provider.
func (uc *ProviderUseCase) Metrics(ctx context.Context, ref string) (*ProviderMetrics, error) {
	p, err := uc.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &ProviderMetrics{
		ProviderID: p.ID,
		Summary:    uc.metrics.Summary(p.ID),
		Samples:    uc.metrics.Recent(p.ID),
	}, nil
}

// CacheStats exposes the metrics cache counters for health reporting.
func (uc *ProviderUseCase) CacheStats() map[string]interface{} {
	return uc.metrics.GetCacheStats()
}

package services

import (
	"context"
	"log/slog"
	"time"

	"qubix-server/entities"
	"qubix-server/repositories"
)

// OfflineMarker flips a stale provider offline.
type OfflineMarker interface {
	MarkOffline(ctx context.Context, id string, cutoff time.Time) (*entities.Provider, bool, error)
}

// Requeuer returns a job to the queue.
type Requeuer interface {
	Requeue(ctx context.Context, id string) (*entities.Job, error)
}

// HeartbeatService marks providers offline when they stop reporting and
// puts their running job back in the queue.
type HeartbeatService struct {
	providers repositories.ProviderRepository
	marker    OfflineMarker
	jobs      Requeuer
	timeout   time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger
	run       runner
}

func NewHeartbeatService(providers repositories.ProviderRepository, marker OfflineMarker, jobs Requeuer, timeout, interval time.Duration, log *slog.Logger) *HeartbeatService {
	if log == nil {
		log = slog.Default()
	}
	return &HeartbeatService{
		providers: providers,
		marker:    marker,
		jobs:      jobs,
		timeout:   timeout,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Sweep runs one pass and returns the number of providers taken offline.
func (s *HeartbeatService) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.timeout)
	stale, err := s.providers.ListStale(ctx, cutoff)
	if err != nil {
		s.log.Error("list stale providers", "error", err)
		return 0
	}

	offline := 0
	for _, candidate := range stale {
		p, changed, err := s.marker.MarkOffline(ctx, candidate.ID, cutoff)
		if err != nil {
			s.log.Error("mark provider offline", "provider_id", candidate.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		offline++
		if p.CurrentJobID == "" {
			continue
		}
		if _, err := s.jobs.Requeue(ctx, p.CurrentJobID); err != nil {
			s.log.Warn("requeue job of offline provider", "provider_id", p.ID, "job_id", p.CurrentJobID, "error", err)
		}
	}
	return offline
}

func (s *HeartbeatService) Start(ctx context.Context) {
	s.run.start(ctx, s.interval, nil, func(ctx context.Context) { s.Sweep(ctx) })
	s.log.Info("heartbeat monitor started", "timeout", s.timeout.String(), "interval", s.interval.String())
}

func (s *HeartbeatService) Stop() {
	s.run.stop()
}

package usecases

import (
	"context"
	"fmt"

	"qubix-server/entities"
	"qubix-server/repositories"
)

type JobStats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

type ProviderStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Online int `json:"online"`
	Busy   int `json:"busy"`
}

type NetworkStats struct {
	TotalComputors   int     `json:"totalComputors"`
	AvailableCompute float64 `json:"availableCompute"` // GB of VRAM on online providers
	AveragePrice     float64 `json:"averagePrice"`
	TotalEarnings    float64 `json:"totalEarnings"`
	Users            int64   `json:"users"`
}

type Stats struct {
	Jobs      JobStats      `json:"jobs"`
	Providers ProviderStats `json:"providers"`
	Network   NetworkStats  `json:"network"`
}

type StatsUseCase struct {
	repos *repositories.Set
}

func NewStatsUseCase(repos *repositories.Set) *StatsUseCase {
	return &StatsUseCase{repos: repos}
}

// Compute derives marketplace totals from the repositories.
func (uc *StatsUseCase) Compute(ctx context.Context) (*Stats, error) {
	counts, err := uc.repos.Jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	providers, err := uc.repos.Providers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	users, err := uc.repos.Users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	var s Stats
	for status, n := range counts {
		s.Jobs.Total += n
		switch status {
		case entities.JobPending:
			s.Jobs.Pending += n
			s.Jobs.Active += n
		case entities.JobAssigned, entities.JobRunning:
			s.Jobs.Active += n
		case entities.JobCompleted:
			s.Jobs.Completed += n
		case entities.JobFailed:
			s.Jobs.Failed += n
		case entities.JobCancelled:
			s.Jobs.Cancelled += n
		}
	}

	var priceSum float64
	for _, p := range providers {
		s.Providers.Total++
		s.Network.TotalEarnings += p.TotalEarnings
		if p.IsActive {
			s.Providers.Active++
		}
		if p.CurrentJobID != "" {
			s.Providers.Busy++
		}
		if !p.IsOnline {
			continue
		}
		s.Providers.Online++
		s.Network.AvailableCompute += p.GPUVramGB
		priceSum += p.PricePerHour
	}
	s.Network.TotalComputors = s.Providers.Online
	if s.Providers.Online > 0 {
		s.Network.AveragePrice = priceSum / float64(s.Providers.Online)
	}
	s.Network.Users = users
	return &s, nil
}

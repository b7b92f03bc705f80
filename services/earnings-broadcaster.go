package services

import (
	"context"
	"log/slog"
	"time"

	"qubix-server/repositories"
	"qubix-server/usecases"
	"qubix-server/ws"
)

// Connections is the part of the websocket manager the broadcaster needs.
type Connections interface {
	IsConnected(id string) bool
	SendTo(id, msgType string, data interface{}) error
	BroadcastTo(role, msgType string, data interface{}) int
}

type EarningsUpdate struct {
	ProviderID    string  `json:"providerId"`
	TotalEarnings float64 `json:"totalEarnings"`
	CurrentJobID  string  `json:"currentJobId,omitempty"`
	Progress      int     `json:"progress"`
	IsOnline      bool    `json:"isOnline"`
}

type NetworkEarnings struct {
	TotalEarnings   float64 `json:"totalEarnings"`
	OnlineProviders int     `json:"onlineProviders"`
	ActiveJobs      int64   `json:"activeJobs"`
	CompletedJobs   int64   `json:"completedJobs"`
}

// EarningsBroadcaster periodically pushes each connected provider its
// earnings and sends a network summary to dashboards.
type EarningsBroadcaster struct {
	repos    *repositories.Set
	stats    *usecases.StatsUseCase
	conns    Connections
	interval time.Duration
	log      *slog.Logger
	run      runner
}

func NewEarningsBroadcaster(repos *repositories.Set, stats *usecases.StatsUseCase, conns Connections, interval time.Duration, log *slog.Logger) *EarningsBroadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &EarningsBroadcaster{repos: repos, stats: stats, conns: conns, interval: interval, log: log}
}

// Broadcast runs one pass and returns the number of providers updated.
func (b *EarningsBroadcaster) Broadcast(ctx context.Context) int {
	providers, err := b.repos.Providers.List(ctx)
	if err != nil {
		b.log.Error("list providers for earnings", "error", err)
		return 0
	}

	sent := 0
	for _, p := range providers {
		if !b.conns.IsConnected(p.ID) {
			continue
		}
		update := EarningsUpdate{
			ProviderID:    p.ID,
			TotalEarnings: p.TotalEarnings,
			CurrentJobID:  p.CurrentJobID,
			IsOnline:      p.IsOnline,
		}
		if p.CurrentJobID != "" {
			if j, err := b.repos.Jobs.GetByID(ctx, p.CurrentJobID); err == nil {
				update.Progress = j.Progress
			}
		}
		if err := b.conns.SendTo(p.ID, ws.TypeEarningsUpdate, update); err == nil {
			sent++
		}
	}

	s, err := b.stats.Compute(ctx)
	if err != nil {
		b.log.Error("compute network earnings", "error", err)
		return sent
	}
	b.conns.BroadcastTo(ws.RoleDashboard, ws.TypeNetworkEarnings, NetworkEarnings{
		TotalEarnings:   s.Network.TotalEarnings,
		OnlineProviders: s.Providers.Online,
		ActiveJobs:      s.Jobs.Active,
		CompletedJobs:   s.Jobs.Completed,
	})
	return sent
}

func (b *EarningsBroadcaster) Start(ctx context.Context) {
	b.run.start(ctx, b.interval, nil, func(ctx context.Context) { b.Broadcast(ctx) })
	b.log.Info("earnings broadcaster started", "interval", b.interval.String())
}

func (b *EarningsBroadcaster) Stop() {
	b.run.stop()
}

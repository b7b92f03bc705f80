package services

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"qubix-server/db"
	"qubix-server/qubic"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// QubicStatus is the part of the Qubic client the monitor polls.
type QubicStatus interface {
	Refresh(ctx context.Context) error
	Snapshot() qubic.Status
}

// ConnectionCounter reports websocket connections per role.
type ConnectionCounter interface {
	Count() map[string]int
}

type DatabaseHealth struct {
	Mode      string `json:"mode"` // postgres | memory
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type QubicHealth struct {
	Connected bool   `json:"connected"`
	Tick      int64  `json:"tick"`
	Epoch     int64  `json:"epoch"`
	Status    string `json:"status"`
}

type HealthReport struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Database      DatabaseHealth `json:"database"`
	Qubic         QubicHealth    `json:"qubic"`
	Goroutines    int            `json:"goroutines"`
	WebSockets    map[string]int `json:"websockets"`
	QueueLength   int            `json:"queueLength"`
}

// HealthMonitor periodically checks dependencies and keeps the last report.
type HealthMonitor struct {
	database db.Database // nil in memory mode
	qubic    QubicStatus
	conns    ConnectionCounter
	queue    interface{ Len() int }
	interval time.Duration
	started  time.Time
	now      func() time.Time
	log      *slog.Logger
	run      runner

	mu   sync.RWMutex
	last HealthReport
}

func NewHealthMonitor(database db.Database, q QubicStatus, conns ConnectionCounter, queue interface{ Len() int }, interval time.Duration, log *slog.Logger) *HealthMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &HealthMonitor{
		database: database,
		qubic:    q,
		conns:    conns,
		queue:    queue,
		interval: interval,
		started:  time.Now(),
		now:      time.Now,
		log:      log,
	}
}

// Check runs every probe once and stores the result.
func (h *HealthMonitor) Check(ctx context.Context) HealthReport {
	now := h.now()
	uptime := now.Sub(h.started).Truncate(time.Second)
	r := HealthReport{
		Status:        HealthOK,
		Timestamp:     now.UTC(),
		Uptime:        uptime.String(),
		UptimeSeconds: int64(uptime / time.Second),
		Goroutines:    runtime.NumGoroutine(),
	}

	if h.database == nil {
		r.Database = DatabaseHealth{Mode: "memory", Connected: false}
		r.Status = HealthDegraded
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.database.Ping(pingCtx)
		cancel()
		r.Database = DatabaseHealth{Mode: "postgres", Connected: err == nil}
		if err != nil {
			r.Database.Error = err.Error()
			r.Status = HealthDegraded
		}
	}

	if h.qubic != nil {
		if err := h.qubic.Refresh(ctx); err != nil {
			h.log.Debug("qubic rpc unreachable, using simulated tick", "error", err)
		}
		st := h.qubic.Snapshot()
		r.Qubic = QubicHealth{
			Connected: st.Connected,
			Tick:      st.Network.Tick,
			Epoch:     st.Network.Epoch,
			Status:    st.Network.Status,
		}
	}
	if h.conns != nil {
		r.WebSockets = h.conns.Count()
	}
	if h.queue != nil {
		r.QueueLength = h.queue.Len()
	}

	h.mu.Lock()
	prev := h.last.Status
	h.last = r
	h.mu.Unlock()
	if prev != "" && prev != r.Status {
		h.log.Warn("health status changed", "from", prev, "to", r.Status)
	}
	return r
}

// Last returns the most recent report, running a check if none exists yet.
func (h *HealthMonitor) Last(ctx context.Context) HealthReport {
	h.mu.RLock()
	r := h.last
	h.mu.RUnlock()
	if r.Status == "" {
		return h.Check(ctx)
	}
	return r
}

func (h *HealthMonitor) Start(ctx context.Context) {
	h.Check(ctx)
	h.run.start(ctx, h.interval, nil, func(ctx context.Context) { h.Check(ctx) })
	h.log.Info("health monitor started", "interval", h.interval.String())
}

func (h *HealthMonitor) Stop() {
	h.run.stop()
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"qubix-server/entities"
	"qubix-server/repositories"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("qubix-server/services")

// Assigner performs the job side of a dispatch.
type Assigner interface {
	Assign(ctx context.Context, jobID, providerID string) (*entities.Job, error)
	Get(ctx context.Context, id string) (*entities.Job, error)
	Pending(ctx context.Context) ([]entities.Job, error)
}

// JobQueue is the FIFO of pending job ids plus the dispatcher that hands
// them to idle providers.
type JobQueue struct {
	mu    sync.Mutex
	order []string
	index map[string]struct{}

	assigner  Assigner
	providers repositories.ProviderRepository
	interval  time.Duration
	signal    chan struct{}
	log       *slog.Logger
	run       runner
}

func NewJobQueue(assigner Assigner, providers repositories.ProviderRepository, interval time.Duration, log *slog.Logger) *JobQueue {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &JobQueue{
		index:     make(map[string]struct{}),
		assigner:  assigner,
		providers: providers,
		interval:  interval,
		signal:    make(chan struct{}, 1),
		log:       log,
	}
}

// Enqueue appends a job id unless it is already queued, and wakes the dispatcher.
func (q *JobQueue) Enqueue(jobID string) {
	q.mu.Lock()
	if _, ok := q.index[jobID]; !ok {
		q.index[jobID] = struct{}{}
		q.order = append(q.order, jobID)
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *JobQueue) Remove(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[jobID]; !ok {
		return
	}
	delete(q.index, jobID)
	for i, id := range q.order {
		if id == jobID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Snapshot returns the queued ids, head first.
func (q *JobQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// Restore rebuilds the queue from the PENDING jobs in storage, oldest first.
func (q *JobQueue) Restore(ctx context.Context) (int, error) {
	pending, err := q.assigner.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, j := range pending {
		q.Enqueue(j.ID)
	}
	return len(pending), nil
}

// idleProviders returns available providers, least recently assigned first.
func (q *JobQueue) idleProviders(ctx context.Context) ([]entities.Provider, error) {
	online, err := q.providers.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	idle := online[:0]
	for _, p := range online {
		if p.Available() {
			idle = append(idle, p)
		}
	}
	sort.SliceStable(idle, func(i, j int) bool {
		a, b := idle[i].LastAssigned, idle[j].LastAssigned
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return idle, nil
}

// Dispatch assigns queued jobs to idle providers in order and returns how
// many were assigned.
func (q *JobQueue) Dispatch(ctx context.Context) int {
	if q.Len() == 0 {
		return 0
	}
	ctx, span := tracer.Start(ctx, "jobqueue.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	idle, err := q.idleProviders(ctx)
	if err != nil {
		span.RecordError(err)
		q.log.Error("list providers for dispatch", "error", err)
		return 0
	}
	span.SetAttributes(attribute.Int("queue.length", q.Len()), attribute.Int("providers.idle", len(idle)))

	assigned := 0
	for _, jobID := range q.Snapshot() {
		for len(idle) > 0 {
			provider := idle[0]
			idle = idle[1:]
			_, err := q.assigner.Assign(ctx, jobID, provider.ID)
			if err == nil {
				q.Remove(jobID)
				assigned++
				break
			}
			if !q.stillPending(ctx, jobID) {
				q.Remove(jobID)
				// the provider was never used, give it back
				idle = append([]entities.Provider{provider}, idle...)
				break
			}
			q.log.Debug("provider skipped", "provider_id", provider.ID, "job_id", jobID, "error", err)
		}
		if len(idle) == 0 {
			break
		}
	}
	span.SetAttributes(attribute.Int("jobs.assigned", assigned))
	if assigned > 0 {
		q.log.Info("jobs dispatched", "assigned", assigned, "queued", q.Len())
	}
	return assigned
}

func (q *JobQueue) stillPending(ctx context.Context, jobID string) bool {
	j, err := q.assigner.Get(ctx, jobID)
	if errors.Is(err, entities.ErrNotFound) {
		return false
	}
	if err != nil {
		// keep it queued and retry on the next pass
		return true
	}
	return j.Status == entities.JobPending
}

// Start launches the dispatcher loop.
func (q *JobQueue) Start(ctx context.Context) {
	q.run.start(ctx, q.interval, q.signal, func(ctx context.Context) { q.Dispatch(ctx) })
	q.log.Info("job dispatcher started", "interval", q.interval.String())
}

func (q *JobQueue) Stop() {
	q.run.stop()
}

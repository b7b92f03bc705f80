package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qubix-server/entities"
	"qubix-server/repositories"
	"qubix-server/ws"

	"github.com/google/uuid"
)

type SubmitInput struct {
	UserID    string
	ModelType string
	Budget    float64
	Input     string // raw JSON
}

// JobUseCase owns every job status change. Mutations are serialised so that
// worker reports, the dispatcher and the heartbeat sweep never interleave.
type JobUseCase struct {
	repos     *repositories.Set
	providers *ProviderUseCase
	escrow    *EscrowUseCase
	notifier  Notifier
	queue     Queue
	log       *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewJobUseCase(repos *repositories.Set, providers *ProviderUseCase, escrow *EscrowUseCase, notifier Notifier, log *slog.Logger) *JobUseCase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &JobUseCase{
		repos:     repos,
		providers: providers,
		escrow:    escrow,
		notifier:  notifier,
		queue:     nopQueue{},
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AttachQueue connects the dispatcher queue; until then submitted jobs stay PENDING.
func (uc *JobUseCase) AttachQueue(q Queue) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.queue = q
}

// Submit creates a PENDING job, locking its budget in escrow when the
// submitter is a known user.
func (uc *JobUseCase) Submit(ctx context.Context, in SubmitInput) (*entities.Job, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = entities.AnonymousUserID
	}
	modelType := strings.TrimSpace(in.ModelType)
	if modelType == "" {
		modelType = entities.DefaultModelType
	}
	if in.Budget < 0 {
		return nil, entities.Invalid("Budget must not be negative")
	}

	job := &entities.Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		ModelType: modelType,
		Status:    entities.JobPending,
		Budget:    in.Budget,
		Input:     in.Input,
	}

	escrowed := false
	if in.Budget > 0 && userID != entities.AnonymousUserID {
		if _, err := uc.repos.Users.GetByID(ctx, userID); err != nil {
			return nil, fmt.Errorf("submit job for %s: %w", userID, err)
		}
		if _, err := uc.escrow.Lock(ctx, job.ID, userID, in.Budget); err != nil {
			return nil, err
		}
		escrowed = true
	}

	if err := uc.repos.Jobs.Create(ctx, job); err != nil {
		if escrowed {
			if _, rerr := uc.escrow.Refund(ctx, job.ID); rerr != nil {
				uc.log.Error("refund after failed job create", "job_id", job.ID, "error", rerr)
			}
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	uc.log.Info("job submitted", "job_id", job.ID, "user_id", userID, "model", modelType, "budget", in.Budget)
	uc.currentQueue().Enqueue(job.ID)
	uc.publish(ws.TypeJobCreated, job)
	return job, nil
}

func (uc *JobUseCase) currentQueue() Queue {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.queue
}

func (uc *JobUseCase) Get(ctx context.Context, id string) (*entities.Job, error) {
	if id == "" {
		return nil, entities.Invalid("job id is required")
	}
	return uc.repos.Jobs.GetByID(ctx, id)
}

func (uc *JobUseCase) ListByUser(ctx context.Context, userID string) ([]entities.Job, error) {
	if userID == "" {
		return nil, entities.Invalid("user id is required")
	}
	return uc.repos.Jobs.GetByUserID(ctx, userID)
}

// Pending returns queued jobs oldest first.
func (uc *JobUseCase) Pending(ctx context.Context) ([]entities.Job, error) {
	return uc.repos.Jobs.ListByStatus(ctx, entities.JobPending)
}

// Assign hands a PENDING job to an available provider.
func (uc *JobUseCase) Assign(ctx context.Context, jobID, providerID string) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != entities.JobPending {
		return nil, fmt.Errorf("%w: job %s is %s", entities.ErrInvalidTransition, jobID, job.Status)
	}
	now := uc.now()
	if err := job.Transition(entities.JobAssigned, now); err != nil {
		return nil, err
	}
	provider, err := uc.providers.Mutate(ctx, providerID, func(p *entities.Provider) error {
		if !p.Available() {
			return fmt.Errorf("%w: provider %s is not available", entities.ErrInvalidTransition, providerID)
		}
		p.CurrentJobID = job.ID
		p.LastAssigned = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	job.ProviderID = provider.ID
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		uc.freeProvider(ctx, job)
		return nil, fmt.Errorf("assign job: %w", err)
	}

	if err := uc.notifier.SendTo(provider.ID, ws.TypeJobAssigned, job); err != nil {
		uc.log.Warn("provider not reachable over websocket", "provider_id", provider.ID, "job_id", job.ID, "error", err)
	}
	uc.publish(ws.TypeJobProgress, job)
	uc.log.Info("job assigned", "job_id", job.ID, "provider_id", provider.ID)
	return job, nil
}

// UpdateProgress records worker progress. The first report starts the job,
// progress never goes backwards, and 100 completes it.
func (uc *JobUseCase) UpdateProgress(ctx context.Context, id string, progress int) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", entities.ErrInvalidTransition, id, job.Status)
	}
	now := uc.now()
	if job.Status != entities.JobRunning {
		wasPending := job.Status == entities.JobPending
		if err := job.Transition(entities.JobRunning, now); err != nil {
			return nil, err
		}
		if wasPending {
			uc.queue.Remove(job.ID)
		}
	}

	progress = entities.ClampProgress(progress)
	if progress >= 100 {
		return uc.completeLocked(ctx, job, job.Result, now)
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = now
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	uc.publish(ws.TypeJobProgress, job)
	return job, nil
}

// Complete stores the result, pays the provider and frees it.
func (uc *JobUseCase) Complete(ctx context.Context, id, result string) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.completeLocked(ctx, job, result, uc.now())
}

func (uc *JobUseCase) completeLocked(ctx context.Context, job *entities.Job, result string, now time.Time) (*entities.Job, error) {
	if err := job.Transition(entities.JobCompleted, now); err != nil {
		return nil, err
	}
	job.Result = result
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	if job.ProviderID != "" {
		if _, err := uc.escrow.Release(ctx, job.ID, job.ProviderID); err != nil {
			uc.log.Error("escrow release failed", "job_id", job.ID, "error", err)
		}
	} else if _, err := uc.escrow.Refund(ctx, job.ID); err != nil {
		uc.log.Error("escrow refund failed", "job_id", job.ID, "error", err)
	}
	uc.freeProvider(ctx, job)
	uc.log.Info("job completed", "job_id", job.ID, "provider_id", job.ProviderID)
	uc.publish(ws.TypeJobCompleted, job)
	return job, nil
}

// Fail marks the job failed and refunds its escrow.
func (uc *JobUseCase) Fail(ctx context.Context, id, reason string) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wasPending := job.Status == entities.JobPending
	if err := job.Transition(entities.JobFailed, uc.now()); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "job failed"
	}
	job.Error = reason
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if wasPending {
		uc.queue.Remove(job.ID)
	}
	if _, err := uc.escrow.Refund(ctx, job.ID); err != nil {
		uc.log.Error("escrow refund failed", "job_id", job.ID, "error", err)
	}
	uc.freeProvider(ctx, job)
	uc.log.Warn("job failed", "job_id", job.ID, "reason", reason)
	uc.publish(ws.TypeJobFailed, job)
	return job, nil
}

// Cancel lets the owner abort a job that has not finished.
func (uc *JobUseCase) Cancel(ctx context.Context, id, userID string) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, fmt.Errorf("cancel job %s: %w", id, entities.ErrForbidden)
	}
	providerID := job.ProviderID
	if err := job.Transition(entities.JobCancelled, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	uc.queue.Remove(job.ID)
	if _, err := uc.escrow.Refund(ctx, job.ID); err != nil {
		uc.log.Error("escrow refund failed", "job_id", job.ID, "error", err)
	}
	uc.freeProvider(ctx, job)
	if providerID != "" {
		_ = uc.notifier.SendTo(providerID, ws.TypeJobCancelled, job)
	}
	uc.publish(ws.TypeJobCancelled, job)
	return job, nil
}

// Requeue puts an ASSIGNED or RUNNING job back in the queue, e.g. when its
// provider stops sending heartbeats.
func (uc *JobUseCase) Requeue(ctx context.Context, id string) (*entities.Job, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	job, err := uc.repos.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == entities.JobPending {
		return nil, fmt.Errorf("%w: job %s already pending", entities.ErrInvalidTransition, id)
	}
	previous := *job
	if err := job.Transition(entities.JobPending, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.repos.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	uc.freeProvider(ctx, &previous)
	uc.queue.Enqueue(job.ID)
	uc.log.Info("job requeued", "job_id", job.ID, "previous_provider", previous.ProviderID)
	uc.publish(ws.TypeJobProgress, job)
	return job, nil
}

// freeProvider clears the provider's current job if it still points at job.
func (uc *JobUseCase) freeProvider(ctx context.Context, job *entities.Job) {
	if job.ProviderID == "" {
		return
	}
	_, err := uc.providers.Mutate(ctx, job.ProviderID, func(p *entities.Provider) error {
		if p.CurrentJobID != job.ID {
			return errNoChange
		}
		p.CurrentJobID = ""
		return nil
	})
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		uc.log.Error("free provider", "provider_id", job.ProviderID, "error", err)
	}
}

// publish tells the job owner and every dashboard about a job change.
func (uc *JobUseCase) publish(msgType string, job *entities.Job) {
	if job.UserID != entities.AnonymousUserID {
		_ = uc.notifier.SendTo(job.UserID, msgType, job)
	}
	uc.notifier.BroadcastTo(ws.RoleDashboard, msgType, job)
}

package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qubix-server/entities"
	"qubix-server/repositories"
	"qubix-server/ws"
)

// EscrowUseCase settles job budgets and mirrors every move as a Qubic transfer.
type EscrowUseCase struct {
	repos           *repositories.Set
	ledger          Ledger
	notifier        Notifier
	platformAddress string
	feePercent      float64
	log             *slog.Logger
}

func NewEscrowUseCase(repos *repositories.Set, ledger Ledger, notifier Notifier, platformAddress string, feePercent float64, log *slog.Logger) *EscrowUseCase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	if platformAddress == "" {
		platformAddress = "QUBIXPLATFORM"
	}
	return &EscrowUseCase{
		repos:           repos,
		ledger:          ledger,
		notifier:        notifier,
		platformAddress: platformAddress,
		feePercent:      feePercent,
		log:             log,
	}
}

// Lock moves amount from the user's balance into escrow for the job.
func (uc *EscrowUseCase) Lock(ctx context.Context, jobID, userID string, amount float64) (*entities.EscrowTransaction, error) {
	e, err := uc.repos.Escrow.Lock(ctx, jobID, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("lock escrow for job %s: %w", jobID, err)
	}
	from := userID
	if u, err := uc.repos.Users.GetByID(ctx, userID); err == nil && u.QubicAddress != "" {
		from = u.QubicAddress
	}
	uc.record(ctx, e, from, uc.platformAddress, e.Amount)
	uc.notify(e)
	return e, nil
}

// Release pays the escrow of a job to its provider, keeping the platform fee.
// Jobs without escrow are a no-op and return nil, nil.
func (uc *EscrowUseCase) Release(ctx context.Context, jobID, providerID string) (*entities.EscrowTransaction, error) {
	e, err := uc.repos.Escrow.Release(ctx, jobID, providerID, uc.feePercent)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release escrow for job %s: %w", jobID, err)
	}
	to := providerID
	if p, err := uc.repos.Providers.GetByID(ctx, providerID); err == nil && p.QubicAddress != "" {
		to = p.QubicAddress
	}
	uc.record(ctx, e, uc.platformAddress, to, e.Amount-e.Fee)
	uc.notify(e)
	uc.log.Info("escrow released", "job_id", jobID, "provider_id", providerID, "amount", e.Amount, "fee", e.Fee)
	return e, nil
}

// Refund returns a locked escrow to its user. Jobs without escrow return nil, nil.
func (uc *EscrowUseCase) Refund(ctx context.Context, jobID string) (*entities.EscrowTransaction, error) {
	e, err := uc.repos.Escrow.Refund(ctx, jobID)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refund escrow for job %s: %w", jobID, err)
	}
	to := e.UserID
	if u, err := uc.repos.Users.GetByID(ctx, e.UserID); err == nil && u.QubicAddress != "" {
		to = u.QubicAddress
	}
	uc.record(ctx, e, uc.platformAddress, to, e.Amount)
	uc.notify(e)
	return e, nil
}

func (uc *EscrowUseCase) Get(ctx context.Context, jobID string) (*entities.EscrowTransaction, error) {
	return uc.repos.Escrow.GetByJobID(ctx, jobID)
}

// record stores the simulated ledger hash; failures there never undo the settlement.
func (uc *EscrowUseCase) record(ctx context.Context, e *entities.EscrowTransaction, from, to string, amount float64) {
	if uc.ledger == nil || amount <= 0 {
		return
	}
	hash, err := uc.ledger.SimulateTransfer(ctx, from, to, amount)
	if err != nil {
		uc.log.Warn("qubic transfer not recorded", "escrow_id", e.ID, "error", err)
		return
	}
	if err := uc.repos.Escrow.SetTxHash(ctx, e.ID, hash); err != nil {
		uc.log.Warn("store tx hash", "escrow_id", e.ID, "error", err)
		return
	}
	e.TxHash = hash
}

func (uc *EscrowUseCase) notify(e *entities.EscrowTransaction) {
	_ = uc.notifier.SendTo(e.UserID, ws.TypeEscrowUpdate, e)
}

package repositories

import (
	"context"
	"fmt"

	"qubix-server/db"
	"qubix-server/entities"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type escrowPgRepository struct {
	db db.Database
}

func NewEscrowPgRepository(database db.Database) EscrowRepository {
	return &escrowPgRepository{db: database}
}

func (r *escrowPgRepository) Lock(ctx context.Context, jobID, userID string, amount float64) (*entities.EscrowTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: escrow amount must be positive", entities.ErrValidation)
	}
	var escrow *entities.EscrowTransaction
	err := r.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user entities.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&user).Error; err != nil {
			return mapGormErr(err)
		}
		if user.Balance < amount {
			return entities.ErrInsufficientBalance
		}
		if err := tx.Model(&user).Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
			return err
		}
		escrow = &entities.EscrowTransaction{JobID: jobID, UserID: userID, Amount: amount, Status: entities.EscrowLocked}
		return mapGormErr(tx.Create(escrow).Error)
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

func (r *escrowPgRepository) lockedEscrow(tx *gorm.DB, jobID string) (*entities.EscrowTransaction, error) {
	var escrow entities.EscrowTransaction
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("job_id = ?", jobID).First(&escrow).Error; err != nil {
		return nil, mapGormErr(err)
	}
	if escrow.Status != entities.EscrowLocked {
		return nil, fmt.Errorf("%w: escrow for job %s is %s", entities.ErrInvalidTransition, jobID, escrow.Status)
	}
	return &escrow, nil
}

func (r *escrowPgRepository) Release(ctx context.Context, jobID, providerID string, feePercent float64) (*entities.EscrowTransaction, error) {
	var escrow *entities.EscrowTransaction
	err := r.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if escrow, err = r.lockedEscrow(tx, jobID); err != nil {
			return err
		}
		var provider entities.Provider
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", providerID).First(&provider).Error; err != nil {
			return mapGormErr(err)
		}
		fee := Fee(escrow.Amount, feePercent)
		payout := escrow.Amount - fee
		if err := tx.Model(&provider).Update("total_earnings", gorm.Expr("total_earnings + ?", payout)).Error; err != nil {
			return err
		}
		if provider.UserID != "" {
			if err := tx.Model(&entities.User{}).Where("id = ?", provider.UserID).
				Update("balance", gorm.Expr("balance + ?", payout)).Error; err != nil {
				return err
			}
		}
		escrow.Status = entities.EscrowReleased
		escrow.ProviderID = providerID
		escrow.Fee = fee
		return tx.Save(escrow).Error
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

func (r *escrowPgRepository) Refund(ctx context.Context, jobID string) (*entities.EscrowTransaction, error) {
	var escrow *entities.EscrowTransaction
	err := r.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if escrow, err = r.lockedEscrow(tx, jobID); err != nil {
			return err
		}
		if err := tx.Model(&entities.User{}).Where("id = ?", escrow.UserID).
			Update("balance", gorm.Expr("balance + ?", escrow.Amount)).Error; err != nil {
			return err
		}
		escrow.Status = entities.EscrowRefunded
		return tx.Save(escrow).Error
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

func (r *escrowPgRepository) GetByJobID(ctx context.Context, jobID string) (*entities.EscrowTransaction, error) {
	var escrow entities.EscrowTransaction
	if err := r.db.GetDB().WithContext(ctx).Where("job_id = ?", jobID).First(&escrow).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &escrow, nil
}

func (r *escrowPgRepository) SetTxHash(ctx context.Context, id, hash string) error {
	return r.db.GetDB().WithContext(ctx).Model(&entities.EscrowTransaction{}).
		Where("id = ?", id).Update("tx_hash", hash).Error
}

func (r *escrowPgRepository) SumReleasedByProvider(ctx context.Context, providerID string) (float64, error) {
	var sum float64
	err := r.db.GetDB().WithContext(ctx).Model(&entities.EscrowTransaction{}).
		Where("provider_id = ? AND status = ?", providerID, entities.EscrowReleased).
		Select("COALESCE(SUM(amount - fee), 0)").Scan(&sum).Error
	return sum, err
}

// NewPgSet wires every gorm-backed repository against one database.
func NewPgSet(database db.Database) *Set {
	return &Set{
		Users:     NewUserPgRepository(database),
		Jobs:      NewJobPgRepository(database),
		Providers: NewProviderPgRepository(database),
		Escrow:    NewEscrowPgRepository(database),
	}
}

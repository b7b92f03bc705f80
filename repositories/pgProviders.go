package repositories

import (
	"context"
	"fmt"
	"time"

	"qubix-server/db"
	"qubix-server/entities"
)

type providerPgRepository struct {
	db db.Database
}

func NewProviderPgRepository(database db.Database) ProviderRepository {
	return &providerPgRepository{db: database}
}

func (r *providerPgRepository) Create(ctx context.Context, provider *entities.Provider) error {
	if err := r.db.GetDB().WithContext(ctx).Create(provider).Error; err != nil {
		return fmt.Errorf("create provider: %w", mapGormErr(err))
	}
	return nil
}

func (r *providerPgRepository) GetByID(ctx context.Context, id string) (*entities.Provider, error) {
	var p entities.Provider
	if err := r.db.GetDB().WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &p, nil
}

func (r *providerPgRepository) GetByWorkerID(ctx context.Context, workerID string) (*entities.Provider, error) {
	var p entities.Provider
	if err := r.db.GetDB().WithContext(ctx).Where("worker_id = ?", workerID).First(&p).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &p, nil
}

func (r *providerPgRepository) List(ctx context.Context) ([]entities.Provider, error) {
	var providers []entities.Provider
	err := r.db.GetDB().WithContext(ctx).Order("created_at DESC").Find(&providers).Error
	return providers, err
}

func (r *providerPgRepository) ListOnline(ctx context.Context) ([]entities.Provider, error) {
	var providers []entities.Provider
	err := r.db.GetDB().WithContext(ctx).Where("is_online = ?", true).Order("created_at ASC").Find(&providers).Error
	return providers, err
}

func (r *providerPgRepository) ListStale(ctx context.Context, before time.Time) ([]entities.Provider, error) {
	var providers []entities.Provider
	err := r.db.GetDB().WithContext(ctx).
		Where("is_online = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)", true, before).
		Find(&providers).Error
	return providers, err
}

func (r *providerPgRepository) Update(ctx context.Context, provider *entities.Provider) error {
	return mapGormErr(r.db.GetDB().WithContext(ctx).Omit("total_earnings").Save(provider).Error)
}

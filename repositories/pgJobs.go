package repositories

import (
	"context"
	"fmt"

	"qubix-server/db"
	"qubix-server/entities"
)

type jobPgRepository struct {
	db db.Database
}

func NewJobPgRepository(database db.Database) JobRepository {
	return &jobPgRepository{db: database}
}

func (r *jobPgRepository) Create(ctx context.Context, job *entities.Job) error {
	if err := r.db.GetDB().WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", mapGormErr(err))
	}
	return nil
}

func (r *jobPgRepository) GetByID(ctx context.Context, id string) (*entities.Job, error) {
	var job entities.Job
	if err := r.db.GetDB().WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &job, nil
}

func (r *jobPgRepository) GetByUserID(ctx context.Context, userID string) ([]entities.Job, error) {
	var jobs []entities.Job
	err := r.db.GetDB().WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// ListByStatus returns jobs oldest first so queue rebuilds keep submission order.
func (r *jobPgRepository) ListByStatus(ctx context.Context, statuses ...string) ([]entities.Job, error) {
	var jobs []entities.Job
	q := r.db.GetDB().WithContext(ctx)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

func (r *jobPgRepository) Update(ctx context.Context, job *entities.Job) error {
	return mapGormErr(r.db.GetDB().WithContext(ctx).Save(job).Error)
}

func (r *jobPgRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.GetDB().WithContext(ctx).Model(&entities.Job{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

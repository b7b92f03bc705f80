package repositories

import (
	"context"
	"errors"
	"fmt"

	"qubix-server/db"
	"qubix-server/entities"

	"gorm.io/gorm"
)

type userPgRepository struct {
	db db.Database
}

func NewUserPgRepository(database db.Database) UserRepository {
	return &userPgRepository{db: database}
}

// mapGormErr converts gorm sentinel errors into domain errors.
func mapGormErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return entities.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return entities.ErrAlreadyExists
	default:
		return err
	}
}

func (r *userPgRepository) Create(ctx context.Context, user *entities.User) error {
	if err := r.db.GetDB().WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", mapGormErr(err))
	}
	return nil
}

func (r *userPgRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	var user entities.User
	if err := r.db.GetDB().WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &user, nil
}

func (r *userPgRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	var user entities.User
	if err := r.db.GetDB().WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &user, nil
}

func (r *userPgRepository) List(ctx context.Context) ([]entities.User, error) {
	var users []entities.User
	err := r.db.GetDB().WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}

func (r *userPgRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetDB().WithContext(ctx).Model(&entities.User{}).Count(&n).Error
	return n, err
}

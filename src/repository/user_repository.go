package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fleetadmin/src/database"
	"fleetadmin/src/model"
)

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *GormUserRepository {
	return &GormUserRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *GormUserRepository) WithDB(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetUserByUserName(
	ctx context.Context,
	userName string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("user_name = ? ", userName).
		First(&u).Error

	if err != nil {
		return nil, err
	}

	return &u, nil
}

// Update persists the full user record.
func (r *GormUserRepository) Update(
	ctx context.Context,
	user *model.User,
) error {

	return r.db.WithContext(ctx).Save(user).Error
}

// FindAdministrator returns the first administrator, used as the default
// assignee for auto-created tickets. Returns (nil, nil) when none exists.
func (r *GormUserRepository) FindAdministrator(
	ctx context.Context,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("role = ?", model.RoleAdministrator).
		Order("id ASC").
		First(&u).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &u, nil
}

package repository

import (
	"context"

	"github.com/portalsso/sso-server/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	Lock(ctx context.Context, id string) error
	ResetFailedLogins(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, name, email string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.withRelations(ctx).Where("users.id = ?", id).First(&u).Error
	if err = observe(ctx, "user", "find_by_id", err, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.withRelations(ctx).Where("users.email = ?", email).First(&u).Error
	if err = observe(ctx, "user", "find_by_email", err, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error
	return observe(ctx, "user", "create", err, nil)
}

// IncrementFailedLogins bumps the counter in the store and returns the value after the increment.
func (r *GormUserRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ?", id).
			UpdateColumn("failed_logins", gorm.Expr("failed_logins + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Model(&domain.User{}).Select("failed_logins").Where("id = ?", id).Scan(&count).Error
	})
	if err = observe(ctx, "user", "increment_failed_logins", err, ErrUserNotFound); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormUserRepository) Lock(ctx context.Context, id string) error {
	return r.updateColumns(ctx, "lock", id, map[string]any{"is_locked": true})
}

func (r *GormUserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	return r.updateColumns(ctx, "reset_failed_logins", id, map[string]any{"failed_logins": 0})
}

func (r *GormUserRepository) UpdateProfile(ctx context.Context, id string, name, email string) error {
	return r.updateColumns(ctx, "update_profile", id, map[string]any{"name": name, "email": email})
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateColumns(ctx, "update_password", id, map[string]any{"password": passwordHash})
}

func (r *GormUserRepository) updateColumns(ctx context.Context, op, id string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(values)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		var exists int64
		if cerr := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Count(&exists).Error; cerr != nil {
			err = cerr
		} else if exists == 0 {
			err = ErrUserNotFound
		}
	}
	return observe(ctx, "user", op, err, ErrUserNotFound)
}

func (r *GormUserRepository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Role").Preload("Unit").Preload("Division")
}

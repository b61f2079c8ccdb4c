package repository

import (
	"context"
	"time"

	"github.com/portalsso/sso-server/internal/domain"

	"gorm.io/gorm"
)

type AuthCodeRepository interface {
	Create(ctx context.Context, code *domain.AuthCode) error
	FindByHash(ctx context.Context, hash string) (*domain.AuthCode, error)
	Consume(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormAuthCodeRepository struct{ db *gorm.DB }

func NewAuthCodeRepository(db *gorm.DB) AuthCodeRepository { return &GormAuthCodeRepository{db: db} }

func (r *GormAuthCodeRepository) Create(ctx context.Context, code *domain.AuthCode) error {
	err := r.db.WithContext(ctx).Create(code).Error
	return observe(ctx, "auth_code", "create", err, nil)
}

func (r *GormAuthCodeRepository) FindByHash(ctx context.Context, hash string) (*domain.AuthCode, error) {
	var c domain.AuthCode
	err := r.db.WithContext(ctx).Where("code_hash = ?", hash).First(&c).Error
	if err = observe(ctx, "auth_code", "find_by_hash", err, ErrAuthCodeNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

// Consume deletes the code. Only the caller whose delete removed the row wins;
// everyone else gets ErrAuthCodeNotFound.
func (r *GormAuthCodeRepository) Consume(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.AuthCode{})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrAuthCodeNotFound
	}
	return observe(ctx, "auth_code", "consume", err, ErrAuthCodeNotFound)
}

func (r *GormAuthCodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.AuthCode{})
	return res.RowsAffected, observe(ctx, "auth_code", "delete_expired", res.Error, nil)
}

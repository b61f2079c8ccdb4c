package repository

import (
	"context"

	"github.com/portalsso/sso-server/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClientAppRepository interface {
	FindByClientID(ctx context.Context, clientID string) (*domain.ClientApp, error)
	ListAccessibleByUser(ctx context.Context, userID string) ([]domain.ClientApp, error)
	HasAccess(ctx context.Context, userID, appID string) (bool, error)
	GrantAccess(ctx context.Context, userID, appID string) error
}

type GormClientAppRepository struct{ db *gorm.DB }

func NewClientAppRepository(db *gorm.DB) ClientAppRepository { return &GormClientAppRepository{db: db} }

func (r *GormClientAppRepository) FindByClientID(ctx context.Context, clientID string) (*domain.ClientApp, error) {
	var app domain.ClientApp
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&app).Error
	if err = observe(ctx, "client_app", "find_by_client_id", err, ErrClientAppNotFound); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *GormClientAppRepository) ListAccessibleByUser(ctx context.Context, userID string) ([]domain.ClientApp, error) {
	apps := []domain.ClientApp{}
	err := r.db.WithContext(ctx).
		Joins("JOIN user_app_accesses uaa ON uaa.app_id = client_apps.id").
		Where("uaa.user_id = ?", userID).
		Order("client_apps.name ASC").
		Find(&apps).Error
	if err = observe(ctx, "client_app", "list_accessible_by_user", err, nil); err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *GormClientAppRepository) HasAccess(ctx context.Context, userID, appID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.UserAppAccess{}).
		Where("user_id = ? AND app_id = ?", userID, appID).
		Count(&count).Error
	if err = observe(ctx, "user_app_access", "has_access", err, nil); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GrantAccess is idempotent on the (user_id, app_id) unique index.
func (r *GormClientAppRepository) GrantAccess(ctx context.Context, userID, appID string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.UserAppAccess{UserID: userID, AppID: appID}).Error
	return observe(ctx, "user_app_access", "grant", err, nil)
}

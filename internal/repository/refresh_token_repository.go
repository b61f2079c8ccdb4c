package repository

import (
	"context"
	"time"

	"github.com/portalsso/sso-server/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RefreshTokenRepository interface {
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	IssueForUser(ctx context.Context, token *domain.RefreshToken, singleSession bool) error
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error
	RevokeByHash(ctx context.Context, hash string) (int64, error)
	RevokeByUserID(ctx context.Context, userID string) (int64, error)
	LatestActiveExpiry(ctx context.Context, userID string, now time.Time) (*time.Time, error)
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err = observe(ctx, "refresh_token", "find_by_hash", err, ErrRefreshTokenNotFound); err != nil {
		return nil, err
	}
	return &t, nil
}

// IssueForUser stores a new session row. With singleSession every prior row of the user is
// deleted first; otherwise only revoked and expired rows are pruned.
func (r *GormRefreshTokenRepository) IssueForUser(ctx context.Context, token *domain.RefreshToken, singleSession bool) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ?", token.UserID)
		if !singleSession {
			q = q.Where("(revoked = ? OR expires_at < ?)", true, time.Now().UTC())
		}
		if err := q.Delete(&domain.RefreshToken{}).Error; err != nil {
			return err
		}
		return tx.Create(token).Error
	})
	return observe(ctx, "refresh_token", "issue_for_user", err, nil)
}

// Rotate deletes the row for oldHash and inserts next in one transaction. The delete is
// conditional on the row still being live, so a second presentation of the same secret
// finds nothing and fails with ErrRefreshTokenNotFound.
func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var current domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? AND revoked = ? AND expires_at > ?", oldHash, false, now).
			First(&current).Error
		if err != nil {
			return err
		}
		res := tx.Where("id = ? AND revoked = ?", current.ID, false).Delete(&domain.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRefreshTokenNotFound
		}
		next.UserID = current.UserID
		return tx.Create(next).Error
	})
	return observe(ctx, "refresh_token", "rotate", err, ErrRefreshTokenNotFound)
}

func (r *GormRefreshTokenRepository) RevokeByHash(ctx context.Context, hash string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ?", hash).
		Update("revoked", true)
	return res.RowsAffected, observe(ctx, "refresh_token", "revoke_by_hash", res.Error, nil)
}

func (r *GormRefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	return res.RowsAffected, observe(ctx, "refresh_token", "revoke_by_user_id", res.Error, nil)
}

// LatestActiveExpiry returns the furthest expiry among the user's live sessions, or nil.
func (r *GormRefreshTokenRepository) LatestActiveExpiry(ctx context.Context, userID string, now time.Time) (*time.Time, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
		Order("expires_at DESC").
		Limit(1).
		Find(&tokens).Error
	if err = observe(ctx, "refresh_token", "latest_active_expiry", err, nil); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	exp := tokens[0].ExpiresAt
	return &exp, nil
}

func (r *GormRefreshTokenRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("revoked = ? OR expires_at <= ?", true, now).
		Delete(&domain.RefreshToken{})
	return res.RowsAffected, observe(ctx, "refresh_token", "delete_stale", res.Error, nil)
}

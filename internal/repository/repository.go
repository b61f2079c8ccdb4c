package repository

import (
	"context"
	"errors"

	"github.com/portalsso/sso-server/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicate            = errors.New("duplicate record")
	ErrUserNotFound         = errors.New("user not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrAuthCodeNotFound     = errors.New("auth code not found")
	ErrClientAppNotFound    = errors.New("client app not found")
)

// observe records the outcome of a repository call and maps gorm sentinels to notFound/ErrDuplicate.
func observe(ctx context.Context, repo, op string, err error, notFound error) error {
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(ctx, repo, op, "success")
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) || (notFound != nil && errors.Is(err, notFound)):
		observability.RecordRepositoryOperation(ctx, repo, op, "not_found")
		if notFound != nil {
			return notFound
		}
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		observability.RecordRepositoryOperation(ctx, repo, op, "duplicate")
		return errors.Join(ErrDuplicate, err)
	default:
		observability.RecordRepositoryOperation(ctx, repo, op, "error")
		return err
	}
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/portalsso/sso-server/internal/security"
)

type singleUse interface {
	IsExpired(now time.Time) bool
	IsRevoked() bool
}

// issueSecret returns a fresh opaque secret and the hash stored in its place.
func issueSecret() (plain, hash string, err error) {
	plain, err = security.NewOpaqueSecret()
	if err != nil {
		return "", "", err
	}
	return plain, security.HashOpaque(plain), nil
}

// redeem looks a presented secret up by its hash. Absent, revoked and expired rows all yield
// invalid; any other lookup error is a store failure.
func redeem[T singleUse](
	ctx context.Context,
	plain string,
	now time.Time,
	find func(ctx context.Context, hash string) (T, error),
	notFound error,
	invalid error,
) (T, error) {
	var zero T
	if plain == "" {
		return zero, invalid
	}
	row, err := find(ctx, security.HashOpaque(plain))
	if err != nil {
		if errors.Is(err, notFound) {
			return zero, invalid
		}
		return zero, storeFailure(err)
	}
	if row.IsRevoked() || row.IsExpired(now) {
		return zero, invalid
	}
	return row, nil
}

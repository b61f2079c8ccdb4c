package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/http/response"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	UserContextKey   contextKey = "user"
)

type userLoader interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// AuthMiddleware accepts the access token from the Authorization bearer header or the
// access_token cookie, then loads the user so handlers see current account state.
func AuthMiddleware(codec *security.TokenCodec, users userLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessTokenFromRequest(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := codec.VerifyAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			user, err := users.FindByID(r.Context(), claims.UserID)
			if errors.Is(err, repository.ErrUserNotFound) {
				observability.RecordAccessTokenValidation(r.Context(), "unknown_user", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "user not found", nil)
				return
			}
			if err != nil {
				response.WriteError(w, r, err, logger)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessTokenFromRequest(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if raw := strings.TrimSpace(auth[7:]); raw != "" {
			return raw, "bearer"
		}
	}
	if raw := security.GetCookie(r, security.CookieAccessToken); raw != "" {
		return raw, "cookie"
	}
	return "", ""
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*domain.User)
	return u, ok
}

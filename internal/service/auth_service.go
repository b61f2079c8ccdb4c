package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"

	"go.opentelemetry.io/otel/attribute"
)

type AuthOptions struct {
	MaxFailedLogins   int
	RefreshTTL        time.Duration
	AuthCodeTTL       time.Duration
	SingleSession     bool
	CSRFEnabled       bool
	StrictRedirectURI bool
	BaseURL           string
	PortalFrontendURL string
}

func AuthOptionsFromConfig(cfg *config.Config) AuthOptions {
	return AuthOptions{
		MaxFailedLogins:   cfg.MaxFailedLogins,
		RefreshTTL:        cfg.RefreshTokenTTL(),
		AuthCodeTTL:       cfg.AuthCodeTTL,
		SingleSession:     cfg.SingleSession,
		CSRFEnabled:       cfg.CSRFEnabled,
		StrictRedirectURI: cfg.StrictRedirectURI,
		BaseURL:           cfg.BaseURL,
		PortalFrontendURL: cfg.PortalFrontendURL,
	}
}

// UserView is the identity returned to the portal. Unit holds the unit code on login and the unit
// name on refresh, matching what each portal screen displays.
type UserView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Unit     string `json:"unit"`
	Division string `json:"division"`
}

type LoginResult struct {
	PortalSession string                  `json:"portal_session"`
	AccessToken   string                  `json:"access_token"`
	User          UserView                `json:"user"`
	Cookies       security.SessionCookies `json:"-"`
}

type RefreshResult struct {
	AccessToken string                  `json:"access_token"`
	User        UserView                `json:"user"`
	Cookies     security.SessionCookies `json:"-"`
}

// AuthorizeResult is always a redirect: either back to the client with a code or to the portal
// login page when the browser has no valid portal session.
type AuthorizeResult struct {
	RedirectURL   string
	LoginRequired bool
}

type ExchangeUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	UnitCode     string `json:"unit_code"`
	DivisionName string `json:"division_name"`
}

type ExchangeResult struct {
	User                   ExchangeUser `json:"user"`
	PortalRefreshExpiresTS *string      `json:"portal_refresh_expires_ts"`
}

type AuthService struct {
	users     repository.UserRepository
	tokens    repository.RefreshTokenRepository
	codes     repository.AuthCodeRepository
	clients   repository.ClientAppRepository
	codec     *security.TokenCodec
	hasher    *security.PasswordHasher
	publisher event.Publisher
	opts      AuthOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	codes repository.AuthCodeRepository,
	clients repository.ClientAppRepository,
	codec *security.TokenCodec,
	hasher *security.PasswordHasher,
	publisher event.Publisher,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		codes:     codes,
		clients:   clients,
		codec:     codec,
		hasher:    hasher,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login checks the lock flag before the password so a locked account fails fast.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	email = strings.TrimSpace(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin(ctx, "local", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		observability.RecordAuthLogin(ctx, "local", "error")
		return nil, storeFailure(err)
	}
	if user.IsLocked {
		observability.RecordAuthLogin(ctx, "local", "locked")
		return nil, ErrAccountLocked
	}
	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "local", "error")
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return nil, s.registerFailedLogin(ctx, user)
	}
	if user.FailedLogins > 0 {
		if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, storeFailure(err)
		}
	}
	return s.issueSession(ctx, user, "local")
}

func (s *AuthService) registerFailedLogin(ctx context.Context, user *domain.User) error {
	count, err := s.users.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "local", "error")
		return storeFailure(err)
	}
	if count < s.opts.MaxFailedLogins {
		observability.RecordAuthLogin(ctx, "local", "invalid_credentials")
		return ErrInvalidCredentials
	}
	if err := s.users.Lock(ctx, user.ID); err != nil {
		observability.RecordAuthLogin(ctx, "local", "error")
		return storeFailure(err)
	}
	observability.RecordAuthLogin(ctx, "local", "locked")
	s.logger.WarnContext(ctx, "account locked after failed logins", "user_id", user.ID, "failed_logins", count)
	s.publish(ctx, event.TypeAccountLocked, user.ID, map[string]int{"failed_logins": count})
	return ErrAccountLocked
}

// LoginFederated signs in a user whose email was verified by an external identity provider.
// Accounts are never provisioned here.
func (s *AuthService) LoginFederated(ctx context.Context, provider, email string) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login_federated", attribute.String("provider", provider))
	defer span.End()

	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin(ctx, provider, "user_not_found")
			return nil, ErrFederatedUserNotFound
		}
		observability.RecordAuthLogin(ctx, provider, "error")
		return nil, storeFailure(err)
	}
	if user.IsLocked {
		observability.RecordAuthLogin(ctx, provider, "locked")
		return nil, ErrAccountLocked
	}
	return s.issueSession(ctx, user, provider)
}

func (s *AuthService) issueSession(ctx context.Context, user *domain.User, provider string) (*LoginResult, error) {
	plain, hash, err := issueSecret()
	if err != nil {
		return nil, err
	}
	token := &domain.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.opts.RefreshTTL),
	}
	if err := s.tokens.IssueForUser(ctx, token, s.opts.SingleSession); err != nil {
		observability.RecordAuthLogin(ctx, provider, "error")
		return nil, storeFailure(err)
	}

	id := identityOf(user)
	access, err := s.codec.SignAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	portal, err := s.codec.SignPortalSession(id)
	if err != nil {
		return nil, fmt.Errorf("sign portal session: %w", err)
	}
	csrf, err := s.csrfToken()
	if err != nil {
		return nil, err
	}

	observability.RecordAuthLogin(ctx, provider, "success")
	s.publish(ctx, event.TypeLoginSucceeded, user.ID, map[string]string{"provider": provider})
	return &LoginResult{
		PortalSession: portal,
		AccessToken:   access,
		User: UserView{
			ID:       user.ID,
			Email:    user.Email,
			Name:     user.Name,
			Role:     user.Role.Name,
			Unit:     user.Unit.Code,
			Division: user.Division.Name,
		},
		Cookies: security.SessionCookies{
			RefreshToken:  plain,
			PortalSession: portal,
			Role:          id.Role,
			Unit:          id.Unit,
			Division:      id.Division,
			CSRF:          csrf,
		},
	}, nil
}

// Authorize mints a code for the portal session holder. Access to the client app is checked at
// exchange time, not here.
func (s *AuthService) Authorize(ctx context.Context, clientID, redirectURI, portalSession string) (*AuthorizeResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.authorize", attribute.String("client_id", clientID))
	defer span.End()

	if portalSession == "" {
		observability.RecordAuthorize(ctx, "login_required")
		return &AuthorizeResult{RedirectURL: s.loginRedirect(clientID, redirectURI), LoginRequired: true}, nil
	}
	claims, err := s.codec.VerifyPortalSession(portalSession)
	if err != nil {
		observability.RecordAuthorize(ctx, "invalid_session")
		return &AuthorizeResult{RedirectURL: s.loginRedirect(clientID, redirectURI), LoginRequired: true}, nil
	}
	if s.opts.StrictRedirectURI {
		if err := s.checkRedirect(ctx, clientID, redirectURI); err != nil {
			observability.RecordAuthorize(ctx, "unauthorized_client")
			return nil, err
		}
	}

	plain, hash, err := issueSecret()
	if err != nil {
		return nil, err
	}
	code := &domain.AuthCode{
		CodeHash:  hash,
		UserID:    claims.UserID,
		ClientID:  clientID,
		ExpiresAt: s.now().Add(s.opts.AuthCodeTTL),
	}
	if err := s.codes.Create(ctx, code); err != nil {
		observability.RecordAuthorize(ctx, "error")
		return nil, storeFailure(err)
	}
	observability.RecordAuthorize(ctx, "code_issued")
	return &AuthorizeResult{RedirectURL: withQueryParam(redirectURI, "code", plain)}, nil
}

func (s *AuthService) checkRedirect(ctx context.Context, clientID, redirectURI string) error {
	app, err := s.clients.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientAppNotFound) {
			return ErrUnauthorizedClient
		}
		return storeFailure(err)
	}
	if app.RedirectURI != redirectURI {
		return ErrUnauthorizedClient
	}
	return nil
}

func (s *AuthService) loginRedirect(clientID, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	returnURL := strings.TrimRight(s.opts.BaseURL, "/") + "/auth/authorize?" + q.Encode()
	return strings.TrimRight(s.opts.PortalFrontendURL, "/") + "/login?returnUrl=" + url.QueryEscape(returnURL)
}

// TokenExchange redeems a code on the back channel. The code is deleted before the access check,
// so a denied exchange still burns it.
func (s *AuthService) TokenExchange(ctx context.Context, code, clientID, clientSecret string) (*ExchangeResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.token_exchange", attribute.String("client_id", clientID))
	defer span.End()

	app, err := s.clients.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientAppNotFound) {
			observability.RecordTokenExchange(ctx, clientID, "unauthorized_client")
			return nil, ErrUnauthorizedClient
		}
		return nil, storeFailure(err)
	}
	if app.ClientSecret != clientSecret {
		observability.RecordTokenExchange(ctx, clientID, "unauthorized_client")
		return nil, ErrUnauthorizedClient
	}

	now := s.now()
	authCode, err := redeem(ctx, code, now, s.codes.FindByHash, repository.ErrAuthCodeNotFound, ErrInvalidOrExpiredCode)
	if err != nil {
		observability.RecordTokenExchange(ctx, clientID, "invalid_code")
		return nil, err
	}
	if authCode.ClientID != clientID {
		observability.RecordTokenExchange(ctx, clientID, "invalid_code")
		return nil, ErrInvalidOrExpiredCode
	}
	if err := s.codes.Consume(ctx, authCode.ID); err != nil {
		if errors.Is(err, repository.ErrAuthCodeNotFound) {
			observability.RecordTokenExchange(ctx, clientID, "invalid_code")
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, storeFailure(err)
	}

	allowed, err := s.clients.HasAccess(ctx, authCode.UserID, app.ID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !allowed {
		observability.RecordTokenExchange(ctx, clientID, "forbidden")
		return nil, ErrForbidden
	}

	user, err := s.users.FindByID(ctx, authCode.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, storeFailure(err)
	}
	expiry, err := s.tokens.LatestActiveExpiry(ctx, user.ID, now)
	if err != nil {
		return nil, storeFailure(err)
	}

	result := &ExchangeResult{User: ExchangeUser{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role.Name,
		UnitCode:     user.Unit.Code,
		DivisionName: user.Division.Name,
	}}
	if expiry != nil {
		ts := expiry.UTC().Format(time.RFC3339)
		result.PortalRefreshExpiresTS = &ts
	}
	observability.RecordTokenExchange(ctx, clientID, "success")
	s.publish(ctx, event.TypeCodeExchanged, user.ID, map[string]string{"client_id": clientID})
	return result, nil
}

// Refresh rotates the presented refresh token. The old row is deleted and the new one inserted in
// one transaction; losing that race fails closed.
func (s *AuthService) Refresh(ctx context.Context, plain string) (*RefreshResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.refresh")
	defer span.End()

	if plain == "" {
		observability.RecordAuthRefresh(ctx, "missing")
		return nil, ErrNoRefreshToken
	}
	stored, err := redeem(ctx, plain, s.now(), s.tokens.FindByHash, repository.ErrRefreshTokenNotFound, ErrInvalidOrExpiredRefreshToken)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "invalid")
		return nil, err
	}
	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthRefresh(ctx, "invalid")
			return nil, ErrInvalidOrExpiredRefreshToken
		}
		return nil, storeFailure(err)
	}

	nextPlain, nextHash, err := issueSecret()
	if err != nil {
		return nil, err
	}
	next := &domain.RefreshToken{TokenHash: nextHash, ExpiresAt: s.now().Add(s.opts.RefreshTTL)}
	if err := s.tokens.Rotate(ctx, stored.TokenHash, next); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			observability.RecordAuthRefresh(ctx, "invalid")
			return nil, ErrInvalidOrExpiredRefreshToken
		}
		observability.RecordAuthRefresh(ctx, "error")
		return nil, storeFailure(err)
	}

	id := identityOf(user)
	access, err := s.codec.SignAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	csrf, err := s.csrfToken()
	if err != nil {
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "success")
	return &RefreshResult{
		AccessToken: access,
		User: UserView{
			ID:       user.ID,
			Email:    user.Email,
			Name:     user.Name,
			Role:     id.Role,
			Unit:     id.Unit,
			Division: id.Division,
		},
		Cookies: security.SessionCookies{
			RefreshToken: nextPlain,
			Role:         id.Role,
			Unit:         id.Unit,
			Division:     id.Division,
			CSRF:         csrf,
		},
	}, nil
}

// Logout revokes the presented refresh token. Unknown or absent tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, plain string) error {
	ctx, span := observability.StartSpan(ctx, "auth.logout")
	defer span.End()

	if plain == "" {
		observability.RecordAuthLogout(ctx, "no_token")
		return nil
	}
	hash := security.HashOpaque(plain)
	stored, err := s.tokens.FindByHash(ctx, hash)
	if err != nil && !errors.Is(err, repository.ErrRefreshTokenNotFound) {
		observability.RecordAuthLogout(ctx, "error")
		return storeFailure(err)
	}
	if _, err := s.tokens.RevokeByHash(ctx, hash); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return storeFailure(err)
	}
	observability.RecordAuthLogout(ctx, "success")
	if stored != nil {
		s.publish(ctx, event.TypeLogout, stored.UserID, nil)
	}
	return nil
}

func (s *AuthService) csrfToken() (string, error) {
	if !s.opts.CSRFEnabled {
		return "", nil
	}
	return security.NewCSRFToken()
}

// publish never fails the calling operation; delivery errors are logged.
func (s *AuthService) publish(ctx context.Context, eventType, userID string, data any) {
	publishEvent(ctx, s.publisher, s.logger, eventType, userID, data)
}

func publishEvent(ctx context.Context, p event.Publisher, logger *slog.Logger, eventType, userID string, data any) {
	e, err := event.New(eventType, userID, data)
	if err != nil {
		logger.WarnContext(ctx, "build auth event failed", "event_type", eventType, "error", err)
		return
	}
	e.RequestID = observability.RequestIDFromContext(ctx)
	if err := p.Publish(ctx, e); err != nil {
		logger.WarnContext(ctx, "publish auth event failed", "event_type", eventType, "error", err)
	}
}

func identityOf(user *domain.User) security.Identity {
	return security.Identity{
		UserID:   user.ID,
		Role:     user.Role.Name,
		Unit:     user.Unit.Name,
		Division: user.Division.Name,
	}
}

// withQueryParam appends key=value to the query of rawURL, keeping existing parameters in order
// and any fragment after the query.
func withQueryParam(rawURL, key, value string) string {
	pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + pair
	}
	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}
	return u.String()
}

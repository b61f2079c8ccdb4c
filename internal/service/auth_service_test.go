package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
)

func findToken(t *testing.T, env *testEnv, plain string) *domain.RefreshToken {
	t.Helper()
	var tok domain.RefreshToken
	if err := env.db.Where("token_hash = ?", security.HashOpaque(plain)).First(&tok).Error; err != nil {
		t.Fatalf("find token: %v", err)
	}
	return &tok
}

func authorizeCode(t *testing.T, env *testEnv, portalSession string) string {
	t.Helper()
	res, err := env.auth.Authorize(context.Background(), env.app.ClientID, env.app.RedirectURI, portalSession)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.LoginRequired {
		t.Fatalf("expected code redirect, got login redirect %s", res.RedirectURL)
	}
	u, err := url.Parse(res.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect has no code: %s", res.RedirectURL)
	}
	return code
}

func TestLoginReturnsTokensAndCookies(t *testing.T) {
	env := newTestEnv(t, func(o *AuthOptions) { o.CSRFEnabled = true })
	res, err := env.auth.Login(context.Background(), "admin@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.PortalSession == "" {
		t.Fatal("expected access token and portal session")
	}
	if res.User.Unit != "HO-admin@example.com" {
		t.Fatalf("login user.unit must be the unit code, got %q", res.User.Unit)
	}
	claims, err := env.codec.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Unit != "Head Office" {
		t.Fatalf("claims must carry the unit name, got %q", claims.Unit)
	}
	if len(res.Cookies.CSRF) != 32 {
		t.Fatalf("expected 32 char csrf token, got %q", res.Cookies.CSRF)
	}
	tok := findToken(t, env, res.Cookies.RefreshToken)
	if tok.UserID != env.user.ID || tok.Revoked {
		t.Fatalf("unexpected stored token: %+v", tok)
	}
	if got := env.publisher.types(); len(got) != 1 || got[0] != event.TypeLoginSucceeded {
		t.Fatalf("expected login event, got %v", got)
	}
}

func TestLoginUnknownEmailAndWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.auth.Login(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.auth.Login(ctx, "admin@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.auth.Login(ctx, "  ", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLocksAfterMaxFailedAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := env.auth.Login(ctx, "admin@example.com", "wrong")
		want := ErrInvalidCredentials
		if i == 5 {
			want = ErrAccountLocked
		}
		if !errors.Is(err, want) {
			t.Fatalf("attempt %d: expected %v, got %v", i, want, err)
		}
	}
	if _, err := env.auth.Login(ctx, "admin@example.com", testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with correct password, got %v", err)
	}
	found := false
	for _, typ := range env.publisher.types() {
		if typ == event.TypeAccountLocked {
			found = true
		}
	}
	if !found {
		t.Fatal("expected account locked event")
	}
}

func TestLoginResetsFailedCounterOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = env.auth.Login(ctx, "admin@example.com", "wrong")
	}
	if _, err := env.auth.Login(ctx, "admin@example.com", testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	u, _ := env.users.FindByID(ctx, env.user.ID)
	if u.FailedLogins != 0 {
		t.Fatalf("expected counter reset, got %d", u.FailedLogins)
	}
}

func TestLoginSingleSessionReplacesPreviousToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, err := env.auth.Login(ctx, "admin@example.com", testPassword)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := env.auth.Login(ctx, "admin@example.com", testPassword); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := env.auth.Refresh(ctx, first.Cookies.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredRefreshToken) {
		t.Fatalf("expected first session to be gone, got %v", err)
	}
}

func TestLoginMultiSessionKeepsPreviousToken(t *testing.T) {
	env := newTestEnv(t, func(o *AuthOptions) { o.SingleSession = false })
	ctx := context.Background()
	first, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	if _, err := env.auth.Login(ctx, "admin@example.com", testPassword); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := env.auth.Refresh(ctx, first.Cookies.RefreshToken); err != nil {
		t.Fatalf("expected first session to survive, got %v", err)
	}
}

func TestRefreshRotatesToLaterExpiringToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login, err := env.auth.Login(ctx, "admin@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	before := findToken(t, env, login.Cookies.RefreshToken)

	env.auth.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	res, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Cookies.RefreshToken == login.Cookies.RefreshToken {
		t.Fatal("expected a new refresh token plaintext")
	}
	after := findToken(t, env, res.Cookies.RefreshToken)
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Fatalf("expected later expiry, before=%v after=%v", before.ExpiresAt, after.ExpiresAt)
	}
	if res.AccessToken == "" || res.User.Unit != "Head Office" {
		t.Fatalf("unexpected refresh result: %+v", res.User)
	}
	if _, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredRefreshToken) {
		t.Fatalf("second presentation must fail closed, got %v", err)
	}
}

func TestRefreshWithoutTokenAndWithExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.auth.Refresh(ctx, ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	env.auth.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	if _, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredRefreshToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestLogoutRevokesAndBlocksRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	if err := env.auth.Logout(ctx, login.Cookies.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if tok := findToken(t, env, login.Cookies.RefreshToken); !tok.Revoked {
		t.Fatal("expected row to be revoked")
	}
	if _, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredRefreshToken) {
		t.Fatalf("expected ErrInvalidOrExpiredRefreshToken after logout, got %v", err)
	}
	if err := env.auth.Logout(ctx, login.Cookies.RefreshToken); err != nil {
		t.Fatalf("logout must be idempotent: %v", err)
	}
	if err := env.auth.Logout(ctx, ""); err != nil {
		t.Fatalf("logout without token: %v", err)
	}
}

type failingRotateRepo struct {
	repository.RefreshTokenRepository
}

func (failingRotateRepo) Rotate(context.Context, string, *domain.RefreshToken) error {
	return errors.New("disk full")
}

func TestRefreshRotationFailureKeepsOldToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)

	env.auth.tokens = failingRotateRepo{env.tokens}
	if _, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken); !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}

	env.auth.tokens = env.tokens
	if _, err := env.auth.Refresh(ctx, login.Cookies.RefreshToken); err != nil {
		t.Fatalf("old token must remain valid after failed rotation: %v", err)
	}
}

type failingUserRepo struct {
	repository.UserRepository
}

func (failingUserRepo) FindByEmail(context.Context, string) (*domain.User, error) {
	return nil, errors.New("connection refused")
}

func TestLoginStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.auth.users = failingUserRepo{env.users}
	_, err := env.auth.Login(context.Background(), "admin@example.com", testPassword)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 500 {
		t.Fatalf("expected 500 domain error, got %v", err)
	}
}

func TestAuthorizeWithoutSessionRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t)
	for _, cookie := range []string{"", "not-a-jwt"} {
		res, err := env.auth.Authorize(context.Background(), "app_feedback", "http://localhost:3000/api/auth/callback", cookie)
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if !res.LoginRequired {
			t.Fatalf("expected login redirect for cookie %q", cookie)
		}
		want := "http://localhost:3000/login?returnUrl=" + url.QueryEscape(
			"http://localhost:4000/auth/authorize?client_id=app_feedback&redirect_uri="+url.QueryEscape("http://localhost:3000/api/auth/callback"))
		if res.RedirectURL != want {
			t.Fatalf("unexpected login redirect\n got %s\nwant %s", res.RedirectURL, want)
		}
	}
}

func TestAuthorizeAppendsCodeToExistingQuery(t *testing.T) {
	env := newTestEnv(t)
	login, _ := env.auth.Login(context.Background(), "admin@example.com", testPassword)
	res, err := env.auth.Authorize(context.Background(), "app_feedback", "http://client.test/cb?tenant=a", login.PortalSession)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.HasPrefix(res.RedirectURL, "http://client.test/cb?tenant=a&code=") {
		t.Fatalf("unexpected redirect %s", res.RedirectURL)
	}
}

func TestAuthorizeKeepsFragmentAfterCode(t *testing.T) {
	env := newTestEnv(t)
	login, _ := env.auth.Login(context.Background(), "admin@example.com", testPassword)
	res, err := env.auth.Authorize(context.Background(), "app_feedback", "http://client.test/cb#/after-login", login.PortalSession)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	u, err := url.Parse(res.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.Query().Get("code") == "" || u.Fragment != "/after-login" {
		t.Fatalf("expected code in query and fragment kept, got %s", res.RedirectURL)
	}
}

func TestWithQueryParam(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://app/cb", "http://app/cb?code=a%2Bb"},
		{"http://app/cb?tenant=x&b=1", "http://app/cb?tenant=x&b=1&code=a%2Bb"},
		{"http://app/cb#section", "http://app/cb?code=a%2Bb#section"},
		{"http://app/cb?tenant=x#/route?y=1", "http://app/cb?tenant=x&code=a%2Bb#/route?y=1"},
	}
	for _, tc := range cases {
		if got := withQueryParam(tc.in, "code", "a+b"); got != tc.want {
			t.Errorf("withQueryParam(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAuthorizeStrictRedirectURI(t *testing.T) {
	env := newTestEnv(t, func(o *AuthOptions) { o.StrictRedirectURI = true })
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	if _, err := env.auth.Authorize(ctx, "app_feedback", "http://evil.test/cb", login.PortalSession); !errors.Is(err, ErrUnauthorizedClient) {
		t.Fatalf("expected ErrUnauthorizedClient for mismatched redirect, got %v", err)
	}
	if _, err := env.auth.Authorize(ctx, "unknown", env.app.RedirectURI, login.PortalSession); !errors.Is(err, ErrUnauthorizedClient) {
		t.Fatalf("expected ErrUnauthorizedClient for unknown client, got %v", err)
	}
	authorizeCode(t, env, login.PortalSession)
}

func TestTokenExchangeSucceedsOnceWithAccess(t *testing.T) {
	env := newTestEnv(t)
	env.grantAccess(t)
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	code := authorizeCode(t, env, login.PortalSession)

	res, err := env.auth.TokenExchange(ctx, code, "app_feedback", "secret_key_feedback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if res.User.ID != env.user.ID || res.User.UnitCode != "HO-admin@example.com" || res.User.DivisionName != "IT Support admin@example.com" {
		t.Fatalf("unexpected exchange user: %+v", res.User)
	}
	if res.PortalRefreshExpiresTS == nil {
		t.Fatal("expected portal refresh expiry")
	}
	if _, err := time.Parse(time.RFC3339, *res.PortalRefreshExpiresTS); err != nil {
		t.Fatalf("expiry must be RFC3339: %v", err)
	}

	if _, err := env.auth.TokenExchange(ctx, code, "app_feedback", "secret_key_feedback"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected reused code to fail, got %v", err)
	}
}

func TestTokenExchangeWithoutAccessIsForbiddenAndBurnsCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	code := authorizeCode(t, env, login.PortalSession)

	if _, err := env.auth.TokenExchange(ctx, code, "app_feedback", "secret_key_feedback"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	env.grantAccess(t)
	if _, err := env.auth.TokenExchange(ctx, code, "app_feedback", "secret_key_feedback"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected code to be consumed by the denied exchange, got %v", err)
	}
}

func TestTokenExchangeRejectsBadClientAndExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	env.grantAccess(t)
	ctx := context.Background()
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)

	code := authorizeCode(t, env, login.PortalSession)
	if _, err := env.auth.TokenExchange(ctx, code, "app_feedback", "wrong"); !errors.Is(err, ErrUnauthorizedClient) {
		t.Fatalf("expected ErrUnauthorizedClient, got %v", err)
	}
	if _, err := env.auth.TokenExchange(ctx, code, "nope", "secret_key_feedback"); !errors.Is(err, ErrUnauthorizedClient) {
		t.Fatalf("expected ErrUnauthorizedClient for unknown client, got %v", err)
	}

	env.auth.now = func() time.Time { return time.Now().UTC().Add(-10 * time.Minute) }
	stale := authorizeCode(t, env, login.PortalSession)
	env.auth.now = func() time.Time { return time.Now().UTC() }
	if _, err := env.auth.TokenExchange(ctx, stale, "app_feedback", "secret_key_feedback"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}
	if _, err := env.auth.TokenExchange(ctx, "unknown-code", "app_feedback", "secret_key_feedback"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected unknown code to fail, got %v", err)
	}
}

func TestTokenExchangeRejectsCodeIssuedForAnotherClient(t *testing.T) {
	env := newTestEnv(t)
	env.grantAccess(t)
	ctx := context.Background()
	other := &domain.ClientApp{Name: "Other", ClientID: "app_other", ClientSecret: "other_secret", RedirectURI: "http://other.test/cb"}
	if err := env.db.Create(other).Error; err != nil {
		t.Fatalf("create other app: %v", err)
	}
	login, _ := env.auth.Login(ctx, "admin@example.com", testPassword)
	code := authorizeCode(t, env, login.PortalSession)
	if _, err := env.auth.TokenExchange(ctx, code, "app_other", "other_secret"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected code bound to another client to fail, got %v", err)
	}
}

func TestLoginFederated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.auth.LoginFederated(ctx, "google", "stranger@example.com"); !errors.Is(err, ErrFederatedUserNotFound) {
		t.Fatalf("expected ErrFederatedUserNotFound, got %v", err)
	}
	res, err := env.auth.LoginFederated(ctx, "google", "admin@example.com")
	if err != nil {
		t.Fatalf("federated login: %v", err)
	}
	if res.User.ID != env.user.ID || res.Cookies.RefreshToken == "" {
		t.Fatalf("unexpected federated result: %+v", res.User)
	}
	if err := env.users.Lock(ctx, env.user.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.auth.LoginFederated(ctx, "google", "admin@example.com"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

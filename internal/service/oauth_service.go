package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/portalsso/sso-server/internal/observability"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type GoogleOAuthProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleOAuthProvider(clientID, clientSecret, redirectURL string) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if body.Sub == "" || body.Email == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: body.Sub,
		Email:          body.Email,
		EmailVerified:  body.EmailVerified,
		Name:           body.Name,
	}, nil
}

type federatedLogin interface {
	LoginFederated(ctx context.Context, provider, email string) (*LoginResult, error)
}

// OAuthService turns a Google callback into a portal login. It never creates accounts.
type OAuthService struct {
	provider OAuthProvider
	auth     federatedLogin
	logger   *slog.Logger
}

func NewOAuthService(provider OAuthProvider, auth *AuthService, logger *slog.Logger) *OAuthService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &OAuthService{provider: provider, logger: logger}
	if auth != nil {
		s.auth = auth
	}
	return s
}

func (s *OAuthService) GoogleLoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.google_callback")
	defer span.End()

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordAuthLogin(ctx, "google", classifyOAuthError(err))
		return nil, fmt.Errorf("google code exchange: %w", err)
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		observability.RecordAuthLogin(ctx, "google", classifyOAuthError(err))
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	if !info.EmailVerified {
		observability.RecordAuthLogin(ctx, "google", "email_not_verified")
		return nil, errors.New("google email not verified")
	}
	return s.auth.LoginFederated(ctx, "google", info.Email)
}

func classifyOAuthError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "userinfo status"):
		return "userinfo_status"
	case strings.Contains(msg, "missing required userinfo fields"):
		return "invalid_userinfo"
	case strings.Contains(msg, "oauth2:"):
		return "oauth2_exchange"
	default:
		return "error"
	}
}

package service

import "context"

type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	LoginFederated(ctx context.Context, provider, email string) (*LoginResult, error)
	Authorize(ctx context.Context, clientID, redirectURI, portalSession string) (*AuthorizeResult, error)
	TokenExchange(ctx context.Context, code, clientID, clientSecret string) (*ExchangeResult, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AccountServiceInterface interface {
	GetAccount(ctx context.Context, userID string) (*AccountView, error)
	UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (*AccountView, error)
	ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error
	MyApps(ctx context.Context, userID string) ([]AppView, error)
}

type OAuthServiceInterface interface {
	GoogleLoginURL(state string) string
	HandleGoogleCallback(ctx context.Context, code string) (*LoginResult, error)
}

var (
	_ AuthServiceInterface    = (*AuthService)(nil)
	_ AccountServiceInterface = (*AccountService)(nil)
	_ OAuthServiceInterface   = (*OAuthService)(nil)
)

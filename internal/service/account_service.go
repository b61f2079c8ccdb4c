package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
)

type AccountView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Role     string   `json:"role"`
	Unit     UnitView `json:"unit"`
	Division string   `json:"division"`
}

type UnitView struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type AppView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ClientID     string  `json:"client_id"`
	Description  *string `json:"description"`
	RedirectURI  string  `json:"redirect_uri"`
	DashboardURL string  `json:"dashboard_url"`
}

type UpdateAccountInput struct {
	Name  *string `json:"name" validate:"omitnil,min=1,max=100"`
	Email *string `json:"email" validate:"omitnil,email,max=100"`
}

// Normalize trims the optional fields in place.
func (in *UpdateAccountInput) Normalize() {
	for _, f := range []*string{in.Name, in.Email} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required,max=100"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=100,password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type AccountService struct {
	users     repository.UserRepository
	tokens    repository.RefreshTokenRepository
	clients   repository.ClientAppRepository
	hasher    *security.PasswordHasher
	publisher event.Publisher
	logger    *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	clients repository.ClientAppRepository,
	hasher *security.PasswordHasher,
	publisher event.Publisher,
	logger *slog.Logger,
) *AccountService {
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{users: users, tokens: tokens, clients: clients, hasher: hasher, publisher: publisher, logger: logger}
}

func (s *AccountService) GetAccount(ctx context.Context, userID string) (*AccountView, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toAccountView(user), nil
}

func (s *AccountService) UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (*AccountView, error) {
	ctx, span := observability.StartSpan(ctx, "account.update")
	defer span.End()

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	name, email := user.Name, user.Email
	if in.Name != nil {
		name = *in.Name
	}
	if in.Email != nil {
		email = *in.Email
	}
	if err := s.users.UpdateProfile(ctx, userID, name, email); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrEmailTaken
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, storeFailure(err)
		}
	}
	user.Name, user.Email = name, email
	return toAccountView(user), nil
}

// ChangePassword replaces the password hash and revokes every refresh token of the user, which
// signs out all other portal sessions.
func (s *AccountService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	ctx, span := observability.StartSpan(ctx, "account.change_password")
	defer span.End()

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Compare(user.PasswordHash, in.CurrentPassword)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return ErrInvalidPassword
	}
	if same, _ := s.hasher.Compare(user.PasswordHash, in.NewPassword); same {
		return ErrPasswordReused
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return storeFailure(err)
	}
	revoked, err := s.tokens.RevokeByUserID(ctx, userID)
	if err != nil {
		return storeFailure(err)
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", userID, "revoked_sessions", revoked)
	publishEvent(ctx, s.publisher, s.logger, event.TypePasswordChange, userID, map[string]int64{"revoked_sessions": revoked})
	return nil
}

// MyApps lists the client apps the user has been granted.
func (s *AccountService) MyApps(ctx context.Context, userID string) ([]AppView, error) {
	apps, err := s.clients.ListAccessibleByUser(ctx, userID)
	if err != nil {
		return nil, storeFailure(err)
	}
	out := make([]AppView, 0, len(apps))
	for _, a := range apps {
		out = append(out, AppView{
			ID:           a.ID,
			Name:         a.Name,
			ClientID:     a.ClientID,
			Description:  a.Description,
			RedirectURI:  a.RedirectURI,
			DashboardURL: a.DashboardURL,
		})
	}
	return out, nil
}

func (s *AccountService) findUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeFailure(err)
	}
	return user, nil
}

func toAccountView(u *domain.User) *AccountView {
	return &AccountView{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role.Name,
		Unit:     UnitView{Code: u.Unit.Code, Name: u.Unit.Name},
		Division: u.Division.Name,
	}
}

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type testEnv struct {
	db        *gorm.DB
	users     repository.UserRepository
	tokens    repository.RefreshTokenRepository
	codes     repository.AuthCodeRepository
	clients   repository.ClientAppRepository
	codec     *security.TokenCodec
	hasher    *security.PasswordHasher
	publisher *recordingPublisher
	auth      *AuthService
	account   *AccountService
	user      *domain.User
	app       *domain.ClientApp
}

const testPassword = "admin123"

func newTestEnv(t *testing.T, mutate ...func(*AuthOptions)) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	codec, err := security.NewTokenCodec("portal-sso", "session-secret-abcdefghijklmnopqrstuvwxyz", "access-secret-abcdefghijklmnopqrstuvwxyz", time.Hour, 15*time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	env := &testEnv{
		db:        db,
		users:     repository.NewUserRepository(db),
		tokens:    repository.NewRefreshTokenRepository(db),
		codes:     repository.NewAuthCodeRepository(db),
		clients:   repository.NewClientAppRepository(db),
		codec:     codec,
		hasher:    security.NewPasswordHasher(4),
		publisher: &recordingPublisher{},
	}
	opts := AuthOptions{
		MaxFailedLogins:   5,
		RefreshTTL:        30 * 24 * time.Hour,
		AuthCodeTTL:       5 * time.Minute,
		SingleSession:     true,
		BaseURL:           "http://localhost:4000",
		PortalFrontendURL: "http://localhost:3000",
	}
	for _, m := range mutate {
		m(&opts)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.auth = NewAuthService(env.users, env.tokens, env.codes, env.clients, codec, env.hasher, env.publisher, opts, quiet)
	env.account = NewAccountService(env.users, env.tokens, env.clients, env.hasher, env.publisher, quiet)
	env.user = env.createUser(t, "admin@example.com", testPassword)
	env.app = &domain.ClientApp{
		Name:         "Feedback System",
		ClientID:     "app_feedback",
		ClientSecret: "secret_key_feedback",
		RedirectURI:  "http://localhost:3000/api/auth/callback",
		DashboardURL: "http://localhost:3000/dashboard",
	}
	if err := db.Create(env.app).Error; err != nil {
		t.Fatalf("create client app: %v", err)
	}
	return env
}

func (e *testEnv) createUser(t *testing.T, email, password string) *domain.User {
	t.Helper()
	role := &domain.Role{Name: "Admin " + email}
	unit := &domain.Unit{Code: "HO-" + email, Name: "Head Office"}
	division := &domain.Division{Name: "IT Support " + email}
	for _, v := range []any{role, unit, division} {
		if err := e.db.Create(v).Error; err != nil {
			t.Fatalf("create fixture: %v", err)
		}
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &domain.User{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		UnitID:       unit.ID,
		DivisionID:   division.ID,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) grantAccess(t *testing.T) {
	t.Helper()
	if err := e.clients.GrantAccess(context.Background(), e.user.ID, e.app.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

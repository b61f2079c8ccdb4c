package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/http/handler"
	"github.com/portalsso/sso-server/internal/http/router"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
	"github.com/portalsso/sso-server/internal/seed"
	"github.com/portalsso/sso-server/internal/service"
)

const (
	portalURL      = "http://localhost:3000"
	googleErrorURL = "http://localhost:3000/login?error=google"
	callbackURL    = "http://localhost:3000/api/auth/callback"
)

type serverOptions struct {
	csrf          bool
	oauthProvider service.OAuthProvider
	mutate        func(*router.Dependencies)
}

type testServer struct {
	URL string
	db  *gorm.DB
}

func newAuthTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:itest_"+name+"?mode=memory&cache=shared"), &gorm.Config{
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

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := security.NewPasswordHasher(4)
	if _, err := seed.NewSeeder(db, hasher, quiet).Run(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	codec, err := security.NewTokenCodec("portal-sso", "session-secret-abcdefghijklmnopqrstuvwxyz", "access-secret-abcdefghijklmnopqrstuvwxyz", time.Hour, 15*time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	users := repository.NewUserRepository(db)
	tokens := repository.NewRefreshTokenRepository(db)
	clients := repository.NewClientAppRepository(db)
	authOpts := service.AuthOptions{
		MaxFailedLogins:   5,
		RefreshTTL:        30 * 24 * time.Hour,
		AuthCodeTTL:       5 * time.Minute,
		SingleSession:     true,
		CSRFEnabled:       opts.csrf,
		BaseURL:           "http://localhost:4000",
		PortalFrontendURL: portalURL,
	}
	auth := service.NewAuthService(users, tokens, repository.NewAuthCodeRepository(db), clients, codec, hasher, event.NoopPublisher{}, authOpts, quiet)
	accounts := service.NewAccountService(users, tokens, clients, hasher, event.NoopPublisher{}, quiet)

	var oauth service.OAuthServiceInterface
	if opts.oauthProvider != nil {
		oauth = service.NewOAuthService(opts.oauthProvider, auth, quiet)
	}
	cookies := security.NewCookieBinder("", false, authOpts.RefreshTTL, time.Hour)

	dep := router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, oauth, cookies, portalURL, googleErrorURL, quiet),
		AccountHandler:   handler.NewAccountHandler(accounts, quiet),
		TokenCodec:       codec,
		Users:            users,
		Logger:           quiet,
		CORSOrigins:      []string{portalURL},
		CSRFEnabled:      opts.csrf,
		AuthRateLimitRPM: 10000,
		APIRateLimitRPM:  10000,
	}
	if opts.mutate != nil {
		opts.mutate(&dep)
	}
	srv := httptest.NewServer(router.NewRouter(dep))
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, db: db}
}

// newBrowser returns a client with its own cookie jar that does not follow redirects.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, raw)
		}
	}
	return resp, env
}

func jarCookie(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func loginAdmin(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/auth/login", map[string]string{
		"email":    seed.AdminEmail,
		"password": seed.AdminPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("admin login failed: %d %+v", resp.StatusCode, env.Error)
	}
}

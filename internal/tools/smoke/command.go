// Package smoke verifies a deployed sso-server by walking the portal sign-in flow end to end.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalsso/sso-server/internal/tools/common"
	"github.com/portalsso/sso-server/internal/tools/loadgen"
	"github.com/portalsso/sso-server/internal/tools/ui"
)

type FlowConfig struct {
	BaseURL      string
	Email        string
	Password     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type options struct {
	flow    FlowConfig
	traffic time.Duration
	rps     int
	ci      *bool
}

// NewCommand builds the smoke subcommand. ci points at the shared --ci flag.
func NewCommand(ci *bool) *cobra.Command {
	opts := &options{ci: ci}
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Walk login, authorize, token, refresh and logout against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(*opts.ci, "smoke", func(ctx context.Context) ([]string, error) {
				details, err := CheckFlow(ctx, opts.flow)
				if err != nil || opts.traffic <= 0 {
					return details, err
				}
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:      opts.flow.BaseURL,
					Profile:      loadgen.ProfileMixed,
					Duration:     opts.traffic,
					RPS:          opts.rps,
					Concurrency:  4,
					Email:        opts.flow.Email,
					Password:     opts.flow.Password,
					ClientID:     opts.flow.ClientID,
					ClientSecret: opts.flow.ClientSecret,
					RedirectURI:  opts.flow.RedirectURI,
					Seed:         42,
				})
				if err != nil {
					return details, err
				}
				details = append(details, res.Summary()...)
				if res.Failures > 0 {
					return details, fmt.Errorf("traffic produced %d failures", res.Failures)
				}
				return details, nil
			})
			if *opts.ci {
				common.PrintCIResult(err == nil, "smoke", details, err)
			}
			return common.Exit(common.ExitCheckFailed, err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.flow.BaseURL, "base-url", "http://localhost:4000", "sso-server base URL")
	f.StringVar(&opts.flow.Email, "email", "admin@example.com", "account used for the flow")
	f.StringVar(&opts.flow.Password, "password", "admin123", "password for --email")
	f.StringVar(&opts.flow.ClientID, "client-id", "app_feedback", "client app id")
	f.StringVar(&opts.flow.ClientSecret, "client-secret", "secret_key_feedback", "client app secret")
	f.StringVar(&opts.flow.RedirectURI, "redirect-uri", "http://localhost:3001/api/auth/callback", "redirect URI passed to authorize")
	f.DurationVar(&opts.traffic, "traffic", 0, "generate mixed traffic for this long after the flow passes")
	f.IntVar(&opts.rps, "rps", 20, "request rate for --traffic")
	return cmd
}

func run(ci bool, title string, fn ui.TaskFunc) ([]string, error) {
	if ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type flowClient struct {
	cfg    FlowConfig
	http   *http.Client
	base   *url.URL
	access string
}

// CheckFlow runs one browser-like session and returns a line per passed step. It stops at the
// first step that does not behave.
func CheckFlow(ctx context.Context, cfg FlowConfig) ([]string, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &flowClient{
		cfg:  cfg,
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"ready", c.ready},
		{"login", c.login},
		{"me", c.me},
		{"authorize+token", c.authorizeAndExchange},
		{"refresh", c.refresh},
		{"logout", c.logout},
		{"refresh after logout rejected", c.refreshRejected},
	}
	var details []string
	for _, s := range steps {
		started := time.Now()
		if err := s.fn(ctx); err != nil {
			return details, fmt.Errorf("%s: %w", s.name, err)
		}
		details = append(details, fmt.Sprintf("%s: ok (%s)", s.name, time.Since(started).Round(time.Millisecond)))
	}
	return details, nil
}

func (c *flowClient) ready(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
	return expectStatus(status, err, http.StatusOK)
}

func (c *flowClient) login(ctx context.Context) error {
	body := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}
	status, data, err := c.do(ctx, http.MethodPost, "/auth/login", body, nil)
	if err := expectStatus(status, err, http.StatusOK); err != nil {
		return err
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.AccessToken == "" {
		return errors.New("login response carries no access token")
	}
	c.access = payload.AccessToken
	if c.cookie("refresh_token") == "" || c.cookie("portal_session") == "" {
		return errors.New("login did not set session cookies")
	}
	return nil
}

func (c *flowClient) me(ctx context.Context) error {
	status, data, err := c.do(ctx, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + c.access})
	if err := expectStatus(status, err, http.StatusOK); err != nil {
		return err
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || !strings.EqualFold(payload.Email, c.cfg.Email) {
		return fmt.Errorf("unexpected account payload %s", data)
	}
	return nil
}

func (c *flowClient) authorizeAndExchange(ctx context.Context) error {
	q := url.Values{"client_id": {c.cfg.ClientID}, "redirect_uri": {c.cfg.RedirectURI}}
	status, loc, err := c.redirect(ctx, "/auth/authorize?"+q.Encode())
	if err := expectStatus(status, err, http.StatusFound); err != nil {
		return err
	}
	code := loc.Query().Get("code")
	if code == "" {
		return fmt.Errorf("authorize redirected without a code: %s", loc)
	}
	body := map[string]string{"code": code, "client_id": c.cfg.ClientID, "client_secret": c.cfg.ClientSecret}
	status, data, err := c.do(ctx, http.MethodPost, "/auth/token", body, nil)
	if err := expectStatus(status, err, http.StatusOK); err != nil {
		return err
	}
	var payload struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.User.Email == "" {
		return fmt.Errorf("unexpected exchange payload %s", data)
	}
	status, _, err = c.do(ctx, http.MethodPost, "/auth/token", body, nil)
	if err := expectStatus(status, err, http.StatusBadRequest); err != nil {
		return fmt.Errorf("code replay: %w", err)
	}
	return nil
}

func (c *flowClient) refresh(ctx context.Context) error {
	before := c.cookie("refresh_token")
	status, _, err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, c.csrfHeader())
	if err := expectStatus(status, err, http.StatusOK); err != nil {
		return err
	}
	if c.cookie("refresh_token") == before {
		return errors.New("refresh token was not rotated")
	}
	return nil
}

func (c *flowClient) logout(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodDelete, "/auth/logout", nil, c.csrfHeader())
	return expectStatus(status, err, http.StatusOK)
}

// refreshRejected accepts 403 as well: logout clears the csrf cookie, so a CSRF-enabled server
// refuses the request before the refresh token is looked at.
func (c *flowClient) refreshRejected(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, c.csrfHeader())
	return expectStatus(status, err, http.StatusUnauthorized, http.StatusForbidden)
}

func (c *flowClient) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *flowClient) csrfHeader() map[string]string {
	if v := c.cookie("csrf_token"); v != "" {
		return map[string]string{"X-CSRF-Token": v}
	}
	return nil
}

func (c *flowClient) redirect(ctx context.Context, path string) (int, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("parse location: %w", err)
	}
	return resp.StatusCode, loc, nil
}

func (c *flowClient) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env.Data, nil
}

func expectStatus(got int, err error, want ...int) error {
	if err != nil {
		return err
	}
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	return fmt.Errorf("status %d, want %v", got, want)
}

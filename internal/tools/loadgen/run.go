// Package loadgen drives synthetic portal traffic against a running sso-server.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	ProfileAuth     = "auth"
	ProfileExchange = "exchange"
	ProfileMixed    = "mixed"
)

type Config struct {
	BaseURL      string
	Profile      string
	Duration     time.Duration
	RPS          int
	Concurrency  int
	Email        string
	Password     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Seed         int64
}

type Result struct {
	Profile       string
	TotalRequests int64
	Failures      int64
	Elapsed       time.Duration
	StatusClasses map[string]int64
	Operations    map[string]int64
}

// Summary renders the result as sorted key=value lines.
func (r *Result) Summary() []string {
	lines := []string{
		fmt.Sprintf("profile=%s total=%d failures=%d elapsed=%s", r.Profile, r.TotalRequests, r.Failures, r.Elapsed.Round(time.Millisecond)),
	}
	lines = append(lines, sortedCounts("status", r.StatusClasses)...)
	lines = append(lines, sortedCounts("op", r.Operations)...)
	return lines
}

func sortedCounts(prefix string, m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s.%s=%d", prefix, k, m[k]))
	}
	return out
}

type recorder struct {
	total    atomic.Int64
	failures atomic.Int64
	mu       sync.Mutex
	classes  map[string]int64
	ops      map[string]int64
}

// observe ignores requests cut short by the end of the run.
func (r *recorder) observe(op string, status int, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	r.total.Add(1)
	class := "error"
	if err == nil {
		class = classifyStatusClass(status)
	}
	if err != nil || status >= 400 {
		r.failures.Add(1)
	}
	r.count(op, class)
}

func (r *recorder) observeExpected(op string, status int) {
	r.total.Add(1)
	r.count(op, classifyStatusClass(status))
}

func (r *recorder) count(op, class string) {
	r.mu.Lock()
	r.classes[class]++
	r.ops[op]++
	r.mu.Unlock()
}

// Run paces requests at cfg.RPS across cfg.Concurrency workers until cfg.Duration elapses.
// Each worker holds its own cookie jar so it behaves like one browser session.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg = withDefaults(cfg)
	switch cfg.Profile {
	case ProfileAuth, ProfileExchange, ProfileMixed:
	default:
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rec := &recorder{classes: map[string]int64{}, ops: map[string]int64{}}
	jobs := make(chan struct{})
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case jobs <- struct{}{}:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	for i := 0; i < cfg.Concurrency; i++ {
		w, err := newWorker(cfg, rec, cfg.Seed+int64(i))
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			for range jobs {
				w.step(gctx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Profile:       cfg.Profile,
		TotalRequests: rec.total.Load(),
		Failures:      rec.failures.Load(),
		Elapsed:       time.Since(started),
		StatusClasses: rec.classes,
		Operations:    rec.ops,
	}
	return res, nil
}

func withDefaults(cfg Config) Config {
	cfg.Profile = normalizeProfile(cfg.Profile)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:4000"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Email == "" {
		cfg.Email = "admin@example.com"
	}
	if cfg.Password == "" {
		cfg.Password = "admin123"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "app_feedback"
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = "secret_key_feedback"
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = "http://localhost:3001/api/auth/callback"
	}
	return cfg
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ProfileMixed
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

type worker struct {
	cfg         Config
	rec         *recorder
	client      *http.Client
	rng         *rand.Rand
	base        *url.URL
	accessToken string
	loggedIn    bool
}

func newWorker(cfg Config, rec *recorder, seed int64) (*worker, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &worker{cfg: cfg, rec: rec, client: client, rng: rand.New(rand.NewSource(seed)), base: base}, nil
}

func (w *worker) step(ctx context.Context) {
	if !w.loggedIn || w.cfg.Profile == ProfileAuth {
		w.login(ctx)
		return
	}
	if w.cfg.Profile == ProfileExchange {
		w.authorizeAndExchange(ctx)
		return
	}
	switch n := w.rng.Intn(10); {
	case n < 2:
		w.login(ctx)
	case n < 5:
		w.authorizeAndExchange(ctx)
	case n < 7:
		w.refresh(ctx)
	default:
		w.me(ctx)
	}
}

func (w *worker) login(ctx context.Context) {
	body := map[string]string{"email": w.cfg.Email, "password": w.cfg.Password}
	status, data, err := w.doJSON(ctx, http.MethodPost, "/auth/login", body, nil)
	w.rec.observe("login", status, err)
	if err != nil || status != http.StatusOK {
		w.loggedIn = false
		return
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if json.Unmarshal(data, &payload) == nil {
		w.accessToken = payload.AccessToken
	}
	w.loggedIn = true
}

func (w *worker) authorizeAndExchange(ctx context.Context) {
	q := url.Values{"client_id": {w.cfg.ClientID}, "redirect_uri": {w.cfg.RedirectURI}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+"/auth/authorize?"+q.Encode(), nil)
	if err != nil {
		w.rec.observe("authorize", 0, err)
		return
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.rec.observe("authorize", 0, err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	w.rec.observe("authorize", resp.StatusCode, nil)

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || loc.Query().Get("code") == "" {
		w.loggedIn = false
		return
	}
	body := map[string]string{
		"code":          loc.Query().Get("code"),
		"client_id":     w.cfg.ClientID,
		"client_secret": w.cfg.ClientSecret,
	}
	status, _, err := w.doJSON(ctx, http.MethodPost, "/auth/token", body, nil)
	w.rec.observe("token", status, err)
}

// refresh treats a 401 as a displaced session: with single-session enabled another worker's login
// for the same account revokes this one.
func (w *worker) refresh(ctx context.Context) {
	status, data, err := w.doJSON(ctx, http.MethodPost, "/auth/refresh", nil, w.csrfHeader())
	if err == nil && status == http.StatusUnauthorized {
		w.rec.observeExpected("refresh_displaced", status)
		w.loggedIn = false
		return
	}
	w.rec.observe("refresh", status, err)
	if err != nil || status != http.StatusOK {
		w.loggedIn = false
		return
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.AccessToken != "" {
		w.accessToken = payload.AccessToken
	}
}

func (w *worker) me(ctx context.Context) {
	headers := map[string]string{"Authorization": "Bearer " + w.accessToken}
	status, _, err := w.doJSON(ctx, http.MethodGet, "/api/me", nil, headers)
	w.rec.observe("me", status, err)
	if status == http.StatusUnauthorized {
		w.loggedIn = false
	}
}

func (w *worker) csrfHeader() map[string]string {
	for _, c := range w.client.Jar.Cookies(w.base) {
		if c.Name == "csrf_token" {
			return map[string]string{"X-CSRF-Token": c.Value}
		}
	}
	return nil
}

// doJSON sends body as JSON and returns the envelope's data member.
func (w *worker) doJSON(ctx context.Context, method, path string, body any, headers map[string]string) (int, json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env.Data, nil
}

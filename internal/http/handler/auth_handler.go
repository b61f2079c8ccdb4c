package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/portalsso/sso-server/internal/http/response"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/security"
	"github.com/portalsso/sso-server/internal/service"
)

const oauthStateTTL = 10 * time.Minute

type AuthHandler struct {
	auth           service.AuthServiceInterface
	oauth          service.OAuthServiceInterface
	cookies        *security.CookieBinder
	portalURL      string
	googleErrorURL string
	logger         *slog.Logger
}

// NewAuthHandler builds the /auth handlers. oauth may be nil when Google login is disabled.
func NewAuthHandler(
	auth service.AuthServiceInterface,
	oauth service.OAuthServiceInterface,
	cookies *security.CookieBinder,
	portalURL, googleErrorURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:           auth,
		oauth:          oauth,
		cookies:        cookies,
		portalURL:      portalURL,
		googleErrorURL: googleErrorURL,
		logger:         logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,max=100"`
}

type authorizeQuery struct {
	ClientID    string `json:"client_id" validate:"required"`
	RedirectURI string `json:"redirect_uri" validate:"required"`
}

type tokenRequest struct {
	Code         string `json:"code" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	h.cookies.SetSessionCookies(w, result.Cookies)
	observability.Audit(r, "auth.login", "user_id", result.User.ID)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := authorizeQuery{ClientID: strings.TrimSpace(q.Get("client_id")), RedirectURI: strings.TrimSpace(q.Get("redirect_uri"))}
	if err := validateRequest(&req); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	result, err := h.auth.Authorize(r.Context(), req.ClientID, req.RedirectURI, security.GetCookie(r, security.CookiePortalSession))
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Token accepts the exchange as JSON or as an application/x-www-form-urlencoded body.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			response.WriteError(w, r, errMalformedBody, h.logger)
			return
		}
		req = tokenRequest{Code: r.PostForm.Get("code"), ClientID: r.PostForm.Get("client_id"), ClientSecret: r.PostForm.Get("client_secret")}
	} else if err := decodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	if err := validateRequest(&req); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	result, err := h.auth.TokenExchange(r.Context(), req.Code, req.ClientID, req.ClientSecret)
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.auth.Refresh(r.Context(), security.GetCookie(r, security.CookieRefreshToken))
	if err != nil {
		if errors.Is(err, service.ErrInvalidOrExpiredRefreshToken) {
			h.cookies.ClearSessionCookies(w)
		}
		response.WriteError(w, r, err, h.logger)
		return
	}
	h.cookies.SetSessionCookies(w, result.Cookies)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	plain := security.GetCookie(r, security.CookieRefreshToken)
	if err := h.auth.Logout(r.Context(), plain); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	if plain != "" {
		h.cookies.ClearSessionCookies(w)
	}
	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google login is disabled", nil)
		return
	}
	state, err := security.NewOpaqueSecret()
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	h.cookies.SetShortLived(w, security.CookieOAuthState, state, oauthStateTTL)
	http.Redirect(w, r, h.oauth.GoogleLoginURL(state), http.StatusFound)
}

// GoogleCallback never answers with JSON: the browser is sent to the portal on success and to
// the configured error page otherwise.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google login is disabled", nil)
		return
	}
	expected := security.GetCookie(r, security.CookieOAuthState)
	h.cookies.Expire(w, security.CookieOAuthState)
	q := r.URL.Query()
	if expected == "" || q.Get("state") != expected {
		h.logger.WarnContext(r.Context(), "google callback state mismatch", "request_id", observability.RequestIDFromContext(r.Context()))
		http.Redirect(w, r, h.googleErrorURL, http.StatusFound)
		return
	}
	result, err := h.oauth.HandleGoogleCallback(r.Context(), q.Get("code"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "google login failed", "error", err, "request_id", observability.RequestIDFromContext(r.Context()))
		http.Redirect(w, r, h.googleErrorURL, http.StatusFound)
		return
	}
	h.cookies.SetSessionCookies(w, result.Cookies)
	observability.Audit(r, "auth.login.google", "user_id", result.User.ID)
	http.Redirect(w, r, h.portalURL, http.StatusFound)
}

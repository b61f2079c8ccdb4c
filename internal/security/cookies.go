package security

import (
	"net/http"
	"net/url"
	"time"
)

const (
	CookieRefreshToken  = "refresh_token"
	CookieAccessToken   = "access_token"
	CookiePortalSession = "portal_session"
	CookieUserRole      = "user_role"
	CookieUserUnit      = "user_unit"
	CookieUserDivision  = "user_division"
	CookieCSRF          = "csrf_token"
	CookieOAuthState    = "oauth_state"
)

var sessionCookieNames = []string{
	CookieRefreshToken,
	CookiePortalSession,
	CookieUserRole,
	CookieUserUnit,
	CookieUserDivision,
	CookieCSRF,
	CookieAccessToken,
}

// SessionCookies are the values written after a login or a refresh. Empty PortalSession or CSRF
// values are skipped. Role, Unit and Division are percent-encoded for the portal frontend, which
// reads them with decodeURIComponent.
type SessionCookies struct {
	RefreshToken  string
	PortalSession string
	Role          string
	Unit          string
	Division      string
	CSRF          string
}

type CookieBinder struct {
	domain        string
	secure        bool
	refreshMaxAge time.Duration
	sessionMaxAge time.Duration
}

func NewCookieBinder(domain string, secure bool, refreshMaxAge, sessionMaxAge time.Duration) *CookieBinder {
	return &CookieBinder{domain: domain, secure: secure, refreshMaxAge: refreshMaxAge, sessionMaxAge: sessionMaxAge}
}

func (b *CookieBinder) SetSessionCookies(w http.ResponseWriter, c SessionCookies) {
	refreshAge := int(b.refreshMaxAge.Seconds())
	http.SetCookie(w, b.cookie(CookieRefreshToken, c.RefreshToken, refreshAge, true, http.SameSiteLaxMode))
	http.SetCookie(w, b.cookie(CookieUserRole, url.PathEscape(c.Role), refreshAge, false, http.SameSiteLaxMode))
	http.SetCookie(w, b.cookie(CookieUserUnit, url.PathEscape(c.Unit), refreshAge, false, http.SameSiteLaxMode))
	http.SetCookie(w, b.cookie(CookieUserDivision, url.PathEscape(c.Division), refreshAge, false, http.SameSiteLaxMode))
	if c.PortalSession != "" {
		http.SetCookie(w, b.cookie(CookiePortalSession, c.PortalSession, int(b.sessionMaxAge.Seconds()), true, http.SameSiteLaxMode))
	}
	if c.CSRF != "" {
		http.SetCookie(w, b.cookie(CookieCSRF, c.CSRF, refreshAge, false, http.SameSiteStrictMode))
	}
}

// ClearSessionCookies expires every session cookie on the host and, when a domain is configured,
// on the shared domain as well.
func (b *CookieBinder) ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range sessionCookieNames {
		http.SetCookie(w, b.expired(name, ""))
		if b.domain != "" {
			http.SetCookie(w, b.expired(name, b.domain))
		}
	}
}

// SetShortLived writes an httpOnly host-only cookie, used for the federation state.
func (b *CookieBinder) SetShortLived(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *CookieBinder) Expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, b.expired(name, ""))
}

func (b *CookieBinder) cookie(name, value string, maxAge int, httpOnly bool, sameSite http.SameSite) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   b.domain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		HttpOnly: httpOnly,
		Secure:   b.secure,
		SameSite: sameSite,
	}
}

func (b *CookieBinder) expired(name, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   b.secure,
	}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

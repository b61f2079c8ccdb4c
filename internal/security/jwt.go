package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypePortalSession = "portal_session"
	TokenTypeAccess        = "access"
)

var ErrMissingSigningSecret = errors.New("signing secret is required")

// Claims carries the identity shared by portal session and access tokens.
// Unit is the unit name, not its code.
type Claims struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	Unit      string `json:"unit"`
	Division  string `json:"division"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type Identity struct {
	UserID   string
	Role     string
	Unit     string
	Division string
}

// TokenCodec signs and verifies the two HS256 token classes. Each class has its own secret, so a
// token of one class never verifies as the other.
type TokenCodec struct {
	issuer        string
	sessionSecret []byte
	accessSecret  []byte
	sessionTTL    time.Duration
	accessTTL     time.Duration
	now           func() time.Time
}

func NewTokenCodec(issuer, sessionSecret, accessSecret string, sessionTTL, accessTTL time.Duration) (*TokenCodec, error) {
	if sessionSecret == "" || accessSecret == "" {
		return nil, ErrMissingSigningSecret
	}
	return &TokenCodec{
		issuer:        issuer,
		sessionSecret: []byte(sessionSecret),
		accessSecret:  []byte(accessSecret),
		sessionTTL:    sessionTTL,
		accessTTL:     accessTTL,
		now:           time.Now,
	}, nil
}

func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

func (c *TokenCodec) SessionTTL() time.Duration { return c.sessionTTL }

func (c *TokenCodec) SignPortalSession(id Identity) (string, error) {
	return c.sign(id, TokenTypePortalSession, c.sessionSecret, c.sessionTTL)
}

func (c *TokenCodec) VerifyPortalSession(raw string) (*Claims, error) {
	return c.parse(raw, c.sessionSecret, TokenTypePortalSession)
}

func (c *TokenCodec) SignAccessToken(id Identity) (string, error) {
	return c.sign(id, TokenTypeAccess, c.accessSecret, c.accessTTL)
}

func (c *TokenCodec) VerifyAccessToken(raw string) (*Claims, error) {
	return c.parse(raw, c.accessSecret, TokenTypeAccess)
}

func (c *TokenCodec) sign(id Identity, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		UserID:    id.UserID,
		Role:      id.Role,
		Unit:      id.Unit,
		Division:  id.Division,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *TokenCodec) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

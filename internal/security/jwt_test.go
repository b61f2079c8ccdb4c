package security

import (
	"errors"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec("portal-sso", "session-secret-abcdefghijklmnopqrstuvwxyz", "access-secret-abcdefghijklmnopqrstuvwxyz", time.Hour, 15*time.Minute)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestTokenCodecRoundTripKeepsIdentity(t *testing.T) {
	c := newTestCodec(t)
	id := Identity{UserID: "u-1", Role: "Admin", Unit: "Head Office", Division: "IT Support"}

	raw, err := c.SignAccessToken(id)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := c.VerifyAccessToken(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != id.UserID || claims.Role != id.Role || claims.Unit != id.Unit || claims.Division != id.Division {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenCodecClassesDoNotCrossVerify(t *testing.T) {
	c := newTestCodec(t)
	id := Identity{UserID: "u-1", Role: "Staff"}

	session, err := c.SignPortalSession(id)
	if err != nil {
		t.Fatalf("sign session: %v", err)
	}
	access, err := c.SignAccessToken(id)
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	if _, err := c.VerifyAccessToken(session); err == nil {
		t.Fatal("portal session must not verify as access token")
	}
	if _, err := c.VerifyPortalSession(access); err == nil {
		t.Fatal("access token must not verify as portal session")
	}
	if _, err := c.VerifyPortalSession(session); err != nil {
		t.Fatalf("verify session: %v", err)
	}
}

func TestTokenCodecRejectsExpiredAndForeignTokens(t *testing.T) {
	c := newTestCodec(t)
	c.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, err := c.SignAccessToken(Identity{UserID: "u-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c.now = time.Now
	if _, err := c.VerifyAccessToken(raw); err == nil {
		t.Fatal("expected expired token to fail")
	}

	other, err := NewTokenCodec("portal-sso", "another-session-secret-0123456789abcdef", "another-access-secret-0123456789abcdef", time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	foreign, _ := other.SignAccessToken(Identity{UserID: "u-1"})
	if _, err := c.VerifyAccessToken(foreign); err == nil {
		t.Fatal("expected token signed with another secret to fail")
	}
}

func TestNewTokenCodecRequiresSecrets(t *testing.T) {
	if _, err := NewTokenCodec("iss", "", "x", time.Hour, time.Minute); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
	if _, err := NewTokenCodec("iss", "x", "", time.Hour, time.Minute); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
}

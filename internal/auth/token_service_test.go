package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const (
	testSigningSecret = "token-service-secret"
	testIssuer        = "qrnotes-api"
	testCookieName    = "qr_session"
)

func newTestTokenService(t *testing.T, clock func() time.Time) *TokenService {
	t.Helper()
	service, err := NewTokenService(TokenServiceConfig{
		SigningSecret:   []byte(testSigningSecret),
		Issuer:          testIssuer,
		CookieName:      testCookieName,
		ClaimTokenTTL:   20 * time.Minute,
		SessionTokenTTL: 12 * time.Hour,
		Clock:           clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func TestClaimTokenRoundTrip(t *testing.T) {
	service := newTestTokenService(t, nil)

	token, err := service.IssueClaimToken("a@b.com", "abc")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	email, slug, err := service.VerifyClaimToken(token)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if email != "a@b.com" || slug != "abc" {
		t.Fatalf("unexpected payload: email=%q slug=%q", email, slug)
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	service := newTestTokenService(t, nil)

	token, maxAge, err := service.IssueSessionToken("user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if maxAge != int64((12 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max age %d", maxAge)
	}

	subject, err := service.VerifySessionToken(token)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	service := newTestTokenService(t, func() time.Time { return now })

	token, err := service.IssueClaimToken("a@b.com", "abc")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	now = now.Add(21 * time.Minute)
	if _, _, err := service.VerifyClaimToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	service := newTestTokenService(t, nil)

	token, err := service.IssueClaimToken("a@b.com", "abc")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, _, err := service.VerifyClaimToken(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	service := newTestTokenService(t, nil)
	other, err := NewTokenService(TokenServiceConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "some-other-service",
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, err := other.IssueClaimToken("a@b.com", "abc")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	if _, _, err := service.VerifyClaimToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	now := time.Unix(1700000000, 0)
	service := newTestTokenService(t, func() time.Time { return now })

	valid, err := service.IssueClaimToken("a@b.com", "abc")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	expired := valid
	tampered := valid[:len(valid)-2] + "xx"

	now = now.Add(time.Hour)
	failures := map[string]string{
		"expired":   expired,
		"tampered":  tampered,
		"malformed": "not.a.token",
		"empty":     "",
	}
	for name, token := range failures {
		_, _, err := service.VerifyClaimToken(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected the uniform ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestSessionTokenRejectedAsClaimToken(t *testing.T) {
	service := newTestTokenService(t, nil)

	token, _, err := service.IssueSessionToken("user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	if _, _, err := service.VerifyClaimToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong token kind, got %v", err)
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	service := newTestTokenService(t, nil)

	cookie := service.SessionCookie("token-value", 43200)
	if cookie.Name != testCookieName {
		t.Fatalf("unexpected cookie name %q", cookie.Name)
	}
	if cookie.Value != "token-value" {
		t.Fatalf("unexpected cookie value %q", cookie.Value)
	}
	if cookie.MaxAge != 43200 {
		t.Fatalf("unexpected max age %d", cookie.MaxAge)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("cookie must be HttpOnly and Secure: %+v", cookie)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected SameSite mode %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Fatalf("unexpected path %q", cookie.Path)
	}
	if !strings.Contains(cookie.String(), "HttpOnly") {
		t.Fatalf("serialized cookie missing HttpOnly: %s", cookie.String())
	}
}

func TestSessionFromRequest(t *testing.T) {
	service := newTestTokenService(t, nil)

	token, maxAge, err := service.IssueSessionToken("user-7")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	request.AddCookie(service.SessionCookie(token, maxAge))

	subject, err := service.SessionFromRequest(request)
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	if subject != "user-7" {
		t.Fatalf("unexpected subject %q", subject)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if _, err := service.SessionFromRequest(bare); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing cookie, got %v", err)
	}
}

func TestNewTokenServiceValidatesConfig(t *testing.T) {
	if _, err := NewTokenService(TokenServiceConfig{Issuer: testIssuer, CookieName: testCookieName}); err == nil {
		t.Fatalf("expected error for missing signing secret")
	}
	if _, err := NewTokenService(TokenServiceConfig{SigningSecret: []byte("s"), CookieName: testCookieName}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewTokenService(TokenServiceConfig{SigningSecret: []byte("s"), Issuer: testIssuer}); err == nil {
		t.Fatalf("expected error for missing cookie name")
	}
}

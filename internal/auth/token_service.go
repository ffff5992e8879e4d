package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultClaimTokenTTL   = 20 * time.Minute
	defaultSessionTokenTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingIssuer        = errors.New("auth: issuer must be provided")
	errMissingCookieName    = errors.New("auth: cookie name must be provided")

	// ErrInvalidToken is the single verification failure surfaced to
	// callers. Expired, tampered, wrong-issuer and malformed tokens all
	// collapse into it so that responses cannot act as an oracle.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// TokenServiceConfig configures the stateless token service.
type TokenServiceConfig struct {
	SigningSecret   []byte
	Issuer          string
	CookieName      string
	ClaimTokenTTL   time.Duration
	SessionTokenTTL time.Duration
	Clock           func() time.Time
}

// TokenService issues and verifies the two short-lived token kinds:
// claim tokens carried by magic links and session tokens carried by the
// owner cookie. Tokens are self-contained; there is no revocation list.
type TokenService struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	claimTTL      time.Duration
	sessionTTL    time.Duration
	clock         func() time.Time
}

// claimTokenClaims is the magic-link payload: proof of control over an
// email address, bound to a single slug.
type claimTokenClaims struct {
	Email string `json:"email"`
	Slug  string `json:"slug"`
	jwt.RegisteredClaims
}

// NewTokenService constructs a TokenService with sane defaults.
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, errMissingCookieName
	}
	claimTTL := cfg.ClaimTokenTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTokenTTL
	}
	sessionTTL := cfg.SessionTokenTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenService{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		claimTTL:      claimTTL,
		sessionTTL:    sessionTTL,
		clock:         clock,
	}, nil
}

// IssueClaimToken produces a signed magic-link token for email and slug.
func (s *TokenService) IssueClaimToken(email, slug string) (string, error) {
	now := s.clock().UTC()
	claims := claimTokenClaims{
		Email: email,
		Slug:  slug,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.claimTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", fmt.Errorf("auth: signing claim token: %w", err)
	}
	return signed, nil
}

// VerifyClaimToken validates a magic-link token and returns its payload.
// Any failure is reported as ErrInvalidToken.
func (s *TokenService) VerifyClaimToken(tokenString string) (email, slug string, err error) {
	claims := &claimTokenClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return "", "", ErrInvalidToken
	}
	if claims.Email == "" || claims.Slug == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Email, claims.Slug, nil
}

// IssueSessionToken produces a signed session token for the owner and
// returns it alongside its lifetime in whole seconds, for cookie framing.
func (s *TokenService) IssueSessionToken(userID string) (string, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return "", 0, fmt.Errorf("auth: session subject must be provided")
	}

	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", 0, fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, int64(s.sessionTTL.Seconds()), nil
}

// VerifySessionToken validates a session token and returns the subject
// user id. Any failure is reported as ErrInvalidToken.
func (s *TokenService) VerifySessionToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims) error {
	if strings.TrimSpace(tokenString) == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return s.signingSecret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return ErrInvalidToken
	}
	if parsed == nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

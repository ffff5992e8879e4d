package auth

import "net/http"

// CookieName returns the cookie name configured for session framing.
func (s *TokenService) CookieName() string {
	return s.cookieName
}

// SessionCookie frames a session token as a cookie directive. Attributes
// are fixed: HttpOnly, Secure, SameSite=Lax, Path=/, with Max-Age equal
// to the token's lifetime so cookie and token expire together.
func (s *TokenService) SessionCookie(token string, maxAgeSeconds int64) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAgeSeconds),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionFromRequest extracts the session cookie from the request and
// verifies it, returning the owner user id. A missing cookie and an
// invalid token are reported identically as ErrInvalidToken.
func (s *TokenService) SessionFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrInvalidToken
	}
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie == nil {
		return "", ErrInvalidToken
	}
	return s.VerifySessionToken(cookie.Value)
}

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token against secret.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// authMiddleware rejects requests without a valid bearer token. It is a
// no-op when the server has no secret. Browsers cannot set headers on
// EventSource or WebSocket requests, so access_token is also accepted as a
// query parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr := r.URL.Query().Get("access_token")
		if h := r.Header.Get("Authorization"); h != "" {
			var ok bool
			tokenStr, ok = strings.CutPrefix(h, "Bearer ")
			if !ok {
				s.writeError(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
				return
			}
		}
		if tokenStr == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := ParseToken(s.secret, tokenStr)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.logger.Debug("authenticated request", "subject", claims.Subject, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

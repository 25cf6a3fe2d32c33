package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type subjectKey struct{}

// Subject returns the authenticated subject attached by BearerAuth, or "".
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// BearerAuth accepts either an HS256 JWT signed with a shared secret or a
// static token whose bcrypt hash is configured.
type BearerAuth struct {
	jwtSecret []byte
	tokenHash []byte
}

// NewBearerAuth returns nil when neither a secret nor a token hash is set,
// which disables authentication.
func NewBearerAuth(jwtSecret, tokenHash string) *BearerAuth {
	if jwtSecret == "" && tokenHash == "" {
		return nil
	}
	return &BearerAuth{jwtSecret: []byte(jwtSecret), tokenHash: []byte(tokenHash)}
}

// IssueToken signs a JWT for subject valid for ttl.
func (a *BearerAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("no JWT secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// HashToken returns the bcrypt hash to configure for a static token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// Verify checks a bearer token and returns its subject.
func (a *BearerAuth) Verify(token string) (string, error) {
	if token == "" {
		return "", errors.New("missing authentication token")
	}
	if len(a.tokenHash) > 0 && bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) == nil {
		return "static-token", nil
	}
	if len(a.jwtSecret) == 0 {
		return "", errors.New("invalid authentication token")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid authentication token")
	}
	return claims.Subject, nil
}

// Require wraps next so that requests without a valid bearer token get 401.
func (a *BearerAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}

		subject, err := a.Verify(token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

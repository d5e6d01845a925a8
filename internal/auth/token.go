package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// PipelineClaims identifies an upload pipeline service account.
type PipelineClaims struct {
	Service string `json:"svc"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies bearer tokens for the processing pipeline.
// Pipeline calls are machine-to-machine, so they carry a signed token instead
// of a browser session.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager constructs the token manager.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// IssuePipelineToken mints an HS256 token for the named pipeline service.
func (m *TokenManager) IssuePipelineToken(service string) (string, error) {
	if service == "" {
		return "", errors.New("service name required")
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PipelineClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   "pipeline:" + service,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return token.SignedString(m.secret)
}

// VerifyPipelineToken validates the token and returns its claims.
func (m *TokenManager) VerifyPipelineToken(tokenString string) (*PipelineClaims, error) {
	claims := &PipelineClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
	}
	if !parsed.Valid || claims.Service == "" {
		return nil, shared.ErrInvalidCredentials
	}
	return claims, nil
}

// PipelineAuth resolves a Bearer token into a pipeline actor. Requests
// without a valid token are rejected before reaching the handlers.
func (m *TokenManager) PipelineAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		claims, err := m.VerifyPipelineToken(tokenString)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		actor := shared.Actor{
			Kind:      shared.ActorPipeline,
			IP:        r.RemoteAddr,
			UserAgent: claims.Service,
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

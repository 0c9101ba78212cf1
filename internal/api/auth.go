package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"archivist/internal/config"
	"archivist/internal/services"
)

const (
	// ScopeAdmin may read and mutate jobs.
	ScopeAdmin = "admin"
	// ScopeRead may only read.
	ScopeRead = "read"

	tokenIssuer  = "archivist"
	ctxClaimsKey = "auth_claims"
)

// Claims are carried by admin API tokens.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 bearer tokens.
type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration
	Now      func() time.Time
}

// NewTokenService builds a TokenService from the [api] config section.
func NewTokenService(cfg *config.Config) (*TokenService, error) {
	if cfg == nil || len(cfg.API.JWTSecret) < 16 {
		return nil, services.Wrap(services.ErrConfiguration, "api", "token service",
			"api.jwt_secret must be at least 16 characters", nil)
	}
	return &TokenService{
		Secret:   []byte(cfg.API.JWTSecret),
		Issuer:   tokenIssuer,
		Duration: cfg.TokenTTL(),
	}, nil
}

func (ts *TokenService) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

// Sign issues a token for subject with the given scope.
func (ts *TokenService) Sign(subject, scope string) (string, time.Time, error) {
	switch scope {
	case ScopeAdmin, ScopeRead:
	default:
		return "", time.Time{}, services.Wrap(services.ErrValidation, "api", "sign token", fmt.Sprintf("unknown scope %q", scope), nil)
	}
	issued := ts.now()
	exp := issued.Add(ts.Duration)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token string and returns its claims.
func (ts *TokenService) Parse(raw string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return ts.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authMiddleware requires a valid bearer token. Mutating methods also
// require the admin scope.
func authMiddleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Code: "unauthorized"})
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(header[len("Bearer "):]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "unauthorized"})
			return
		}
		if c.Request.Method != http.MethodGet && claims.Scope != ScopeAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "admin scope required", Code: "forbidden"})
			return
		}
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims of the current request.
func ClaimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(ctxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// Package auth guards the operator endpoints with HS256 bearer tokens.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront-fulfillment/internal/common/cache"
	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

const (
	Issuer       = "storefront-fulfillment"
	RoleOperator = "operator"

	// MinSecretLength is the shortest accepted signing secret
	MinSecretLength = 32
	DefaultTokenTTL = 24 * time.Hour

	blacklistPrefix = "jwt:blacklist:"
)

type Claims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Auth issues, validates and revokes operator tokens
type Auth struct {
	secret     []byte
	revocation cache.Cache
	logger     logging.Logger
	now        func() time.Time
}

// New creates the guard. revocation may be nil, in which case tokens cannot be revoked.
func New(secret string, revocation cache.Cache, logger logging.Logger) (*Auth, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.ConfigError("ADMIN_JWT_SECRET must be at least 32 characters")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Auth{
		secret:     []byte(secret),
		revocation: revocation,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "auth"}),
		now:        time.Now,
	}, nil
}

// GenerateJWT issues a token for operator valid for ttl
func (a *Auth) GenerateJWT(operator string, ttl time.Duration) (string, error) {
	if operator == "" {
		return "", errors.ValidationError("operator name is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := &Claims{
		Operator: operator,
		Role:     RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return token, nil
}

// ValidateJWT parses tokenString and rejects bad signatures, expired tokens,
// foreign issuers and revoked tokens.
func (a *Auth) ValidateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid token").WithCause(err)
	}
	if claims.Role != RoleOperator {
		return nil, errors.AuthError("token does not grant operator access")
	}

	if a.revocation != nil {
		var revoked bool
		found, err := a.revocation.Get(ctx, blacklistPrefix+tokenString, &revoked)
		if err != nil {
			a.logger.Warn("Token revocation check failed", logging.Field{Key: "error", Value: err.Error()})
		} else if found && revoked {
			return nil, errors.AuthError("token has been revoked")
		}
	}
	return claims, nil
}

// Revoke blacklists a token until it would have expired anyway
func (a *Auth) Revoke(ctx context.Context, tokenString string) error {
	if a.revocation == nil {
		return errors.ConfigError("token revocation is not available")
	}
	claims, err := a.ValidateJWT(ctx, tokenString)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return a.revocation.Set(ctx, blacklistPrefix+tokenString, true, ttl)
}

// RequireOperator rejects requests without a valid bearer token
func (a *Auth) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(r.Context(), strings.TrimSpace(token))
		if err != nil {
			a.logger.WithContext(r.Context()).Debug("Rejected operator token", logging.Field{Key: "error", Value: err.Error()})
			unauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// ClaimsFromContext returns the claims RequireOperator attached to the request
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": message})
}

package trailexport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Authentication failures split by HTTP mapping: missing and invalid tokens
// map to 401, a verified token without an accepted role maps to 403.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrRoleDenied   = errors.New("token roles lack export access")
)

// DefaultExportRoles lists the role claims permitted to drive exports.
var DefaultExportRoles = []string{"admin", "hospital"}

// TokenClaims is the JWT payload the export API accepts.
type TokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed bearer tokens and requires at least one
// claimed role from the accepted set.
type TokenVerifier struct {
	secret  []byte
	allowed map[string]struct{}
}

// NewTokenVerifier builds a verifier for the given HMAC secret. Without
// explicit roles the default export roles apply.
func NewTokenVerifier(secret []byte, roles ...string) *TokenVerifier {
	if len(roles) == 0 {
		roles = DefaultExportRoles
	}
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	return &TokenVerifier{secret: secret, allowed: allowed}
}

// Authorize extracts and verifies the request's bearer token.
func (v *TokenVerifier) Authorize(r *http.Request) (*TokenClaims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return nil, ErrMissingToken
	}
	return v.Verify(raw)
}

// Verify parses the token string and enforces the role requirement. Expiry
// and not-before checks come from the registered claims.
func (v *TokenVerifier) Verify(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	for _, role := range claims.Roles {
		if _, ok := v.allowed[strings.ToLower(strings.TrimSpace(role))]; ok {
			return claims, nil
		}
	}
	return nil, ErrRoleDenied
}

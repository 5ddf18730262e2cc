// Package auth issues and verifies the HS256 session tokens accepted by the
// domain verification API.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin may act on every organization.
const RoleAdmin = "admin"

// ErrEmptySecret is returned when creating an issuer without a signing secret.
var ErrEmptySecret = errors.New("jwt secret must not be empty")

// Claims are the JWT claims of an API session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	// OrgIDs lists the organizations the user administers.
	OrgIDs []string `json:"org_ids,omitempty"`
	Role   string   `json:"role,omitempty"`
}

// CanManage reports whether the token holder may manage orgID's domains.
func (c *Claims) CanManage(orgID uuid.UUID) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return slices.Contains(c.OrgIDs, orgID.String())
}

// TokenIssuer issues and verifies session tokens signed with a shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to 24 hours.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for userID scoped to orgIDs.
func (t *TokenIssuer) Issue(userID string, orgIDs []uuid.UUID, role string) (string, error) {
	now := time.Now().UTC()
	ids := make([]string, 0, len(orgIDs))
	for _, id := range orgIDs {
		ids = append(ids, id.String())
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		OrgIDs: ids,
		Role:   role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user")
	}
	return claims, nil
}

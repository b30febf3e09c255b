// Package auth provides password hashing and signed session token
// issuance and validation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "schoolhub"

// Claims is the set of custom claims stored inside a SchoolHub session token.
// The session id travels in the registered "jti" claim.
type Claims struct {
	AccountID      string `json:"uid"`
	OrganizationID string `json:"org_id,omitempty"`
	Elevated       bool   `json:"elevated,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the id of the server-side session the token refers to.
func (c *Claims) SessionID() string { return c.ID }

// IssueSessionToken creates and signs a token bound to sessionID.
func IssueSessionToken(sessionID, accountID, orgID string, elevated bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID:      accountID,
		OrganizationID: orgID,
		Elevated:       elevated,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates the token string and returns its Claims.
// Returns an error if the token is invalid, expired, or signed with a different key.
func ParseSessionToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ID == "" || claims.AccountID == "" {
		return nil, errors.New("token is missing session binding")
	}
	return claims, nil
}

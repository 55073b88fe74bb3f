package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultSessionTokenTTL = 15 * time.Minute

	// tokenIssuer is stamped into and required of every session token.
	tokenIssuer = "graylogic-sync"
)

// SessionClaims are carried by the token a session receives after login.
// The subject is the username.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
}

// Validate is called by the jwt parser after the registered claims pass.
func (c *SessionClaims) Validate() error {
	switch {
	case c.Subject == "":
		return errors.New("missing subject")
	case c.Role == "":
		return errors.New("missing role")
	case c.SessionID == "":
		return errors.New("missing session")
	}
	return nil
}

// GenerateSessionToken signs an HS256 token binding user to sessionID.
// A non-positive ttl uses the default of fifteen minutes.
func GenerateSessionToken(user *User, sessionID, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultSessionTokenTTL
	}
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      user.Role,
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken checks the signature, issuer and expiry of a token and
// returns its claims. Every failure wraps ErrTokenInvalid.
func ParseSessionToken(token, secret string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return &claims, nil
}

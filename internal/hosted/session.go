package hosted

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims carried by a gateway session token.
type SessionClaims struct {
	AgentID string `json:"agent,omitempty"`
	HappID  string `json:"happ,omitempty"`
	jwt.RegisteredClaims
}

// ParseSessionToken decodes token without verifying its signature.
//
// The claims only drive client-side flow such as showing the agent id or
// deciding whether to resume a session. The gateway remains authoritative.
func ParseSessionToken(token string) (*SessionClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token is empty")
	}

	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	return claims, nil
}

// ExpiringWithin reports whether the session is already expired or will
// expire within window of now. A token without exp never expires.
func (s *SessionClaims) ExpiringWithin(window time.Duration, now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return s.ExpiresAt.Time.Sub(now) <= window
}

package hosted

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseSessionToken(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	token := signToken(t, SessionClaims{
		AgentID: "zAgent",
		HappID:  "happ-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := ParseSessionToken(token)
	require.NoError(t, err)
	require.Equal(t, "zAgent", claims.AgentID)
	require.Equal(t, "happ-1", claims.HappID)
	require.False(t, claims.ExpiringWithin(time.Minute, now))
	require.True(t, claims.ExpiringWithin(2*time.Hour, now))
}

func TestParseSessionTokenWithoutExpiry(t *testing.T) {
	t.Parallel()

	claims, err := ParseSessionToken(signToken(t, SessionClaims{AgentID: "a"}))
	require.NoError(t, err)
	require.False(t, claims.ExpiringWithin(time.Hour, time.Now()))
}

func TestParseSessionTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseSessionToken("  ")
	require.ErrorContains(t, err, "token is empty")

	_, err = ParseSessionToken("not.a.jwt")
	require.Error(t, err)
}

package tokenizer

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/pairgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTTokenizer_RoundTrip(t *testing.T) {
	tok := NewJWTTokenizer([]byte("test-secret"), time.Hour, nil)

	signed, err := tok.Issue("ops@example.com", ScopeRead)
	require.NoError(t, err)

	op, err := tok.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", op.Subject)
	assert.Equal(t, ScopeRead, op.Scope)
}

func TestJWTTokenizer_DefaultScope(t *testing.T) {
	tok := NewJWTTokenizer([]byte("test-secret"), 0, nil)

	signed, err := tok.Issue("ops", "")
	require.NoError(t, err)

	op, err := tok.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, ScopeAdmin, op.Scope)
}

func TestJWTTokenizer_Expired(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Now())
	tok := NewJWTTokenizer([]byte("test-secret"), time.Minute, clk)

	signed, err := tok.Issue("ops", ScopeAdmin)
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	_, err = tok.Verify(signed)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestJWTTokenizer_Rejects(t *testing.T) {
	tok := NewJWTTokenizer([]byte("test-secret"), time.Hour, nil)

	other, err := NewJWTTokenizer([]byte("other-secret"), time.Hour, nil).Issue("ops", ScopeAdmin)
	require.NoError(t, err)

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Audience:  jwt.ClaimStrings{"someone-else"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"WrongSecret":   other,
		"WrongAudience": wrongAudience,
		"Garbage":       "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tok.Verify(token)
			assert.ErrorIs(t, err, core.ErrInvalidToken)
		})
	}
}

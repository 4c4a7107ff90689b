package drf_test

import (
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClaims(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := signToken(t, exp, 7)

	claims, err := drf.DecodeClaims(access)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.TokenType)
	assert.True(t, exp.Equal(claims.ExpiresAt.Time))

	user := drf.UserFromClaims(claims)
	assert.Equal(t, "7", user.ID)
	assert.Equal(t, "subject", user.Subject)
	assert.True(t, exp.Equal(user.ExpiresAt))
}

func TestDecodeClaims_Invalid(t *testing.T) {
	t.Parallel()

	_, err := drf.DecodeClaims("")
	require.ErrorIs(t, err, drf.ErrEmptyAccessToken)

	_, err = drf.DecodeClaims("not-a-jwt")
	require.Error(t, err)
}

func TestTokenPair_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name  string
		exp   time.Time
		grace time.Duration
		want  bool
	}{
		{name: "valid", exp: now.Add(time.Hour), want: false},
		{name: "past", exp: now.Add(-time.Minute), want: true},
		{name: "within grace", exp: now.Add(10 * time.Second), grace: 30 * time.Second, want: true},
		{name: "outside grace", exp: now.Add(time.Minute), grace: 30 * time.Second, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pair := &drf.TokenPair{Access: signToken(t, tt.exp, 1)}
			assert.Equal(t, tt.want, pair.Expired(now, tt.grace))
		})
	}
}

func TestTokenPair_ExpiredUndecodable(t *testing.T) {
	t.Parallel()

	pair := &drf.TokenPair{Access: "opaque"}
	assert.False(t, pair.Expired(time.Now(), 0))

	_, err := pair.Expiry()
	require.Error(t, err)
}

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testKey))
	require.NoError(t, err)
	return signed
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testKey)

	t.Run("valid token yields actor with groups", func(t *testing.T) {
		signed := signToken(t, jwt.MapClaims{
			"sub":    "user-17",
			"name":   "Dana Ops",
			"groups": []string{"records-managers", "witnesses"},
			"exp":    time.Now().Add(time.Hour).Unix(),
		})

		actor, err := v.Verify(signed)
		require.NoError(t, err)
		assert.Equal(t, "user-17", actor.ID)
		assert.Equal(t, "Dana Ops", actor.Name)
		assert.True(t, actor.InGroup("records-managers"))
		assert.False(t, actor.InGroup("auditors"))
	})

	t.Run("normalizes group claims", func(t *testing.T) {
		signed := signToken(t, jwt.MapClaims{
			"sub":    "user-18",
			"groups": []string{" compliance ", "compliance", "", "legal"},
			"exp":    time.Now().Add(time.Hour).Unix(),
		})

		actor, err := v.Verify(signed)
		require.NoError(t, err)
		assert.Equal(t, []string{"compliance", "legal"}, actor.Groups)
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
		signed, err := token.SignedString([]byte("other-key"))
		require.NoError(t, err)

		_, err = v.Verify(signed)
		assert.Error(t, err)
	})

	t.Run("rejects missing subject", func(t *testing.T) {
		signed := signToken(t, jwt.MapClaims{"name": "nobody"})
		_, err := v.Verify(signed)
		assert.Error(t, err)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		signed := signToken(t, jwt.MapClaims{
			"sub": "user-17",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(signed)
		assert.Error(t, err)
	})
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()

	_, ok := ActorFrom(ctx)
	assert.False(t, ok)

	actor := Actor{ID: "user-3", Groups: []string{"ops"}}
	ctx = WithActor(ctx, actor)

	got, ok := ActorFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/testutil"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWTSecret = []byte("test-secret-key-min-32-bytes-long!!")

func setupJWTService(t *testing.T, expiry time.Duration) *JWTService {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	redisDB := testutil.NewTestRedisDB(t, mr)
	t.Cleanup(func() {
		redisDB.Close()
		cleanup()
	})

	return NewJWTService(&config.JWTConfig{Secret: testJWTSecret, AccessExpiry: expiry}, redisDB)
}

func TestGenerateToken(t *testing.T) {
	jwtService := setupJWTService(t, 15*time.Minute)
	ctx := context.Background()
	userID := uuid.New()

	t.Run("round trips user and role", func(t *testing.T) {
		token, expiresAt, err := jwtService.GenerateToken(userID, RoleOperator)
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		claims, err := jwtService.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.UserID)
		assert.Equal(t, RoleOperator, claims.Role)
		assert.NotEmpty(t, claims.JTI)
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		_, _, err := jwtService.GenerateToken(userID, "admin")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("issues unique tokens", func(t *testing.T) {
		a, _, err := jwtService.GenerateToken(userID, RoleOwner)
		require.NoError(t, err)
		b, _, err := jwtService.GenerateToken(userID, RoleOwner)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestValidateToken(t *testing.T) {
	jwtService := setupJWTService(t, 15*time.Minute)
	ctx := context.Background()

	sign := func(claims Claims, method jwt.SigningMethod, key interface{}) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := func() Claims {
		return Claims{
			UserID: uuid.NewString(),
			JTI:    generateJTI(),
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	t.Run("defaults a missing role to owner", func(t *testing.T) {
		claims, err := jwtService.ValidateToken(ctx, sign(valid(), jwt.SigningMethodHS256, testJWTSecret))
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, claims.Role)
	})

	t.Run("rejects a wrong secret", func(t *testing.T) {
		_, err := jwtService.ValidateToken(ctx, sign(valid(), jwt.SigningMethodHS256, []byte("another-secret-another-secret-!!")))
		assert.Error(t, err)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		c := valid()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := jwtService.ValidateToken(ctx, sign(c, jwt.SigningMethodHS256, testJWTSecret))
		assert.Error(t, err)
	})

	t.Run("rejects a non-uuid subject", func(t *testing.T) {
		c := valid()
		c.UserID = "alice"
		_, err := jwtService.ValidateToken(ctx, sign(c, jwt.SigningMethodHS256, testJWTSecret))
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := jwtService.ValidateToken(ctx, "invalid.token.string")
		assert.Error(t, err)
	})
}

func TestRevokeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("blacklists a valid token", func(t *testing.T) {
		jwtService := setupJWTService(t, 15*time.Minute)
		token, _, err := jwtService.GenerateToken(uuid.New(), RoleOwner)
		require.NoError(t, err)

		require.NoError(t, jwtService.RevokeToken(ctx, token))

		_, err = jwtService.ValidateToken(ctx, token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "revoked")
	})

	t.Run("ignores expired tokens", func(t *testing.T) {
		jwtService := setupJWTService(t, time.Millisecond)
		token, _, err := jwtService.GenerateToken(uuid.New(), RoleOwner)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		assert.NoError(t, jwtService.RevokeToken(ctx, token))
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		jwtService := setupJWTService(t, time.Minute)

		err := jwtService.RevokeToken(ctx, "invalid.token.string")

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "token", verr.Field)
	})
}

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/identity"
)

const secret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenVerifier(t *testing.T) {
	v := identity.NewTokenVerifier(secret)

	t.Run("should extract the caller identity", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub":  "u1",
			"name": "Alice",
			"role": "student",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		caller, err := v.Verify(token)
		require.NoError(t, err)
		require.Equal(t, &identity.Identity{UserID: "u1", Name: "Alice", Role: "student"}, caller)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{"sub": "u1"})

		_, err := v.Verify(token)
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := v.Verify(token)
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})

	t.Run("should reject a token without a subject", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{"name": "Alice"})

		_, err := v.Verify(token)
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := v.Verify("not-a-token")
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})
}

func TestProofChecker(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	p := identity.NewProofChecker(rc, "examd-test", time.Second)

	t.Run("should consume a proof exactly once", func(t *testing.T) {
		require.NoError(t, rs.Set("examd-test:proof:p1", "1"))

		require.NoError(t, p.Consume(context.Background(), "p1"))

		err := p.Consume(context.Background(), "p1")
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized), "a replayed proof is rejected")
	})

	t.Run("should reject an unknown proof", func(t *testing.T) {
		err := p.Consume(context.Background(), "never-issued")
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})

	t.Run("should reject an empty proof", func(t *testing.T) {
		err := p.Consume(context.Background(), "")
		require.True(t, errors.IsReason(err, errors.ReasonUnauthorized))
	})
}

func TestAccessChecker(t *testing.T) {
	t.Run("should allow a granted collection", func(t *testing.T) {
		a := identity.NewAccessChecker(grantFunc(func(ctx context.Context, userID, collectionID string) (bool, error) {
			return userID == "u1" && collectionID == "col-1", nil
		}), time.Second)

		require.NoError(t, a.Allowed(context.Background(), "u1", "col-1"))

		err := a.Allowed(context.Background(), "u2", "col-1")
		require.True(t, errors.IsReason(err, errors.ReasonAccessDenied))
	})

	t.Run("should fail closed when the grant lookup errors", func(t *testing.T) {
		a := identity.NewAccessChecker(grantFunc(func(ctx context.Context, userID, collectionID string) (bool, error) {
			return true, context.DeadlineExceeded
		}), time.Second)

		err := a.Allowed(context.Background(), "u1", "col-1")
		require.True(t, errors.IsReason(err, errors.ReasonAccessDenied))
	})
}

type grantFunc func(ctx context.Context, userID, collectionID string) (bool, error)

func (f grantFunc) HasCollectionGrant(ctx context.Context, userID, collectionID string) (bool, error) {
	return f(ctx, userID, collectionID)
}

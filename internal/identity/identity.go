// Package identity wraps the external collaborators the engine consumes:
// bearer identity, collection access grants, and one-time human-verification
// proofs. Every check is a fast bounded lookup that fails closed.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/edupulse/examd/internal/errors"
)

// Identity is the verified caller, extracted from the externally issued token.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify validates a bearer token and extracts the caller identity. Expiry is
// enforced by the parser; anything malformed is Unauthenticated.
func (v *TokenVerifier) Verify(token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonUnauthorized),
			errors.WithMessagef("invalid bearer token"),
			errors.WithCause(err),
		)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonUnauthorized),
			errors.WithMessagef("token has no subject"),
		)
	}

	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return &Identity{UserID: sub, Name: name, Role: role}, nil
}

// ProofChecker consumes one-time human-verification proofs. The verification
// collaborator stores the proof under a keyed entry; GETDEL makes consumption
// atomic, so a replayed proof is indistinguishable from a missing one.
type ProofChecker struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func NewProofChecker(r redis.UniversalClient, prefix string, timeout time.Duration) *ProofChecker {
	return &ProofChecker{redis: r, prefix: prefix, timeout: timeout}
}

func (p *ProofChecker) Consume(ctx context.Context, proof string) error {
	if proof == "" {
		return errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonUnauthorized),
			errors.WithMessagef("missing human-verification proof"),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.redis.GetDel(ctx, fmt.Sprintf("%s:proof:%s", p.prefix, proof)).Err()
	if err == redis.Nil {
		return errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonUnauthorized),
			errors.WithMessagef("unknown or already used human-verification proof"),
		)
	}
	if err != nil {
		// Fail closed: an unreachable proof store denies access.
		return errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonUnauthorized),
			errors.WithMessagef("proof verification unavailable"),
			errors.WithCause(err),
		)
	}

	return nil
}

// GrantStore is the read side of the enrollment collaborator's access facts.
type GrantStore interface {
	HasCollectionGrant(ctx context.Context, userID, collectionID string) (bool, error)
}

type AccessChecker struct {
	grants  GrantStore
	timeout time.Duration
}

func NewAccessChecker(grants GrantStore, timeout time.Duration) *AccessChecker {
	return &AccessChecker{grants: grants, timeout: timeout}
}

// Allowed checks the collection grant, failing closed on lookup errors.
func (a *AccessChecker) Allowed(ctx context.Context, userID, collectionID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.grants.HasCollectionGrant(ctx, userID, collectionID)
	if err != nil {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonAccessDenied),
			errors.WithMessagef("access check unavailable"),
			errors.WithCause(err),
		)
	}
	if !ok {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonAccessDenied),
			errors.WithMessagef("no access to collection %s", collectionID),
		)
	}

	return nil
}

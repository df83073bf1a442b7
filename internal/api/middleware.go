package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/identity"
)

const identityKey = "examd.identity"

// BearerAuth verifies the externally issued bearer token and stashes the
// caller identity on the request context. No engine route is reachable
// without it.
func BearerAuth(tokens *identity.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			renderError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithReason(errors.ReasonUnauthorized),
				errors.WithMessagef("missing bearer token"),
			))
			return
		}

		caller, err := tokens.Verify(token)
		if err != nil {
			renderError(c, err)
			return
		}

		c.Set(identityKey, caller)
		c.Next()
	}
}

func callerIdentity(c *gin.Context) *identity.Identity {
	return c.MustGet(identityKey).(*identity.Identity)
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

const (
	CtxClaimsKey       = "authClaims"
	CtxPrincipalIDKey  = "principalID"
	CtxRoleKey         = "principalRole"
	CtxSessionTokenKey = "sessionToken"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrAuthenticationRequired)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrAuthenticationRequired)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalIDKey, claims.PrincipalID)
		c.Set(CtxRoleKey, claims.Role)
		if claims.SessionToken != "" {
			c.Set(CtxSessionTokenKey, claims.SessionToken)
		}

		c.Next()
	}
}

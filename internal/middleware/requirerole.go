package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// RequireRole rejects requests whose authenticated role ranks below the
// minimum. Roles are strictly ordered USER < EDITOR < ADMIN; an unknown or
// missing role never passes.
func RequireRole(minimum models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := c.Get(CtxRoleKey)
		if !ok {
			response.Error(c, errors.ErrAuthenticationRequired)
			c.Abort()
			return
		}

		value, _ := raw.(string)
		role, err := models.ParseRole(value)
		if err != nil || !role.AtLeast(minimum) {
			response.Error(c, errors.ErrAccessDenied)
			c.Abort()
			return
		}

		c.Next()
	}
}

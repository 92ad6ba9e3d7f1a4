package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/models"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// actingPrincipal extracts the authenticated principal ID and role from the
// request context. A missing identity writes a 401 and returns false.
func actingPrincipal(c *gin.Context) (string, models.Role, bool) {
	v, ok := c.Get(middleware.CtxPrincipalIDKey)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return "", "", false
	}
	principalID, _ := v.(string)

	raw, _ := c.Get(middleware.CtxRoleKey)
	value, _ := raw.(string)
	role, err := models.ParseRole(value)
	if err != nil {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return "", "", false
	}

	return principalID, role, true
}

// resolveTarget decides which principal an operation acts on. An empty
// requested ID targets the acting principal; targeting someone else requires
// ADMIN. Writes the error response itself when access is denied.
func resolveTarget(c *gin.Context, requested string) (string, bool) {
	actorID, role, ok := actingPrincipal(c)
	if !ok {
		return "", false
	}

	requested = strings.TrimSpace(requested)
	if requested == "" || requested == actorID {
		return actorID, true
	}
	if !role.AtLeast(models.RoleAdmin) {
		response.Error(c, appErrors.ErrAccessDenied)
		return "", false
	}
	return requested, true
}

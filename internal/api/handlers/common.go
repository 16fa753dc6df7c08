// Package handlers implements the HTTP endpoints of the Aegis API.
package handlers

import (
	"strconv"

	"github.com/MacJediWizard/aegis/internal/api/middleware"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// parseID reads a UUID path parameter, responding 400 when it is malformed.
func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes the request body, responding 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid request: %v", err))
		return false
	}
	return true
}

// listLimit reads the optional limit query parameter.
func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		apperr.Respond(c, apperr.BadRequest("limit must be a positive integer"))
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// caller returns the authenticated identity or aborts with 401.
func caller(c *gin.Context) *auth.Identity {
	return middleware.RequireIdentity(c)
}

// perm is shorthand for the route-level permission check.
func perm(p auth.Permission) gin.HandlerFunc {
	return middleware.RequirePermission(p)
}

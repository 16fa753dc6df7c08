// Package middleware provides HTTP middleware for the Aegis API.
package middleware

import (
	"errors"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// IdentityContextKey is the context key for the verified caller.
	IdentityContextKey ContextKey = "identity"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*auth.Identity, error)
}

// AuthMiddleware returns a Gin middleware that requires a valid bearer token
// scoped to a tenant. A missing or invalid token is 401; a token without a
// tenant is 403.
func AuthMiddleware(verifier TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		raw, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "authentication required"))
			return
		}

		identity, err := verifier.Verify(raw)
		if err != nil {
			if errors.Is(err, auth.ErrNoTenant) {
				apperr.Respond(c, apperr.New(apperr.CodeForbidden, "token is not scoped to a tenant"))
				return
			}
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("rejected token")
			apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "invalid or expired token"))
			return
		}

		c.Set(string(IdentityContextKey), identity)
		c.Next()
	}
}

// GetIdentity retrieves the verified caller from the Gin context.
// Returns nil if no caller is authenticated.
func GetIdentity(c *gin.Context) *auth.Identity {
	v, exists := c.Get(string(IdentityContextKey))
	if !exists {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequireIdentity gets the caller or aborts with 401.
// Use this in handlers that expect AuthMiddleware to have already run.
func RequireIdentity(c *gin.Context) *auth.Identity {
	identity := GetIdentity(c)
	if identity == nil {
		apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return nil
	}
	return identity
}

// RequirePermission aborts with 403 unless the caller's role grants perm.
func RequirePermission(perm auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := RequireIdentity(c)
		if identity == nil {
			return
		}
		if err := auth.RequireRolePermission(identity.Role, perm); err != nil {
			apperr.Respond(c, apperr.New(apperr.CodeForbidden, "insufficient permissions"))
			return
		}
		c.Next()
	}
}

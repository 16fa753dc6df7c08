package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With, X-Request-ID, X-Aegis-Webhook-Token"
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsExposeHeaders = "Content-Disposition, X-Estimated-Rows, X-Request-ID"
)

// originPolicy matches Origin headers against exact origins and
// "scheme://*.domain" wildcards.
type originPolicy struct {
	any       bool
	exact     map[string]bool
	wildcards []string // "scheme://" + ".domain"
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{any: len(origins) == 0, exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if scheme, rest, ok := strings.Cut(o, "://*."); ok {
			p.wildcards = append(p.wildcards, scheme+"://|."+rest)
			continue
		}
		p.exact[o] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	origin = strings.ToLower(origin)
	if p.exact[origin] {
		return true
	}
	for _, w := range p.wildcards {
		prefix, suffix, _ := strings.Cut(w, "|")
		host, ok := strings.CutPrefix(origin, prefix)
		if ok && strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// CORS returns the CORS middleware. An empty allowedOrigins allows every
// origin outside production and is an error in production.
func CORS(allowedOrigins []string, env config.Environment, logger zerolog.Logger) (gin.HandlerFunc, error) {
	if len(allowedOrigins) == 0 {
		if env == config.EnvProduction {
			return nil, fmt.Errorf("CORS_ORIGINS must be set in production")
		}
		logger.Warn().Msg("CORS_ORIGINS is empty, all origins are allowed")
	}
	policy := newOriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if policy.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			h.Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}, nil
}

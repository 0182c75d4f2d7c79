package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

// TokenVerifier checks a Google-signed OIDC token. *idtoken.Validator
// satisfies it.
type TokenVerifier interface {
	Validate(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// PushAuthConfig enables bearer token checks on the push endpoint.
type PushAuthConfig struct {
	Verifier TokenVerifier
	// Audience must match the token's aud claim.
	Audience string
	// ServiceAccount, when set, must match the token's verified email claim.
	ServiceAccount string
}

// PushAuth rejects push requests that do not carry a valid OIDC bearer token
// for the configured audience: 401 without a token, 403 for a bad one.
func PushAuth(cfg PushAuthConfig, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token in Authorization header", nil)
			c.Abort()
			return
		}
		if cfg.Audience == "" || cfg.Verifier == nil {
			writeError(c, http.StatusInternalServerError, "AUTH_MISCONFIGURED", "push audience not configured", nil)
			c.Abort()
			return
		}
		payload, err := cfg.Verifier.Validate(c.Request.Context(), token, cfg.Audience)
		if err != nil {
			log.Warn().Err(err).Str("audience", cfg.Audience).Int("token_len", len(token)).Msg("push token rejected")
			writeError(c, http.StatusForbidden, "INVALID_TOKEN", "invalid push token", nil)
			c.Abort()
			return
		}
		if cfg.ServiceAccount != "" && !signedBy(payload, cfg.ServiceAccount) {
			log.Warn().Str("subject", payload.Subject).Msg("push token from unexpected service account")
			writeError(c, http.StatusForbidden, "INVALID_TOKEN", "push token signed by unexpected account", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func signedBy(p *idtoken.Payload, account string) bool {
	email, _ := p.Claims["email"].(string)
	verified, _ := p.Claims["email_verified"].(bool)
	return verified && strings.EqualFold(email, account)
}

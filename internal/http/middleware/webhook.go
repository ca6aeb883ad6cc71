// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the webhook guard. Telegram delivers updates to
// POST /bot/<token>; the guard checks the token path segment and, when a
// secret was registered with setWebhook, the secret header. Verified
// deliveries are marked so that:
//   - handlers can detect them (IsVerifiedWebhook)
//   - the per-IP rate limiter skips them (Telegram sends from a small pool
//     of addresses and retries anything it considers undelivered)
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderSecretToken carries the secret_token given to setWebhook.
const HeaderSecretToken = "X-Telegram-Bot-Api-Secret-Token"

// Context keys used internally to stash webhook state.
const (
	ctxKeyWebhookOK  = "webhook.verified"
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// IsVerifiedWebhook reports whether WebhookGuard accepted this request.
func IsVerifiedWebhook(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyWebhookOK)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// WebhookOptions configures WebhookGuard.
type WebhookOptions struct {
	// Token is the bot token expected in the path.
	Token string
	// Secret, when non-empty, must match HeaderSecretToken.
	Secret string
	// Param names the path parameter holding the token. Defaults to "token".
	Param string
}

// WebhookGuard validates a webhook delivery.
//
// Behavior:
//   - Wrong or missing token: 404, so the endpoint does not confirm that a
//     bot lives here.
//   - Wrong or missing secret (when configured): 401.
//   - Otherwise the request is marked verified and rate-limit exempt.
//
// Comparisons run in constant time.
func WebhookGuard(opts WebhookOptions) gin.HandlerFunc {
	param := opts.Param
	if param == "" {
		param = "token"
	}
	token := []byte(opts.Token)
	secret := []byte(opts.Secret)

	return func(c *gin.Context) {
		got := []byte(c.Param(param))
		if len(token) == 0 || subtle.ConstantTimeCompare(got, token) != 1 {
			webhookDeliveries.WithLabelValues(webhookBadToken).Inc()
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"code":    "not_found",
				"message": "route not found",
			})
			return
		}
		if len(secret) > 0 && subtle.ConstantTimeCompare([]byte(c.GetHeader(HeaderSecretToken)), secret) != 1 {
			webhookDeliveries.WithLabelValues(webhookBadSecret).Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "invalid webhook secret",
			})
			return
		}

		webhookDeliveries.WithLabelValues(webhookAccepted).Inc()
		c.Set(ctxKeyWebhookOK, true)
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}
}

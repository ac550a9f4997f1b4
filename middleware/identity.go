package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/roxy/utils"
)

const contextFallbackIDKey = "fallback_identity"

// ClientIP extracts the visitor IP. Proxy headers are only trusted when the
// deployment declares itself proxied.
// Priority: CF-Connecting-IP > X-Real-IP > first of X-Forwarded-For > socket address.
func ClientIP(c *gin.Context, proxied bool) string {
	if proxied {
		if v := headerIP(c.GetHeader("CF-Connecting-IP")); v != "" {
			return v
		}
		if v := headerIP(c.GetHeader("X-Real-IP")); v != "" {
			return v
		}
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			if v := headerIP(strings.Split(xff, ",")[0]); v != "" {
				return v
			}
		}
	}
	return normalizeIP(stripPort(c.Request.RemoteAddr))
}

// RequestIP is ClientIP with a random per-request fallback, so requests with no
// attributable address never share one bucket.
func RequestIP(c *gin.Context, proxied bool) string {
	if ip := ClientIP(c, proxied); ip != "" {
		return ip
	}
	if v, ok := c.Get(contextFallbackIDKey); ok {
		return v.(string)
	}
	id := utils.RandomString(12)
	c.Set(contextFallbackIDKey, id)
	return id
}

// Identity is the rate-limit identity of the request: the authenticated user
// id once a guard resolved one, the client IP otherwise.
func Identity(c *gin.Context, proxied bool) string {
	if user, ok := CurrentUser(c); ok {
		return user.ID
	}
	return RequestIP(c, proxied)
}

// Visit describes the request for click accounting.
func Visit(c *gin.Context, proxied bool) utils.Visit {
	return utils.Visit{
		IP:        RequestIP(c, proxied),
		UserAgent: c.Request.UserAgent(),
	}
}

func headerIP(v string) string {
	v = normalizeIP(stripPort(strings.TrimSpace(v)))
	if net.ParseIP(v) == nil {
		return ""
	}
	return v
}

func stripPort(ip string) string {
	if h, _, err := net.SplitHostPort(ip); err == nil {
		return h
	}
	return ip
}

// normalizeIP drops the IPv4-mapped IPv6 prefix.
func normalizeIP(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}

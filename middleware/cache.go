package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/roxy/utils"
)

const longCache = "public, max-age=2592000"

// CacheControl disables caching except for raw files and link-preview bots.
func CacheControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/files/") || utils.IsBot(c.Request.UserAgent()) {
			c.Header("Cache-Control", longCache)
		} else {
			c.Header("Cache-Control", "no-cache")
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/roxy/utils"
)

// ErrorHandler renders the last error recorded with utils.Abort, unless a
// response was already written.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		utils.RenderError(c, c.Errors.Last().Err)
	}
}

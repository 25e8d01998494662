package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids browsers and proxies from caching a response. Exam papers
// and results are per candidate and must never be served from a shared cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

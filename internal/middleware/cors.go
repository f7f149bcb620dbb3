// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS 是一个允许跨域访问的 Gin 中间件。浏览器端与 API 不同源，
// SSE 请求同样需要放行。
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Cache-Control, X-Requested-With")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health returns a handler for GET /health. It never touches the browser.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

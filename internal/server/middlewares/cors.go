package middlewares

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows any origin to read the tree; the dev server holds nothing private.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:    []string{"*"},
		AllowHeaders:    []string{"*"},
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowWebSockets: true,
	})
}

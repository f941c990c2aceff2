package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/idsync/internal/server/handlers/events"
	"github.com/openmined/idsync/internal/server/handlers/tree"
	"github.com/openmined/idsync/internal/server/middlewares"
	"github.com/openmined/idsync/internal/version"
)

func SetupRoutes(cfg *Config, treeH *tree.TreeHandler, hub *events.Hub) (http.Handler, error) {
	r := gin.New()

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	r.Use(middlewares.Secure(cfg.TLS()))

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	if cfg.RateLimit != "" {
		limit, err := middlewares.RateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limit)
	}
	{
		v1.GET("/changes", treeH.Changes)
		v1.POST("/apply", treeH.Apply)
		v1.GET("/tree", treeH.Tree)
		v1.POST("/action", treeH.Action)
		v1.GET("/events", hub.Handler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

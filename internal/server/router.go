package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"spawnhub/internal/auth"
	"spawnhub/internal/authz"
	"spawnhub/internal/handler"
	"spawnhub/internal/hub"
	"spawnhub/internal/lifecycle"
	"spawnhub/internal/middleware"
	"spawnhub/internal/provision"
	"spawnhub/internal/registry"
)

type Deps struct {
	Registry    *registry.Registry
	Provisioner *provision.Provisioner
	Controller  *lifecycle.Controller
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	AdminAccess bool
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	r.GET("/login", func(c *gin.Context) {
		c.Redirect(http.StatusFound, deps.Registry.LoginURL())
	})

	gate := &authz.Gate{Accounts: deps.Registry}
	tokenLimiter := middleware.NewRateLimiter(10, time.Minute)

	userHandler := &handler.UserHandler{
		Registry:           deps.Registry,
		Provisioner:        deps.Provisioner,
		Controller:         deps.Controller,
		Gate:               gate,
		TokenConfig:        deps.TokenConfig,
		TokenLimiter:       tokenLimiter,
		AdminAccessEnabled: deps.AdminAccess,
	}
	serverHandler := &handler.ServerHandler{
		Registry:   deps.Registry,
		Controller: deps.Controller,
		Gate:       gate,
	}
	versionHandler := &handler.VersionHandler{}

	api := r.Group("/api")
	api.GET("/version", versionHandler.Check)
	api.Use(middleware.RequireAuth(deps.TokenConfig))

	api.GET("/user", userHandler.Self)
	api.GET("/users", userHandler.List)
	api.POST("/users", userHandler.CreateMany)
	api.GET("/users/pwd/:name", userHandler.Pwd)
	api.POST("/users/pwd/:name", userHandler.PwdNoop)
	api.GET("/users/:name", userHandler.Get)
	api.POST("/users/:name", userHandler.Create)
	api.PATCH("/users/:name", userHandler.Patch)
	api.DELETE("/users/:name", userHandler.Delete)
	api.POST("/users/:name/tokens", userHandler.CreateToken)
	api.POST("/users/:name/admin-access", userHandler.AdminAccess)

	api.POST("/users/:name/server", serverHandler.Spawn)
	api.DELETE("/users/:name/server", serverHandler.Stop)
	api.POST("/users/:name/servers", serverHandler.SpawnNamed)
	api.DELETE("/users/:name/servers/:label", serverHandler.StopNamed)

	if deps.Hub != nil {
		eventsHandler := &handler.EventsHandler{Hub: deps.Hub, TokenConfig: deps.TokenConfig}
		r.GET("/api/events", eventsHandler.Serve)
	}

	return r
}

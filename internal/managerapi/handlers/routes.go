package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/stats"
)

// Deps are the services the API exposes.
type Deps struct {
	Config     config.ManagerAPIConfig
	Router     *router.Service
	Connectors ConnectorManager
	Stats      *stats.Registry
	Profile    string // default persistence profile
}

// SetupRoutes configures the Gin engine with all API routes.
func SetupRoutes(r gin.IRouter, deps Deps) {
	authHandler := NewAuthHandler(deps.Config)
	userHandler := NewUserHandler(deps.Router)
	groupHandler := NewGroupHandler(deps.Router)
	mtHandler := NewMTRouteHandler(deps.Router)
	moHandler := NewMORouteHandler(deps.Router)
	connectorHandler := NewConnectorHandler(deps.Connectors)
	persistenceHandler := NewPersistenceHandler(deps.Router, deps.Connectors, deps.Profile)
	statsHandler := NewStatsHandler(deps.Stats, deps.Connectors)
	messageHandler := NewMessageHandler(deps.Router, deps.Connectors, deps.Stats)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.POST("/login", authHandler.Login)

	// Sending users authenticate with their own credentials.
	r.POST("/submit_sm", messageHandler.SubmitSm)
	r.GET("/submit_sm", messageHandler.SubmitSm)

	admin := r.Group("", authHandler.Middleware())

	// --- User Routes ---
	userGroup := admin.Group("/users")
	{
		userGroup.POST("", userHandler.CreateUser)
		userGroup.GET("", userHandler.ListUsers)
		userGroup.DELETE("", userHandler.DeleteAllUsers)
		userGroup.GET("/:uid", userHandler.GetUser)
		userGroup.PATCH("/:uid", userHandler.UpdateUser)
		userGroup.DELETE("/:uid", userHandler.DeleteUser)
		userGroup.POST("/:uid/enable", userHandler.EnableUser)
		userGroup.POST("/:uid/disable", userHandler.DisableUser)
		userGroup.POST("/:uid/quotas", userHandler.UpdateQuota)
	}

	// --- Group Routes ---
	groupGroup := admin.Group("/groups")
	{
		groupGroup.POST("", groupHandler.CreateGroup)
		groupGroup.GET("", groupHandler.ListGroups)
		groupGroup.DELETE("", groupHandler.DeleteAllGroups)
		groupGroup.GET("/:gid", groupHandler.GetGroup)
		groupGroup.DELETE("/:gid", groupHandler.DeleteGroup)
		groupGroup.POST("/:gid/enable", groupHandler.EnableGroup)
		groupGroup.POST("/:gid/disable", groupHandler.DisableGroup)
	}

	// --- Routing Table Routes ---
	for prefix, h := range map[string]*RouteHandler{"/mtroutes": mtHandler, "/moroutes": moHandler} {
		g := admin.Group(prefix)
		g.POST("", h.CreateRoute)
		g.GET("", h.ListRoutes)
		g.DELETE("", h.FlushRoutes)
		g.GET("/:order", h.GetRoute)
		g.DELETE("/:order", h.DeleteRoute)
	}

	// --- SMPP Client Connector Routes ---
	connectorGroup := admin.Group("/connectors")
	{
		connectorGroup.POST("", connectorHandler.CreateConnector)
		connectorGroup.GET("", connectorHandler.ListConnectors)
		connectorGroup.GET("/:cid", connectorHandler.GetConnector)
		connectorGroup.PATCH("/:cid", connectorHandler.UpdateConnector)
		connectorGroup.DELETE("/:cid", connectorHandler.DeleteConnector)
		connectorGroup.POST("/:cid/start", connectorHandler.StartConnector)
		connectorGroup.POST("/:cid/stop", connectorHandler.StopConnector)
	}

	// --- Persistence Routes ---
	admin.GET("/persist", persistenceHandler.Status)
	admin.POST("/persist", persistenceHandler.Persist)
	admin.POST("/load", persistenceHandler.Load)

	// --- Stats Routes ---
	statsGroup := admin.Group("/stats")
	{
		statsGroup.GET("/api", statsHandler.APIStats)
		statsGroup.GET("/connectors", statsHandler.AllConnectorStats)
		statsGroup.GET("/connectors/:cid", statsHandler.ConnectorStats)
	}
}

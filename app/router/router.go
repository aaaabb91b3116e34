package router

import (
	"bothost/app/handler"
	"bothost/app/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router Router
type Router struct {
	apiKey            string
	deploymentHandler *handler.DeploymentHandler
	nodeHandler       *handler.NodeHandler
	logHandler        *handler.LogHandler
	systemHandler     *handler.SystemHandler
}

// NewRouter creates a new Router
func NewRouter(apiKey string, deploymentHandler *handler.DeploymentHandler, nodeHandler *handler.NodeHandler, logHandler *handler.LogHandler, systemHandler *handler.SystemHandler) *Router {
	return &Router{
		apiKey:            apiKey,
		deploymentHandler: deploymentHandler,
		nodeHandler:       nodeHandler,
		logHandler:        logHandler,
		systemHandler:     systemHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// Unauthenticated probes
	engine.GET("/healthz", r.systemHandler.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(r.apiKey))
	{
		deployments := v1.Group("/deployments")
		{
			deployments.GET("", r.deploymentHandler.List)
			deployments.POST("", r.deploymentHandler.Create)
			deployments.GET("/:id", r.deploymentHandler.Get)
			deployments.POST("/:id/deploy", r.deploymentHandler.Deploy)
			deployments.POST("/:id/stop", r.deploymentHandler.Stop)
			deployments.POST("/:id/test-run", r.deploymentHandler.TestRun)
			deployments.POST("/:id/backup", r.deploymentHandler.Backup)
			deployments.PUT("/:id/auto-restart", r.deploymentHandler.SetAutoRestart)
			deployments.GET("/:id/events", r.deploymentHandler.Events)
			deployments.GET("/:id/analytics", r.deploymentHandler.Analytics)
			deployments.GET("/:id/logs", r.logHandler.Tail)
			deployments.GET("/:id/logs/stream", r.logHandler.Stream)
		}

		nodes := v1.Group("/nodes")
		{
			nodes.GET("", r.nodeHandler.List)
			nodes.PUT("/:id/status", r.nodeHandler.SetStatus)
		}

		system := v1.Group("/system")
		{
			system.GET("/events", r.systemHandler.ServerEvents)
			system.GET("/snapshots", r.systemHandler.ListSnapshots)
			system.POST("/snapshots", r.systemHandler.CreateSnapshot)
			system.POST("/self-heal", r.systemHandler.SelfHeal)
			system.POST("/nodes/reconcile", r.systemHandler.ReconcileNodes)
		}

		v1.POST("/sales", r.systemHandler.RecordSale)
		v1.GET("/users/:user_id/notifications", r.systemHandler.Notifications)
		v1.POST("/users/:user_id/notifications/read", r.systemHandler.MarkNotificationsRead)
	}
}

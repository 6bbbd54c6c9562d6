package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

// Handlers aggregates every handler group mounted on the router.
type Handlers struct {
	Approval  *ApprovalHandlers
	Chains    *ChainHandlers
	Jobs      *JobHandlers
	Servers   *ServerHandlers
	Templates *TemplateHandlers
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(h Handlers, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	approvalGroup := router.Group("/approval")
	{
		approvalGroup.GET("/:token", h.Approval.HandleGetDetails)
		approvalGroup.GET("/:token/parameters", h.Approval.HandleGetParameters)
		approvalGroup.POST("/:token/approve", h.Approval.HandleApprove)
		approvalGroup.POST("/:token/reject", h.Approval.HandleReject)
	}

	chainGroup := router.Group("/chains")
	{
		chainGroup.POST("", h.Chains.HandleSubmitChain)
		chainGroup.POST("/validate", h.Chains.HandleValidateChain)
		chainGroup.GET("", h.Chains.HandleListChains)
		chainGroup.GET("/:id", h.Chains.HandleGetChain)
		chainGroup.GET("/:id/status", h.Chains.HandleGetChainStatus)
		chainGroup.POST("/:id/cancel", h.Chains.HandleCancelChain)
	}

	jobGroup := router.Group("/jobs")
	{
		jobGroup.GET("", h.Jobs.HandleListJobs)
		jobGroup.GET("/:id", h.Jobs.HandleGetJob)
	}

	router.POST("/workflows/:name/execute", h.Jobs.HandleSubmitJob)

	artifactGroup := router.Group("/artifacts")
	{
		artifactGroup.GET("/:id", h.Jobs.HandleGetArtifact)
		artifactGroup.GET("/:id/content", h.Jobs.HandleGetArtifactContent)
	}
	router.GET("/files/:filename", h.Jobs.HandleServeFile)

	serverGroup := router.Group("/servers")
	{
		serverGroup.GET("", h.Servers.HandleListServers)
		serverGroup.POST("", h.Servers.HandleRegisterServer)
		serverGroup.DELETE("", h.Servers.HandleUnregisterServer)
		serverGroup.GET("/pick", h.Servers.HandlePickServer)
		serverGroup.GET("/introspect/:what", h.Servers.HandleIntrospect)
	}

	templateGroup := router.Group("/templates")
	{
		templateGroup.GET("", h.Templates.HandleListTemplates)
		templateGroup.GET("/:name", h.Templates.HandleGetTemplate)
		templateGroup.POST("/reload", h.Templates.HandleReload)
	}

	return router
}

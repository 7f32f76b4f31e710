// Package api exposes the orchestrator over HTTP. All routes live under
// /v1 and speak JSON; errors map onto HTTP status codes via the sentinel
// errors of the pipeline package.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// Options configures the HTTP server.
type Options struct {
	// ApiKey enables bearer authentication when non-empty.
	ApiKey string

	Logger pipeline.Logger
}

// Server wires the pipeline controller into a gin router.
type Server struct {
	client *pipeline.Client
	logger pipeline.Logger
	apiKey string
}

// NewServer creates a Server around the controller.
func NewServer(client *pipeline.Client, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Server{
		client: client,
		logger: logger,
		apiKey: opts.ApiKey,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	if s.apiKey != "" {
		v1.Use(NewAuthMiddleware(s.apiKey).MiddlewareFunc())
	}

	v1.GET("/criteria", s.handleCriteria)

	v1.POST("/pipeline", s.handleDefine)
	v1.GET("/pipeline", s.handleList)
	v1.POST("/pipeline/assessment", s.handleAssess)
	v1.GET("/pipeline/assessment/:id/output", s.handleAssessmentOutput)
	v1.GET("/pipeline/:id", s.handleGet)
	v1.PUT("/pipeline/:id", s.handleUpdate)
	v1.DELETE("/pipeline/:id", s.handleDelete)
	v1.POST("/pipeline/:id/run", s.handleRun)
	v1.GET("/pipeline/:id/status", s.handleStatus)
	v1.GET("/pipeline/:id/config", s.handleConfig)
	v1.GET("/pipeline/:id/config/scripts", s.handleScripts)
	v1.GET("/pipeline/:id/composer", s.handleComposer)
	v1.GET("/pipeline/:id/jenkinsfile", s.handleJenkinsfile)
	v1.POST("/pipeline/:id/pull_request", s.handlePullRequest)

	return router
}

// Run serves the API on the given address. It blocks until the listener
// fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

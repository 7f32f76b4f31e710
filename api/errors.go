package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// writeError maps a pipeline error onto an HTTP status code and a JSON
// body. Upstream failures carry the upstream status and reason so callers
// can tell a misbehaving CI engine from a bad request.
func (s *Server) writeError(c *gin.Context, err error) {
	var request *pipeline.RequestError
	if errors.As(err, &request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": request.Error()})
		return
	}

	var upstream *pipeline.UpstreamError
	if errors.As(err, &upstream) && !errors.Is(err, pipeline.ErrNotFound) {
		s.logger.Error(c.Request.Context(), "Upstream failure", err, map[string]interface{}{
			"system": upstream.System,
		})
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           err.Error(),
			"upstream_status": upstream.Status,
			"upstream_reason": upstream.Reason,
		})
		return
	}

	switch {
	case errors.Is(err, pipeline.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrConflict), errors.Is(err, pipeline.ErrBadgeResolution):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error(c.Request.Context(), "Request failed", err, map[string]interface{}{
			"path": c.FullPath(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

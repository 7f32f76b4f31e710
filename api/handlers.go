package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// pipelineView is the summary representation returned by list and get.
// Artifact contents are served by the dedicated artifact routes.
type pipelineView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	RepoSlug string   `json:"repo_slug"`
	RepoURL  string   `json:"repo_url,omitempty"`
	Files    []string `json:"files"`
	Status   string   `json:"build_status,omitempty"`

	Badge *pipeline.Badge `json:"badge,omitempty"`
}

func viewOf(record *pipeline.Pipeline) pipelineView {
	view := pipelineView{
		ID:       record.ID,
		RepoSlug: record.RepoSlug,
		RepoURL:  record.RepoURL,
		Badge:    record.Badge,
	}
	if record.RawRequest != nil {
		view.Name = record.RawRequest.Name
	}
	if record.Synthesized != nil {
		view.Files = record.Synthesized.FileSet()
	}
	if record.CIState != nil {
		view.Status = string(record.CIState.Status)
	}
	return view
}

func (s *Server) handleCriteria(c *gin.Context) {
	c.JSON(http.StatusOK, pipeline.CriteriaCatalog())
}

func (s *Server) handleDefine(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}
	if c.Query("report_to_stdout") == "true" {
		req.ReportToStdout = true
	}

	record, err := s.client.Define(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": record.ID})
}

func (s *Server) handleList(c *gin.Context) {
	records, err := s.client.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]pipelineView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleGet(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(record))
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	record, err := s.client.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": record.ID})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.client.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRun(c *gin.Context) {
	opts := pipeline.RunOptions{
		RepoURL:    c.Query("repo_url"),
		RepoBranch: c.Query("repo_branch"),
		KeepGoing:  c.Query("keepgoing") == "true",
	}
	if raw := c.Query("issue_badge"); raw != "" {
		issue, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "issue_badge must be a boolean"})
			return
		}
		opts.IssueBadge = issue
	}

	if _, err := s.client.Run(c.Request.Context(), c.Param("id"), opts); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := s.client.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if pipeline.IsNotRun(err) {
			c.Status(http.StatusNoContent)
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type documentView struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

func (s *Server) handleConfig(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]documentView, 0, len(record.Synthesized.Configs))
	for _, cfg := range record.Synthesized.Configs {
		views = append(views, documentView{FileName: cfg.FileName, Content: string(cfg.Content)})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleScripts(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]documentView, 0, len(record.Synthesized.CommandScripts))
	for _, script := range record.Synthesized.CommandScripts {
		views = append(views, documentView{FileName: script.FileName, Content: script.Content})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleComposer(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	composer := record.Synthesized.Composer
	c.JSON(http.StatusOK, documentView{FileName: composer.FileName, Content: string(composer.Content)})
}

func (s *Server) handleJenkinsfile(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentView{
		FileName: pipeline.JenkinsfileName,
		Content:  record.Synthesized.Jenkinsfile,
	})
}

type pullRequestBody struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

func (s *Server) handlePullRequest(c *gin.Context) {
	var body pullRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}
	if body.Repo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repo is required"})
		return
	}

	pr, err := s.client.OpenPullRequest(c.Request.Context(), c.Param("id"), body.Repo, body.Branch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pull_request_url": pr.URL})
}

type assessmentBody struct {
	pipeline.Request
	Assessment json.RawMessage `json:"assessment,omitempty"`
}

func (s *Server) handleAssess(c *gin.Context) {
	var body assessmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	record, err := s.client.Assess(c.Request.Context(), &body.Request, body.Assessment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": record.ID})
}

func (s *Server) handleAssessmentOutput(c *gin.Context) {
	output, err := s.client.AssessmentOutput(c.Request.Context(), c.Param("id"))
	if err != nil {
		if pipeline.IsNotRun(err) {
			c.Status(http.StatusNoContent)
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, output)
}

package github

import (
	"errors"
	"net/http"

	gh "github.com/google/go-github/v69/github"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// isNotFound reports whether err is a GitHub 404.
func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// mapError translates a GitHub API failure into the pipeline error
// taxonomy: 404 resolves to ErrNotFound, everything else surfaces as an
// UpstreamError carrying the upstream status.
func mapError(op string, err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		status := 0
		if ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
		wrapped := err
		if status == http.StatusNotFound {
			wrapped = pipeline.ErrNotFound
		}
		return pipeline.NewUpstreamError("github", status, op+": "+ghErr.Message, wrapped)
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return pipeline.NewUpstreamError("github", http.StatusForbidden, op+": rate limited", err)
	}

	return pipeline.NewUpstreamError("github", 0, op, err)
}

package github

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gh "github.com/google/go-github/v69/github"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

func TestNewSessionInvalidKey(t *testing.T) {
	_, err := NewSession("not a pem", "1", "2")
	if err == nil {
		t.Fatal("expected an error for an invalid private key")
	}
}

func TestNewTokenSession(t *testing.T) {
	if _, err := NewTokenSession(""); err == nil {
		t.Error("expected an error for an empty token")
	}

	session, err := NewTokenSession("ghp_dummy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Client() == nil {
		t.Error("expected an API client")
	}
	if session.AuthToken().AccessToken != "ghp_dummy" {
		t.Error("token not carried on the session")
	}
}

func TestSplitSlug(t *testing.T) {
	owner, name, err := splitSlug("qa-org/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "qa-org" || name != "app" {
		t.Errorf("unexpected split %q/%q", owner, name)
	}

	for _, slug := range []string{"", "noslash", "/name", "owner/"} {
		if _, _, err := splitSlug(slug); !errors.Is(err, pipeline.ErrBadRequest) {
			t.Errorf("expected ErrBadRequest for %q, got %v", slug, err)
		}
	}
}

func TestHandleFromRepo(t *testing.T) {
	repo := &gh.Repository{
		FullName:      gh.Ptr("qa-org/app"),
		Name:          gh.Ptr("app"),
		Owner:         &gh.User{Login: gh.Ptr("qa-org")},
		DefaultBranch: gh.Ptr("develop"),
		CloneURL:      gh.Ptr("https://github.com/qa-org/app.git"),
		HTMLURL:       gh.Ptr("https://github.com/qa-org/app"),
	}
	handle := handleFromRepo(repo)
	if handle.Slug != "qa-org/app" || handle.DefaultBranch != "develop" {
		t.Errorf("unexpected handle %+v", handle)
	}

	// Fresh repositories may report no default branch yet.
	repo.DefaultBranch = nil
	if handleFromRepo(repo).DefaultBranch != "main" {
		t.Error("expected the fallback default branch")
	}
}

func TestMapError(t *testing.T) {
	notFound := &gh.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  "Not Found",
	}
	err := mapError("get repository", notFound)
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("expected 404 to resolve to ErrNotFound, got %v", err)
	}
	var upstream *pipeline.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusNotFound {
		t.Errorf("expected an UpstreamError with status 404, got %v", err)
	}

	boom := &gh.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusBadGateway},
		Message:  "upstream broke",
	}
	err = mapError("push", boom)
	if errors.Is(err, pipeline.ErrNotFound) {
		t.Error("5xx must not resolve to ErrNotFound")
	}
	if !errors.As(err, &upstream) || upstream.Status != http.StatusBadGateway {
		t.Errorf("expected the upstream status preserved, got %v", err)
	}

	if !isNotFound(notFound) || isNotFound(boom) || isNotFound(errors.New("x")) {
		t.Error("isNotFound misclassifies")
	}
}

func TestListRefsError(t *testing.T) {
	var upstream *pipeline.UpstreamError

	err := listRefsError("https://github.com/org/app", transport.ErrRepositoryNotFound)
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("a missing repository must surface as ErrNotFound, got %v", err)
	}

	err = listRefsError("https://github.com/org/app", transport.ErrAuthenticationRequired)
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("rejected anonymous access must surface as ErrNotFound, got %v", err)
	}

	err = listRefsError("https://github.com/org/app", errors.New("dial tcp: i/o timeout"))
	if errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("a transient failure must not read as a missing repository: %v", err)
	}
	if !errors.As(err, &upstream) || upstream.System != "git" {
		t.Errorf("expected a git upstream failure, got %v", err)
	}
}

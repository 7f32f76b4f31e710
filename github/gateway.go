package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	gh "github.com/google/go-github/v69/github"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

const (
	blobMode = "100644"

	// defaultBranchFallback is used for repositories the API reports
	// without a default branch (fresh creations).
	defaultBranchFallback = "main"
)

// Gateway implements pipeline.RepoGateway on the GitHub API. Artifact
// pushes use the git data API so a whole file set lands in one commit.
type Gateway struct {
	session *Session
	logger  pipeline.Logger
}

var _ pipeline.RepoGateway = (*Gateway)(nil)

// NewGateway creates a Gateway over an authenticated session.
func NewGateway(session *Session, logger pipeline.Logger) *Gateway {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Gateway{session: session, logger: logger}
}

func splitSlug(slug string) (string, string, error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("%w: malformed repository slug %q", pipeline.ErrBadRequest, slug)
	}
	return owner, name, nil
}

func handleFromRepo(repo *gh.Repository) *pipeline.RepoHandle {
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = defaultBranchFallback
	}
	return &pipeline.RepoHandle{
		Slug:          repo.GetFullName(),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		DefaultBranch: branch,
		CloneURL:      repo.GetCloneURL(),
		HTMLURL:       repo.GetHTMLURL(),
	}
}

// EnsureRepo creates the repository if absent and returns its handle.
func (g *Gateway) EnsureRepo(ctx context.Context, slug string) (*pipeline.RepoHandle, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}

	repo, _, err := g.session.Client().Repositories.Get(ctx, owner, name)
	if err == nil {
		return handleFromRepo(repo), nil
	}
	if !isNotFound(err) {
		return nil, mapError("get repository", err)
	}

	repo, _, err = g.session.Client().Repositories.Create(ctx, owner, &gh.Repository{
		Name:        gh.Ptr(name),
		Private:     gh.Ptr(true),
		AutoInit:    gh.Ptr(true),
		Description: gh.Ptr("QA pipeline artifacts (generated)"),
	})
	if err != nil {
		return nil, mapError("create repository", err)
	}

	g.logger.Info(ctx, "Created artifacts repository", map[string]interface{}{
		"repo_slug": slug,
	})
	return handleFromRepo(repo), nil
}

// PushFiles commits the file set to the branch in one commit and returns
// the commit SHA. A file set identical to the branch tip returns the tip
// commit without creating a new one. A missing branch is created from the
// repository default branch.
func (g *Gateway) PushFiles(
	ctx context.Context,
	repo *pipeline.RepoHandle,
	branch, message string,
	files []pipeline.CommitFile,
) (string, error) {
	client := g.session.Client()

	parentRef := branch
	createRef := false
	ref, _, err := client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if err != nil {
		if !isNotFound(err) {
			return "", mapError("get ref", err)
		}
		createRef = true
		parentRef = repo.DefaultBranch
		ref, _, err = client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+parentRef)
		if err != nil {
			return "", mapError("get ref", err)
		}
	}
	parentSHA := ref.Object.GetSHA()

	parent, _, err := client.Git.GetCommit(ctx, repo.Owner, repo.Name, parentSHA)
	if err != nil {
		return "", mapError("get commit", err)
	}

	entries := make([]*gh.TreeEntry, 0, len(files))
	for _, f := range files {
		entry := &gh.TreeEntry{
			Path: gh.Ptr(f.Path),
			Mode: gh.Ptr(blobMode),
			Type: gh.Ptr("blob"),
		}
		if !f.Delete {
			entry.Content = gh.Ptr(string(f.Content))
		}
		// Entries with neither SHA nor Content mark the path deleted.
		entries = append(entries, entry)
	}

	tree, _, err := client.Git.CreateTree(ctx, repo.Owner, repo.Name, parent.Tree.GetSHA(), entries)
	if err != nil {
		return "", mapError("create tree", err)
	}
	if tree.GetSHA() == parent.Tree.GetSHA() && !createRef {
		// Nothing changed; reuse the tip.
		return parentSHA, nil
	}

	commit, _, err := client.Git.CreateCommit(ctx, repo.Owner, repo.Name, &gh.Commit{
		Message: gh.Ptr(message),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: gh.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return "", mapError("create commit", err)
	}

	if createRef {
		_, _, err = client.Git.CreateRef(ctx, repo.Owner, repo.Name, &gh.Reference{
			Ref:    gh.Ptr("refs/heads/" + branch),
			Object: &gh.GitObject{SHA: commit.SHA},
		})
	} else {
		ref.Object.SHA = commit.SHA
		_, _, err = client.Git.UpdateRef(ctx, repo.Owner, repo.Name, ref, false)
	}
	if err != nil {
		return "", mapError("update ref", err)
	}

	g.logger.Debug(ctx, "Pushed commit", map[string]interface{}{
		"repo_slug": repo.Slug,
		"branch":    branch,
		"commit":    commit.GetSHA(),
		"files":     len(files),
	})
	return commit.GetSHA(), nil
}

// ListFiles returns the blob paths under path on the branch.
func (g *Gateway) ListFiles(
	ctx context.Context,
	repo *pipeline.RepoHandle,
	branch, path string,
) ([]string, error) {
	client := g.session.Client()

	ref, _, err := client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if err != nil {
		return nil, mapError("get ref", err)
	}
	commit, _, err := client.Git.GetCommit(ctx, repo.Owner, repo.Name, ref.Object.GetSHA())
	if err != nil {
		return nil, mapError("get commit", err)
	}
	tree, _, err := client.Git.GetTree(ctx, repo.Owner, repo.Name, commit.Tree.GetSHA(), true)
	if err != nil {
		return nil, mapError("get tree", err)
	}

	var names []string
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		name := entry.GetPath()
		if path != "" && !strings.HasPrefix(name, path+"/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Fork forks the upstream repository into the organization, returning the
// existing fork if one is already there. Fork creation is asynchronous on
// the platform side, so the result is polled briefly.
func (g *Gateway) Fork(ctx context.Context, upstreamSlug, org string) (*pipeline.RepoHandle, error) {
	owner, name, err := splitSlug(upstreamSlug)
	if err != nil {
		return nil, err
	}
	client := g.session.Client()

	fork, _, err := client.Repositories.CreateFork(ctx, owner, name, &gh.RepositoryCreateForkOptions{
		Organization: org,
	})
	if err != nil {
		var accepted *gh.AcceptedError
		if !errors.As(err, &accepted) {
			return nil, mapError("create fork", err)
		}
	}
	if fork != nil && fork.GetFullName() != "" {
		return handleFromRepo(fork), nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		repo, _, err := client.Repositories.Get(ctx, org, name)
		if err == nil {
			return handleFromRepo(repo), nil
		}
		if !isNotFound(err) {
			return nil, mapError("get fork", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, pipeline.NewUpstreamError("github", 0, "fork did not materialize", nil)
}

// OpenPullRequest opens a pull request.
func (g *Gateway) OpenPullRequest(ctx context.Context, spec pipeline.PullRequestSpec) (*pipeline.PullRequest, error) {
	baseOwner, baseName, err := splitSlug(spec.BaseSlug)
	if err != nil {
		return nil, err
	}
	headOwner, _, err := splitSlug(spec.HeadSlug)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.session.Client().PullRequests.Create(ctx, baseOwner, baseName, &gh.NewPullRequest{
		Title: gh.Ptr(spec.Title),
		Body:  gh.Ptr(spec.Body),
		Head:  gh.Ptr(headOwner + ":" + spec.HeadBranch),
		Base:  gh.Ptr(spec.BaseBranch),
	})
	if err != nil {
		return nil, mapError("create pull request", err)
	}

	return &pipeline.PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
	}, nil
}

// DeleteRepo removes the repository.
func (g *Gateway) DeleteRepo(ctx context.Context, slug string) error {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return err
	}
	if _, err := g.session.Client().Repositories.Delete(ctx, owner, name); err != nil {
		return mapError("delete repository", err)
	}
	return nil
}

// CommitURL returns the browse URL for a commit.
func (g *Gateway) CommitURL(repo *pipeline.RepoHandle, sha string) string {
	return repo.HTMLURL + "/commit/" + sha
}

// RemoteDefaultBranch probes a remote repository anonymously for its
// default branch and the head commit of that branch. A non-empty branch
// is validated against the remote's references and returned unchanged.
func (g *Gateway) RemoteDefaultBranch(ctx context.Context, url, branch string) (string, string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{pipeline.AnonymousCloneURL(url)},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", "", listRefsError(url, err)
	}

	if branch != "" {
		want := plumbing.NewBranchReferenceName(branch)
		for _, ref := range refs {
			if ref.Name() == want {
				return branch, ref.Hash().String(), nil
			}
		}
		return "", "", pipeline.NewUpstreamError("git", 404,
			fmt.Sprintf("branch %q not found on %s", branch, url), pipeline.ErrNotFound)
	}

	for _, ref := range refs {
		if ref.Name() != plumbing.HEAD || ref.Type() != plumbing.SymbolicReference {
			continue
		}
		target := ref.Target()
		for _, cand := range refs {
			if cand.Name() == target {
				return target.Short(), cand.Hash().String(), nil
			}
		}
		return target.Short(), "", nil
	}
	return "", "", pipeline.NewUpstreamError("git", 0,
		fmt.Sprintf("no HEAD reference on %s", url), pipeline.ErrNotFound)
}

// listRefsError classifies a failed ref listing. Missing repositories
// and rejected anonymous access surface as ErrNotFound; anything else
// is a plain upstream failure so transient outages do not read as a
// missing repository.
func listRefsError(url string, err error) error {
	reason := fmt.Sprintf("listing refs of %s", url)
	if errors.Is(err, transport.ErrRepositoryNotFound) ||
		errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) {
		return pipeline.NewUpstreamError("git", 404, reason,
			fmt.Errorf("%w: %s", pipeline.ErrNotFound, err.Error()))
	}
	return pipeline.NewUpstreamError("git", 0, reason, err)
}

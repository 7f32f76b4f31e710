package pipelinetest

import (
	"context"
	"strings"
	"sync"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// MockRepoGateway is an in-memory implementation of pipeline.RepoGateway.
//
// Repositories live in an in-memory file tree per branch; PushFiles applies
// creates, updates and deletions the way the real gateway commits them, and
// returns a deterministic fake SHA that changes with the content.
type MockRepoGateway struct {
	mu sync.RWMutex

	// Repos maps slug -> branch -> path -> content.
	Repos map[string]map[string]map[string][]byte

	// DefaultBranch is assigned to newly created repositories.
	DefaultBranch string

	// RemoteBranches maps a clone URL to its default branch for
	// RemoteDefaultBranch probes. URLs not present fail with ErrNotFound.
	RemoteBranches map[string]string

	// RemoteHeads maps a clone URL to the head commit reported by
	// RemoteDefaultBranch probes.
	RemoteHeads map[string]string

	// Call tracking
	EnsureRepoCalls      []string
	PushFilesCalls       []PushFilesCall
	ListFilesCalls       []ListFilesCall
	ForkCalls            []ForkCall
	OpenPullRequestCalls []pipeline.PullRequestSpec
	DeleteRepoCalls      []string
	RemoteBranchCalls    []RemoteBranchCall

	// Error injection
	EnsureRepoError      error
	PushFilesError       error
	ListFilesError       error
	ForkError            error
	OpenPullRequestError error
	DeleteRepoError      error
	RemoteBranchError    error

	pushCounter int
	prCounter   int
}

// PushFilesCall records a PushFiles call.
type PushFilesCall struct {
	Slug    string
	Branch  string
	Message string
	Files   []pipeline.CommitFile
}

// ListFilesCall records a ListFiles call.
type ListFilesCall struct {
	Slug   string
	Branch string
	Path   string
}

// ForkCall records a Fork call.
type ForkCall struct {
	UpstreamSlug string
	Org          string
}

// RemoteBranchCall records a RemoteDefaultBranch call.
type RemoteBranchCall struct {
	URL    string
	Branch string
}

// NewMockRepoGateway creates a MockRepoGateway with initialized maps.
func NewMockRepoGateway() *MockRepoGateway {
	return &MockRepoGateway{
		Repos:          make(map[string]map[string]map[string][]byte),
		DefaultBranch:  "main",
		RemoteBranches: make(map[string]string),
		RemoteHeads:    make(map[string]string),
	}
}

func (m *MockRepoGateway) handle(slug string) *pipeline.RepoHandle {
	owner, name, _ := strings.Cut(slug, "/")
	return &pipeline.RepoHandle{
		Slug:          slug,
		Owner:         owner,
		Name:          name,
		DefaultBranch: m.DefaultBranch,
		CloneURL:      "https://example.test/" + slug + ".git",
		HTMLURL:       "https://example.test/" + slug,
	}
}

// EnsureRepo creates the repository if absent and returns its handle.
func (m *MockRepoGateway) EnsureRepo(ctx context.Context, slug string) (*pipeline.RepoHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EnsureRepoCalls = append(m.EnsureRepoCalls, slug)

	if m.EnsureRepoError != nil {
		return nil, m.EnsureRepoError
	}

	if _, ok := m.Repos[slug]; !ok {
		m.Repos[slug] = map[string]map[string][]byte{
			m.DefaultBranch: {},
		}
	}

	return m.handle(slug), nil
}

// PushFiles applies the file set to the branch and returns a fake SHA.
func (m *MockRepoGateway) PushFiles(
	ctx context.Context,
	repo *pipeline.RepoHandle,
	branch, message string,
	files []pipeline.CommitFile,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PushFilesCalls = append(m.PushFilesCalls, PushFilesCall{
		Slug:    repo.Slug,
		Branch:  branch,
		Message: message,
		Files:   files,
	})

	if m.PushFilesError != nil {
		return "", m.PushFilesError
	}

	branches, ok := m.Repos[repo.Slug]
	if !ok {
		return "", pipeline.ErrNotFound
	}
	tree, ok := branches[branch]
	if !ok {
		tree = map[string][]byte{}
		branches[branch] = tree
	}

	for _, f := range files {
		if f.Delete {
			delete(tree, f.Path)
			continue
		}
		tree[f.Path] = append([]byte(nil), f.Content...)
	}

	m.pushCounter++
	return fakeSHA(m.pushCounter), nil
}

// ListFiles returns the file names under path on the branch.
func (m *MockRepoGateway) ListFiles(
	ctx context.Context,
	repo *pipeline.RepoHandle,
	branch, path string,
) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListFilesCalls = append(m.ListFilesCalls, ListFilesCall{Slug: repo.Slug, Branch: branch, Path: path})

	if m.ListFilesError != nil {
		return nil, m.ListFilesError
	}

	branches, ok := m.Repos[repo.Slug]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	tree, ok := branches[branch]
	if !ok {
		return nil, pipeline.ErrNotFound
	}

	var names []string
	for name := range tree {
		if path == "" || strings.HasPrefix(name, path+"/") {
			names = append(names, name)
		}
	}
	return names, nil
}

// Fork forks the upstream repository into the organization.
func (m *MockRepoGateway) Fork(ctx context.Context, upstreamSlug, org string) (*pipeline.RepoHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ForkCalls = append(m.ForkCalls, ForkCall{UpstreamSlug: upstreamSlug, Org: org})

	if m.ForkError != nil {
		return nil, m.ForkError
	}

	_, name, _ := strings.Cut(upstreamSlug, "/")
	slug := org + "/" + name
	if _, ok := m.Repos[slug]; !ok {
		m.Repos[slug] = map[string]map[string][]byte{
			m.DefaultBranch: {},
		}
	}

	return m.handle(slug), nil
}

// OpenPullRequest opens a pull request.
func (m *MockRepoGateway) OpenPullRequest(
	ctx context.Context,
	spec pipeline.PullRequestSpec,
) (*pipeline.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenPullRequestCalls = append(m.OpenPullRequestCalls, spec)

	if m.OpenPullRequestError != nil {
		return nil, m.OpenPullRequestError
	}

	m.prCounter++
	return &pipeline.PullRequest{
		Number: m.prCounter,
		URL:    "https://example.test/" + spec.BaseSlug + "/pull/" + itoa(m.prCounter),
	}, nil
}

// DeleteRepo removes the repository.
func (m *MockRepoGateway) DeleteRepo(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteRepoCalls = append(m.DeleteRepoCalls, slug)

	if m.DeleteRepoError != nil {
		return m.DeleteRepoError
	}

	if _, ok := m.Repos[slug]; !ok {
		return pipeline.ErrNotFound
	}

	delete(m.Repos, slug)

	return nil
}

// CommitURL returns the browse URL for a commit.
func (m *MockRepoGateway) CommitURL(repo *pipeline.RepoHandle, sha string) string {
	return repo.HTMLURL + "/commit/" + sha
}

// RemoteDefaultBranch probes a remote repository for its default branch
// and head commit.
func (m *MockRepoGateway) RemoteDefaultBranch(ctx context.Context, url, branch string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RemoteBranchCalls = append(m.RemoteBranchCalls, RemoteBranchCall{URL: url, Branch: branch})

	if m.RemoteBranchError != nil {
		return "", "", m.RemoteBranchError
	}

	def, ok := m.RemoteBranches[url]
	if !ok {
		return "", "", pipeline.ErrNotFound
	}
	if branch != "" {
		return branch, m.RemoteHeads[url], nil
	}
	return def, m.RemoteHeads[url], nil
}

// Files returns a copy of the file tree of a repository branch, for test
// assertions.
func (m *MockRepoGateway) Files(slug, branch string) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	branches, ok := m.Repos[slug]
	if !ok {
		return nil
	}
	tree, ok := branches[branch]
	if !ok {
		return nil
	}
	out := make(map[string][]byte, len(tree))
	for k, v := range tree {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func fakeSHA(n int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 40)
	for i := range b {
		b[i] = digits[(n+i)%len(digits)]
	}
	return string(b)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// Ensure MockRepoGateway implements pipeline.RepoGateway at compile time.
var _ pipeline.RepoGateway = (*MockRepoGateway)(nil)

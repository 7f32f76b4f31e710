package pipeline

import (
	"context"
	"encoding/json"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/logger"
)

// Logger is an alias for the unified logger.Logger interface.
// This provides structured, context-aware logging throughout the package.
type Logger = logger.Logger

// NopLogger returns a no-op logger that discards all messages.
// This is the default logger when none is provided.
func NopLogger() Logger {
	return &logger.NopLogger{}
}

// Store defines the interface for pipeline persistence.
// Implementations provide storage backends (the single-file snapshot store
// in this package, an in-memory store in pipelinetest).
type Store interface {
	// Put upserts a pipeline record.
	Put(ctx context.Context, p *Pipeline) error

	// Get retrieves a pipeline by its identifier.
	// Returns ErrNotFound when the identifier is unknown.
	Get(ctx context.Context, id string) (*Pipeline, error)

	// List returns all pipeline records.
	List(ctx context.Context) ([]*Pipeline, error)

	// Delete removes a pipeline record.
	// Returns ErrNotFound when the identifier is unknown.
	Delete(ctx context.Context, id string) error

	// SetCIState replaces the CI state of an existing pipeline.
	SetCIState(ctx context.Context, id string, state *CIState) error

	// SetBadge attaches an issued badge to an existing pipeline.
	SetBadge(ctx context.Context, id string, badge *Badge) error

	// SetAssessment attaches the assessment blob to an existing pipeline.
	SetAssessment(ctx context.Context, id string, assessment json.RawMessage) error

	// SetSynthesized replaces the synthesized artifacts of an existing
	// pipeline (environment injection re-serializes config documents).
	SetSynthesized(ctx context.Context, id string, artifacts *SynthesizedArtifacts) error

	// Close releases any resources held by the store.
	Close() error
}

// RepoHandle identifies a repository on the code-hosting platform.
type RepoHandle struct {
	// Slug is the short name (org/name).
	Slug string

	// Owner and Name split the slug.
	Owner string
	Name  string

	// DefaultBranch is the repository default branch.
	DefaultBranch string

	// CloneURL is the HTTPS clone URL.
	CloneURL string

	// HTMLURL is the canonical browse URL.
	HTMLURL string
}

// CommitFile is one entry of an atomic multi-file commit. Delete marks the
// path for removal instead of create-or-update.
type CommitFile struct {
	Path    string
	Content []byte
	Delete  bool
}

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	HeadSlug   string
	HeadBranch string
	BaseSlug   string
	BaseBranch string
	Title      string
	Body       string
}

// PullRequest describes an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// RepoGateway is the port over the code-hosting platform.
//
// Transient transport failures propagate as UpstreamError with the
// upstream status and reason; the gateway performs no retries (retry is a
// Controller policy, and the Controller's policy is none).
type RepoGateway interface {
	// EnsureRepo creates the repository if absent and returns its
	// handle, including the default branch. Idempotent.
	EnsureRepo(ctx context.Context, slug string) (*RepoHandle, error)

	// PushFiles commits the file set (creates, updates and deletions)
	// to the branch in one atomic commit and returns the commit SHA.
	// Pushing a file set identical to the branch tip returns the tip
	// commit without creating a new one.
	PushFiles(ctx context.Context, repo *RepoHandle, branch, message string, files []CommitFile) (string, error)

	// ListFiles returns the file names under path on the branch. Used
	// to compute orphan deletions when re-synthesizing.
	ListFiles(ctx context.Context, repo *RepoHandle, branch, path string) ([]string, error)

	// Fork forks the upstream repository into the organization,
	// returning the existing fork if one is already there.
	Fork(ctx context.Context, upstreamSlug, org string) (*RepoHandle, error)

	// OpenPullRequest opens a pull request.
	OpenPullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error)

	// DeleteRepo removes the repository. Used on pipeline delete when
	// the artifacts repository is disposable.
	DeleteRepo(ctx context.Context, slug string) error

	// CommitURL returns the browse URL for a commit, used as badge
	// evidence.
	CommitURL(repo *RepoHandle, sha string) string

	// RemoteDefaultBranch probes a remote repository for its default
	// branch and the head commit of that branch. When branch is
	// non-empty it is validated and returned unchanged. The probe
	// authenticates anonymously so a missing repository fails fast
	// instead of prompting for credentials.
	RemoteDefaultBranch(ctx context.Context, url, branch string) (string, string, error)
}

// QueueItem is the observation of a CI queue item.
type QueueItem struct {
	// Started is true once the item left the queue and became a build.
	Started bool

	// BuildNumber and BuildURL are set when Started is true.
	BuildNumber int64
	BuildURL    string
}

// CIGateway is the port over the CI engine.
//
// Ordering: TriggerBuild precedes the first ObserveQueueItem; the item
// eventually reports started; after that BuildInfo and StageOutputs become
// meaningful. No total ordering across builds is assumed.
type CIGateway interface {
	// JobExists reports whether the full job name is known to the engine.
	JobExists(ctx context.Context, fullName string) (bool, error)

	// ScanOrganization triggers a scan of the organization folder so
	// newly created repositories are discovered. Returns immediately;
	// the job appears asynchronously. Idempotent.
	ScanOrganization(ctx context.Context, org string) error

	// TriggerBuild enqueues a build and returns the queue item number.
	TriggerBuild(ctx context.Context, fullName string) (int64, error)

	// ObserveQueueItem reports whether the queue item became a build.
	ObserveQueueItem(ctx context.Context, itemID int64) (*QueueItem, error)

	// BuildInfo returns the status of a build.
	BuildInfo(ctx context.Context, fullName string, number int64) (BuildStatus, error)

	// StageOutputs returns per-criterion results of a finished build,
	// aggregating only stages whose name starts with the reserved QC.
	// prefix. Returns ErrOutputTruncated (wrapped) when a stage's
	// captured output carries no '+'-prefixed command line.
	StageOutputs(ctx context.Context, fullName string, number int64) (map[string]StageOutput, error)

	// DeleteJob removes the job from the engine.
	DeleteJob(ctx context.Context, fullName string) error
}

// Evidence is one evidence entry of a badge assertion.
type Evidence struct {
	URL       string
	Narrative string
}

// Assertion is an issued badge assertion.
type Assertion struct {
	// ID is the badge service identifier of the assertion.
	ID string

	// OpenBadgeID is the verifiable OpenBadge identifier.
	OpenBadgeID string

	// ImageURL points at the baked badge image.
	ImageURL string

	// IssuedOn is the issuance timestamp.
	IssuedOn string
}

// BadgeGateway is the port over the badge service. Implementations manage
// the OAuth session internally: every call re-checks token expiry (with a
// safety margin) before proceeding.
type BadgeGateway interface {
	// ResolveBadgeClass resolves the badge class identifier via the
	// issuer and badge class names. Misses and duplicates fail with
	// ErrBadgeResolution (wrapped).
	ResolveBadgeClass(ctx context.Context, issuer, className string) (string, error)

	// Issue creates an assertion against the badge class.
	Issue(ctx context.Context, badgeClassID, recipient, narrative string, evidence []Evidence) (*Assertion, error)
}

// Notifier receives pipeline state transitions. The Kafka notifier in the
// events package implements it; a nil notifier disables notification.
type Notifier interface {
	// StatusChanged is called after a state transition was persisted.
	StatusChanged(ctx context.Context, id string, from, to BuildStatus, buildURL string)
}

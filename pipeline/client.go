package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Config holds the Controller configuration.
type Config struct {
	// Organization is the code-hosting organization holding the
	// disposable artifacts repositories, and the CI folder scanned for
	// new jobs.
	Organization string

	// BadgeIssuer is the issuer name badge classes are resolved under.
	BadgeIssuer string

	// FallbackCredentialID and DefaultDockerOrg feed the synthesizer's
	// registry push handling.
	FallbackCredentialID string
	DefaultDockerOrg     string

	// LibraryVersion pins the pipeline library for rendered scripts.
	LibraryVersion string

	// Logger receives structured operation logs. Nil defaults to the
	// no-op logger.
	Logger Logger
}

// Validate checks the configuration is complete.
func (c Config) Validate() error {
	if c.Organization == "" {
		return fmt.Errorf("organization is required")
	}
	return nil
}

// Client is the Pipeline Controller: the main entry point for pipeline
// operations. It orchestrates the Synthesizer, the Store and the three
// gateways, and drives the per-pipeline state machine from defined through
// queued and running to a terminal state.
//
// Every operation acquires the pipeline's advisory lock around its whole
// compound (read, mutate, write) sequence, so concurrent requests on the
// same pipeline never interleave store updates. None of the gateway
// operations are retried; the Controller is idempotent at state-machine
// granularity because every operation re-reads and re-writes whole
// records.
type Client struct {
	store    Store
	repos    RepoGateway
	ci       CIGateway
	badges   BadgeGateway
	notifier Notifier
	synth    *Synthesizer
	config   Config
	logger   Logger
	locks    *keyLocks
}

// NewClient creates a Controller with all dependencies and a validated
// configuration.
func NewClient(store Store, repos RepoGateway, ci CIGateway, badges BadgeGateway, config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return NewClientWithDependencies(store, repos, ci, badges, config), nil
}

// NewClientWithDependencies creates a Controller without validating the
// configuration. This is primarily useful for testing with mock
// implementations.
func NewClientWithDependencies(store Store, repos RepoGateway, ci CIGateway, badges BadgeGateway, config Config) *Client {
	if config.Logger == nil {
		config.Logger = NopLogger()
	}
	return &Client{
		store:  store,
		repos:  repos,
		ci:     ci,
		badges: badges,
		synth: NewSynthesizer(SynthesizerOptions{
			FallbackCredentialID: config.FallbackCredentialID,
			DefaultDockerOrg:     config.DefaultDockerOrg,
			LibraryVersion:       config.LibraryVersion,
		}),
		config: config,
		logger: config.Logger,
		locks:  newKeyLocks(),
	}
}

// WithNotifier attaches a state transition notifier. A nil notifier
// disables notification.
func (c *Client) WithNotifier(n Notifier) *Client {
	c.notifier = n
	return c
}

// Synthesizer returns the underlying synthesizer (useful for advanced
// operations and the assessment flow).
func (c *Client) Synthesizer() *Synthesizer {
	return c.synth
}

// Define synthesizes the artifacts for a new pipeline, persists the
// record and returns it. The returned identifier is stable for the whole
// pipeline lifetime.
func (c *Client) Define(ctx context.Context, req *Request) (*Pipeline, error) {
	id := uuid.NewString()
	ctx, span := StartSpan(ctx, "define", id)
	defer span.End()

	artifacts, err := c.synth.Synthesize(req)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("define", "", err)
	}

	record := &Pipeline{
		ID:          id,
		RepoSlug:    c.artifactsSlug(req.Name, id),
		RawRequest:  req,
		Synthesized: artifacts,
	}
	if err := c.store.Put(ctx, record); err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("define", id, err)
	}

	c.logger.Info(ctx, "Defined pipeline", map[string]interface{}{
		"pipeline_id": id,
		"name":        req.Name,
		"configs":     len(artifacts.Configs),
		"scripts":     len(artifacts.CommandScripts),
	})
	return record, nil
}

// Update re-synthesizes an existing pipeline from a new request,
// preserving the identifier and leaving any CI state untouched: a
// subsequent run reuses the existing job.
func (c *Client) Update(ctx context.Context, id string, req *Request) (*Pipeline, error) {
	release := c.locks.acquire(id)
	defer release()

	ctx, span := StartSpan(ctx, "update", id)
	defer span.End()

	record, err := c.store.Get(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("update", id, err)
	}

	artifacts, err := c.synth.Synthesize(req)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("update", id, err)
	}

	record.RawRequest = req
	record.Synthesized = artifacts
	if err := c.store.Put(ctx, record); err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("update", id, err)
	}

	c.logger.Info(ctx, "Updated pipeline definition", map[string]interface{}{
		"pipeline_id": id,
		"configs":     len(artifacts.Configs),
	})
	return record, nil
}

// Get retrieves a pipeline record.
func (c *Client) Get(ctx context.Context, id string) (*Pipeline, error) {
	record, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, NewPipelineError("get", id, err)
	}
	return record, nil
}

// List returns all pipeline records.
func (c *Client) List(ctx context.Context) ([]*Pipeline, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return nil, NewPipelineError("list", "", err)
	}
	return records, nil
}

// Delete removes the pipeline record after a best-effort cleanup of its
// CI job and artifacts repository. Cleanup failures are logged, not
// surfaced: the record removal is the authoritative effect.
func (c *Client) Delete(ctx context.Context, id string) error {
	release := c.locks.acquire(id)
	defer release()

	ctx, span := StartSpan(ctx, "delete", id)
	defer span.End()

	record, err := c.store.Get(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return NewPipelineError("delete", id, err)
	}

	if record.CIState != nil && record.CIState.JobName != "" {
		if err := c.ci.DeleteJob(ctx, record.CIState.JobName); err != nil {
			c.logger.Warn(ctx, "Failed to delete CI job", map[string]interface{}{
				"pipeline_id": id,
				"job_name":    record.CIState.JobName,
				"error":       err.Error(),
			})
		}
	}
	if record.RepoSlug != "" {
		if err := c.repos.DeleteRepo(ctx, record.RepoSlug); err != nil {
			c.logger.Warn(ctx, "Failed to delete artifacts repository", map[string]interface{}{
				"pipeline_id": id,
				"repo_slug":   record.RepoSlug,
				"error":       err.Error(),
			})
		}
	}

	if err := c.store.Delete(ctx, id); err != nil {
		recordSpanError(span, err)
		return NewPipelineError("delete", id, err)
	}

	c.logger.Info(ctx, "Deleted pipeline", map[string]interface{}{
		"pipeline_id": id,
	})
	return nil
}

// Assess defines a pipeline for the assessment flow: stage results are
// additionally emitted to standard output and the assessment blob is
// attached to the record.
func (c *Client) Assess(ctx context.Context, req *Request, assessment json.RawMessage) (*Pipeline, error) {
	req.ReportToStdout = true
	record, err := c.Define(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(assessment) > 0 {
		if err := c.store.SetAssessment(ctx, record.ID, assessment); err != nil {
			return nil, NewPipelineError("assess", record.ID, err)
		}
		record.Assessment = assessment
	}
	return record, nil
}

// AssessmentOutput returns the per-criterion stage results of an assessed
// pipeline, keyed by the external criterion codes.
func (c *Client) AssessmentOutput(ctx context.Context, id string) (map[string]StageOutput, error) {
	record, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, NewPipelineError("assessment output", id, err)
	}
	if record.CIState == nil {
		return nil, NewPipelineError("assessment output", id, ErrNotRun)
	}
	if len(record.CIState.StageResults) == 0 {
		return nil, NewPipelineError("assessment output", id,
			fmt.Errorf("%w: no stage results captured yet", ErrNotRun))
	}
	out := make(map[string]StageOutput, len(record.CIState.StageResults))
	for code, result := range record.CIState.StageResults {
		out[ExternalCriterionCode(code)] = result
	}
	return out, nil
}

// OpenPullRequest pushes the synthesized artifacts to a branch of a fork
// of the given repository and opens a pull request against its default
// branch.
func (c *Client) OpenPullRequest(ctx context.Context, id, upstreamSlug, branch string) (*PullRequest, error) {
	release := c.locks.acquire(id)
	defer release()

	ctx, span := StartSpan(ctx, "pull_request", id)
	defer span.End()

	record, err := c.store.Get(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("pull request", id, err)
	}

	fork, err := c.repos.Fork(ctx, upstreamSlug, c.config.Organization)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("pull request", id, err)
	}

	headBranch := branch
	if headBranch == "" {
		headBranch = "sqaaas-" + record.ID[:8]
	}
	files := c.artifactFiles(record.Synthesized, nil)
	if _, err := c.repos.PushFiles(ctx, fork, headBranch, "Add QA pipeline", files); err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("pull request", id, err)
	}

	pr, err := c.repos.OpenPullRequest(ctx, PullRequestSpec{
		HeadSlug:   fork.Slug,
		HeadBranch: headBranch,
		BaseSlug:   upstreamSlug,
		BaseBranch: fork.DefaultBranch,
		Title:      "Add QA pipeline",
		Body:       "Adds the synthesized QA pipeline artifacts.",
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("pull request", id, err)
	}

	c.logger.Info(ctx, "Opened pull request", map[string]interface{}{
		"pipeline_id": id,
		"pr_url":      pr.URL,
	})
	return pr, nil
}

// artifactsSlug derives the artifacts repository slug for a pipeline. The
// short identifier suffix keeps slugs unique across pipelines sharing a
// name.
func (c *Client) artifactsSlug(name, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return c.config.Organization + "/" + name + "-" + short
}

// fullJobName is the CI job path for an artifacts repository branch
// (organization folder / repository / branch).
func (c *Client) fullJobName(slug, branch string) string {
	return slug + "/" + branch
}

// notifyStatus reports a persisted state transition, if a notifier is
// attached.
func (c *Client) notifyStatus(ctx context.Context, id string, from, to BuildStatus, buildURL string) {
	if c.notifier == nil || from == to {
		return
	}
	c.notifier.StatusChanged(ctx, id, from, to, buildURL)
}

// IsNotFound reports whether err is a missing-pipeline error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotRun reports whether err indicates a pipeline that was never run.
func IsNotRun(err error) bool {
	return errors.Is(err, ErrNotRun)
}

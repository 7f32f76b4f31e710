package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// RunOptions controls a run of a defined pipeline.
type RunOptions struct {
	// IssueBadge requests badge issuance when the build later succeeds.
	IssueBadge bool

	// RepoURL and RepoBranch optionally name the main project repository
	// the pipeline assesses, recorded for badge evidence. When RepoBranch
	// is empty the remote's default branch is probed.
	RepoURL    string
	RepoBranch string

	// KeepGoing makes the pipeline run every stage to completion even
	// after a failing one.
	KeepGoing bool
}

const keepGoingEnvKey = "JPL_KEEPGOING"

// Run pushes the synthesized artifacts to the pipeline's repository and
// triggers (or schedules discovery of) its CI job. The resulting CI state
// is persisted before returning.
func (c *Client) Run(ctx context.Context, id string, opts RunOptions) (*Pipeline, error) {
	release := c.locks.acquire(id)
	defer release()

	ctx, span := StartSpan(ctx, "run", id)
	defer span.End()

	record, err := c.store.Get(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	if record.Synthesized == nil {
		err := fmt.Errorf("%w: pipeline has no synthesized artifacts", ErrConflict)
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}

	if opts.KeepGoing {
		if err := InjectEnvironment(record.Synthesized, keepGoingEnvKey, "enabled"); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("run", id, err)
		}
		if err := c.store.SetSynthesized(ctx, id, record.Synthesized); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("run", id, err)
		}
	}

	mainRepoURL, mainRepoBranch, mainRepoCommit, err := c.resolveMainRepo(ctx, opts)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}

	handle, err := c.repos.EnsureRepo(ctx, record.RepoSlug)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	record.RepoURL = handle.HTMLURL
	record.BadgeRequest = opts.IssueBadge
	if err := c.store.Put(ctx, record); err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}

	deletions, err := c.orphanedArtifacts(ctx, handle, record.Synthesized)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	files := c.artifactFiles(record.Synthesized, deletions)

	sha, err := c.repos.PushFiles(ctx, handle, handle.DefaultBranch, "Update QA pipeline artifacts", files)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	c.logger.Info(ctx, "Pushed pipeline artifacts", map[string]interface{}{
		"pipeline_id": id,
		"repo_slug":   handle.Slug,
		"commit":      sha,
		"files":       len(files),
	})

	previous := StatusDefined
	if record.CIState != nil {
		previous = record.CIState.Status
	}
	jobName := c.fullJobName(handle.Slug, handle.DefaultBranch)
	state := &CIState{
		JobName:        jobName,
		CommitSHA:      sha,
		MainRepoURL:    mainRepoURL,
		MainRepoBranch: mainRepoBranch,
		MainRepoCommit: mainRepoCommit,
	}

	exists, err := c.ci.JobExists(ctx, jobName)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	if exists {
		queueID, err := c.ci.TriggerBuild(ctx, jobName)
		if err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("run", id, err)
		}
		state.QueueItemID = queueID
		state.Status = StatusQueued
	} else {
		if err := c.ci.ScanOrganization(ctx, c.config.Organization); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("run", id, err)
		}
		state.Status = StatusWaitingScanOrg
	}

	if err := c.store.SetCIState(ctx, id, state); err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("run", id, err)
	}
	record.CIState = state
	c.notifyStatus(ctx, id, previous, state.Status, state.BuildURL)

	c.logger.Info(ctx, "Started pipeline run", map[string]interface{}{
		"pipeline_id": id,
		"job_name":    jobName,
		"status":      state.Status.String(),
	})
	return record, nil
}

// resolveMainRepo validates the optional main project repository of a run,
// fills in its branch from the remote when unset and records the head
// commit of that branch.
func (c *Client) resolveMainRepo(ctx context.Context, opts RunOptions) (string, string, string, error) {
	if opts.RepoURL == "" {
		return "", "", "", nil
	}
	branch, head, err := c.repos.RemoteDefaultBranch(ctx, opts.RepoURL, opts.RepoBranch)
	if err != nil {
		return "", "", "", fmt.Errorf("resolving branch of %s: %w", opts.RepoURL, err)
	}
	return opts.RepoURL, branch, head, nil
}

// artifactFiles collects the full artifact file set as commit files,
// appending tombstones for the given orphaned paths.
func (c *Client) artifactFiles(artifacts *SynthesizedArtifacts, orphans []string) []CommitFile {
	files := make([]CommitFile, 0, len(artifacts.Configs)+len(artifacts.CommandScripts)+2+len(orphans))
	for _, cfg := range artifacts.Configs {
		files = append(files, CommitFile{Path: cfg.FileName, Content: cfg.Content})
	}
	files = append(files, CommitFile{Path: artifacts.Composer.FileName, Content: artifacts.Composer.Content})
	files = append(files, CommitFile{Path: JenkinsfileName, Content: []byte(artifacts.Jenkinsfile)})
	for _, script := range artifacts.CommandScripts {
		files = append(files, CommitFile{Path: script.FileName, Content: []byte(script.Content)})
	}
	for _, path := range orphans {
		files = append(files, CommitFile{Path: path, Delete: true})
	}
	return files
}

// orphanedArtifacts lists repository files that look like synthesized
// artifacts but no longer belong to the current file set. Updates shrink
// the artifact set, so stale conditional configs and command scripts must
// be removed in the same commit that refreshes the rest.
func (c *Client) orphanedArtifacts(ctx context.Context, handle *RepoHandle, artifacts *SynthesizedArtifacts) ([]string, error) {
	existing, err := c.repos.ListFiles(ctx, handle, handle.DefaultBranch, "")
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	current := make(map[string]bool)
	for _, name := range artifacts.FileSet() {
		current[name] = true
	}
	var orphans []string
	for _, name := range existing {
		if current[name] {
			continue
		}
		if isArtifactName(name) {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

// isArtifactName reports whether a repository path matches the naming
// conventions of synthesized artifacts.
func isArtifactName(name string) bool {
	if name == ConfigFileName || name == ComposerFileName || name == JenkinsfileName {
		return true
	}
	if strings.HasPrefix(name, "config_") && strings.HasSuffix(name, ".yml") {
		return true
	}
	if strings.HasPrefix(name, commandsScriptBase) && strings.HasSuffix(name, commandsScriptExt) {
		return true
	}
	return false
}

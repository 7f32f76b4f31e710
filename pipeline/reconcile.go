package pipeline

import (
	"context"
	"errors"
)

// StatusReport is the outcome of a status reconciliation.
type StatusReport struct {
	// BuildStatus is the reconciled status.
	BuildStatus BuildStatus `json:"build_status"`

	// BuildURL is the CI engine URL for the build, when one exists.
	BuildURL string `json:"build_url,omitempty"`

	// OpenBadgeID is set once a badge was issued for the pipeline.
	OpenBadgeID string `json:"openbadge_id,omitempty"`
}

// Status reconciles the pipeline's cached CI state against the CI engine
// and returns the resulting report. Reconciliation is lazy: it happens on
// read, never in the background. A pipeline that was never run returns
// ErrNotRun (wrapped).
//
// A terminal observation is sticky: once reached the gateway is not asked
// again, so repeated status reads of a finished pipeline are cheap and
// stable. On the successful terminal observation of a badge-requesting run
// the badge flow executes exactly once.
func (c *Client) Status(ctx context.Context, id string) (*StatusReport, error) {
	release := c.locks.acquire(id)
	defer release()

	ctx, span := StartSpan(ctx, "status", id)
	defer span.End()

	record, err := c.store.Get(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, NewPipelineError("status", id, err)
	}
	if record.CIState == nil {
		return nil, NewPipelineError("status", id, ErrNotRun)
	}

	state := record.CIState
	previous := state.Status

	if !state.Status.IsTerminal() {
		if err := c.observe(ctx, state); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("status", id, err)
		}
	}

	if state.Status != previous {
		if err := c.store.SetCIState(ctx, id, state); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("status", id, err)
		}
	}
	c.notifyStatus(ctx, id, previous, state.Status, state.BuildURL)

	// The terminal status is persisted before output capture, so a
	// truncated capture fails this read but the next one retries it
	// without re-polling the build.
	if state.Status.IsTerminal() && state.StageResults == nil {
		results, err := c.ci.StageOutputs(ctx, state.JobName, state.BuildNumber)
		if err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("status", id, err)
		}
		state.StageResults = internalStageKeys(results)
		if err := c.store.SetCIState(ctx, id, state); err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("status", id, err)
		}
	}

	if state.Status.IsSuccess() && record.BadgeRequest && record.Badge == nil {
		badge, err := c.issueBadge(ctx, record)
		if err != nil {
			recordSpanError(span, err)
			return nil, NewPipelineError("status", id, err)
		}
		record.Badge = badge
	}

	report := &StatusReport{
		BuildStatus: state.Status,
		BuildURL:    state.BuildURL,
	}
	if record.Badge != nil {
		report.OpenBadgeID = record.Badge.OpenBadgeID
	}
	return report, nil
}

// observe advances a non-terminal CI state by one gateway observation:
// waiting_scan_org checks for job discovery, queued checks the queue item,
// and anything with a build number asks for the build status.
func (c *Client) observe(ctx context.Context, state *CIState) error {
	if state.Status == StatusWaitingScanOrg {
		exists, err := c.ci.JobExists(ctx, state.JobName)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		queueID, err := c.ci.TriggerBuild(ctx, state.JobName)
		if err != nil {
			return err
		}
		state.QueueItemID = queueID
		state.Status = StatusQueued
		return nil
	}

	if state.BuildNumber == 0 {
		item, err := c.ci.ObserveQueueItem(ctx, state.QueueItemID)
		if err != nil {
			// A queue item the engine no longer remembers means the build
			// started and the item expired; fall through to a job probe on
			// the next read rather than failing the status call.
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !item.Started {
			return nil
		}
		state.BuildNumber = item.BuildNumber
		state.BuildURL = item.BuildURL
		state.Status = StatusRunning
	}

	status, err := c.ci.BuildInfo(ctx, state.JobName, state.BuildNumber)
	if err != nil {
		return err
	}
	state.Status = status
	return nil
}

// internalStageKeys re-keys gateway stage results from external stage
// names to internal criterion codes.
func internalStageKeys(results map[string]StageOutput) map[string]StageOutput {
	out := make(map[string]StageOutput, len(results))
	for name, result := range results {
		out[InternalCriterionCode(name)] = result
	}
	return out
}

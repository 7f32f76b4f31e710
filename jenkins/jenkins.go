// Package jenkins implements the CI gateway on the Jenkins REST API. Jobs
// live inside a multibranch organization folder, so full job names are
// slash-separated paths (org/repo/branch).
package jenkins

import (
	"context"
	"fmt"
	"strings"

	"github.com/bndr/gojenkins"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// Gateway implements pipeline.CIGateway.
type Gateway struct {
	jenkins *gojenkins.Jenkins
	logger  pipeline.Logger
}

var _ pipeline.CIGateway = (*Gateway)(nil)

// NewGateway connects to the Jenkins controller and verifies the session.
func NewGateway(ctx context.Context, url, user, token string, logger pipeline.Logger) (*Gateway, error) {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	jenkins := gojenkins.CreateJenkins(nil, url, user, token)
	if _, err := jenkins.Init(ctx); err != nil {
		return nil, pipeline.NewUpstreamError("jenkins", 0, "connecting to controller", err)
	}
	return &Gateway{jenkins: jenkins, logger: logger}, nil
}

// NewGatewayWithClient wraps an existing gojenkins client. Primarily for
// tests against a stubbed controller.
func NewGatewayWithClient(jenkins *gojenkins.Jenkins, logger pipeline.Logger) *Gateway {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Gateway{jenkins: jenkins, logger: logger}
}

// splitJobPath splits a full job name into the leaf job and its parent
// folder chain, the order gojenkins wants them in.
func splitJobPath(fullName string) (string, []string) {
	parts := strings.Split(fullName, "/")
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts[len(parts)-1], parts[:len(parts)-1]
}

// restPath renders the folder-nested REST path of a full job name
// (org/repo/branch -> /job/org/job/repo/job/branch).
func restPath(fullName string) string {
	var b strings.Builder
	for _, part := range strings.Split(fullName, "/") {
		b.WriteString("/job/")
		b.WriteString(part)
	}
	return b.String()
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}

func (g *Gateway) getJob(ctx context.Context, fullName string) (*gojenkins.Job, error) {
	leaf, parents := splitJobPath(fullName)
	job, err := g.jenkins.GetJob(ctx, leaf, parents...)
	if err != nil {
		if isNotFound(err) {
			return nil, pipeline.NewUpstreamError("jenkins", 404,
				fmt.Sprintf("job %s", fullName), pipeline.ErrNotFound)
		}
		return nil, pipeline.NewUpstreamError("jenkins", 0, fmt.Sprintf("job %s", fullName), err)
	}
	return job, nil
}

// JobExists reports whether the full job name is known to the engine.
func (g *Gateway) JobExists(ctx context.Context, fullName string) (bool, error) {
	_, err := g.getJob(ctx, fullName)
	if err != nil {
		if pipeline.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ScanOrganization triggers a scan of the organization folder so newly
// created repositories are discovered.
func (g *Gateway) ScanOrganization(ctx context.Context, org string) error {
	// Organization folders rebuild their job index on a plain build
	// request.
	endpoint := "/job/" + org + "/build"
	resp, err := g.jenkins.Requester.Post(ctx, endpoint, nil, nil, map[string]string{"delay": "0"})
	if err != nil {
		return pipeline.NewUpstreamError("jenkins", 0, "scanning organization "+org, err)
	}
	if resp.StatusCode >= 400 {
		return pipeline.NewUpstreamError("jenkins", resp.StatusCode, "scanning organization "+org, nil)
	}
	g.logger.Info(ctx, "Triggered organization scan", map[string]interface{}{
		"org": org,
	})
	return nil
}

// TriggerBuild enqueues a build and returns the queue item number.
func (g *Gateway) TriggerBuild(ctx context.Context, fullName string) (int64, error) {
	job, err := g.getJob(ctx, fullName)
	if err != nil {
		return 0, err
	}
	itemID, err := job.InvokeSimple(ctx, nil)
	if err != nil {
		return 0, pipeline.NewUpstreamError("jenkins", 0, "triggering "+fullName, err)
	}
	return itemID, nil
}

// ObserveQueueItem reports whether the queue item became a build.
func (g *Gateway) ObserveQueueItem(ctx context.Context, itemID int64) (*pipeline.QueueItem, error) {
	task, err := g.jenkins.GetQueueItem(ctx, itemID)
	if err != nil {
		if isNotFound(err) {
			// Executed queue items expire from the queue after a while.
			return nil, pipeline.NewUpstreamError("jenkins", 404,
				fmt.Sprintf("queue item %d", itemID), pipeline.ErrNotFound)
		}
		return nil, pipeline.NewUpstreamError("jenkins", 0, fmt.Sprintf("queue item %d", itemID), err)
	}

	item := &pipeline.QueueItem{}
	if task.Raw.Executable.Number != 0 {
		item.Started = true
		item.BuildNumber = task.Raw.Executable.Number
		item.BuildURL = task.Raw.Executable.URL
	}
	return item, nil
}

// BuildInfo returns the status of a build.
func (g *Gateway) BuildInfo(ctx context.Context, fullName string, number int64) (pipeline.BuildStatus, error) {
	job, err := g.getJob(ctx, fullName)
	if err != nil {
		return "", err
	}
	build, err := job.GetBuild(ctx, number)
	if err != nil {
		return "", pipeline.NewUpstreamError("jenkins", 0,
			fmt.Sprintf("build %s#%d", fullName, number), err)
	}
	if build.Raw.Building {
		return pipeline.StatusRunning, nil
	}
	return pipeline.ParseBuildStatus(build.GetResult()), nil
}

// DeleteJob removes the job from the engine.
func (g *Gateway) DeleteJob(ctx context.Context, fullName string) error {
	job, err := g.getJob(ctx, fullName)
	if err != nil {
		return err
	}
	if _, err := job.Delete(ctx); err != nil {
		return pipeline.NewUpstreamError("jenkins", 0, "deleting "+fullName, err)
	}
	return nil
}

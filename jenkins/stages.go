package jenkins

import (
	"context"
	"fmt"
	"strings"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// criterionStagePrefix marks the stages carrying quality criterion
// results; anything else in the build (checkout, declarative hooks) is
// ignored.
const criterionStagePrefix = "QC."

// Workflow API payloads. Only the fields the capture needs are mapped.
type wfRun struct {
	Stages []wfStage `json:"stages"`
}

type wfStage struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
	Links  wfLinks `json:"_links"`
}

type wfStageDetail struct {
	StageFlowNodes []wfNode `json:"stageFlowNodes"`
}

type wfNode struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Links wfLinks `json:"_links"`
}

type wfLinks struct {
	Self wfHref `json:"self"`
	Log  wfHref `json:"log"`
}

type wfHref struct {
	Href string `json:"href"`
}

type wfNodeLog struct {
	Text string `json:"text"`
}

// StageOutputs returns per-criterion results of a finished build, keyed by
// the stage names on the engine. Each stage's captured log must carry the
// echoed command line ('+' prefix); a log without one is considered
// truncated and fails the whole capture.
func (g *Gateway) StageOutputs(
	ctx context.Context,
	fullName string,
	number int64,
) (map[string]pipeline.StageOutput, error) {
	base := fmt.Sprintf("%s/%d/wfapi/describe", restPath(fullName), number)

	var run wfRun
	if _, err := g.jenkins.Requester.GetJSON(ctx, base, &run, nil); err != nil {
		return nil, pipeline.NewUpstreamError("jenkins", 0,
			fmt.Sprintf("describing build %s#%d", fullName, number), err)
	}

	results := make(map[string]pipeline.StageOutput)
	for _, stage := range run.Stages {
		if !strings.HasPrefix(stage.Name, criterionStagePrefix) {
			continue
		}

		text, err := g.stageLog(ctx, stage)
		if err != nil {
			return nil, err
		}
		command, output, ok := splitCommandOutput(text)
		if !ok {
			return nil, pipeline.NewUpstreamError("jenkins", 502,
				fmt.Sprintf("stage %s of %s#%d", stage.Name, fullName, number),
				fmt.Errorf("%w: no command line in captured log", pipeline.ErrOutputTruncated))
		}

		results[stage.Name] = pipeline.StageOutput{
			Status:  stage.Status,
			Command: command,
			Output:  output,
		}
	}
	return results, nil
}

// stageLog concatenates the logs of every flow node of a stage.
func (g *Gateway) stageLog(ctx context.Context, stage wfStage) (string, error) {
	var detail wfStageDetail
	if _, err := g.jenkins.Requester.GetJSON(ctx, stage.Links.Self.Href, &detail, nil); err != nil {
		return "", pipeline.NewUpstreamError("jenkins", 0, "describing stage "+stage.Name, err)
	}

	var b strings.Builder
	for _, node := range detail.StageFlowNodes {
		if node.Links.Log.Href == "" {
			continue
		}
		var log wfNodeLog
		if _, err := g.jenkins.Requester.GetJSON(ctx, node.Links.Log.Href, &log, nil); err != nil {
			return "", pipeline.NewUpstreamError("jenkins", 0,
				fmt.Sprintf("fetching log of stage %s node %s", stage.Name, node.ID), err)
		}
		b.WriteString(log.Text)
	}
	return b.String(), nil
}

// splitCommandOutput extracts the echoed command ('+'-prefixed line) and
// the remaining output from a captured stage log. ok is false when the log
// carries no command line.
func splitCommandOutput(text string) (string, string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "+ ") {
			command := strings.TrimPrefix(trimmed, "+ ")
			output := strings.Join(lines[i+1:], "\n")
			return command, strings.TrimRight(output, "\n"), true
		}
	}
	return "", "", false
}

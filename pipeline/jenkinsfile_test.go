package pipeline

import (
	"strings"
	"testing"
)

func TestRenderJenkinsfileStages(t *testing.T) {
	out, err := renderJenkinsfile(jenkinsfileInput{
		LibraryVersion: "2.1.0",
		Configs: []ConfigDocument{
			{
				FileName: "config_ab12cd.yml",
				When: &WhenClause{
					Branch:      &BranchPattern{Pattern: "release/.*", Comparator: "REGEXP"},
					BuildingTag: true,
				},
			},
			{FileName: "config.yml"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out, "@Library(['github.com/indigo-dc/jenkins-pipeline-library@2.1.0']) _") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "stage('SQA baseline dynamic stages (config_ab12cd.yml)')") {
		t.Error("missing conditional stage")
	}
	if !strings.Contains(out, "stage('SQA baseline dynamic stages (config.yml)')") {
		t.Error("missing unconditional stage")
	}
	if !strings.Contains(out, "branch pattern: 'release/.*', comparator: 'REGEXP'") {
		t.Error("missing branch predicate")
	}
	if !strings.Contains(out, "buildingTag()") {
		t.Error("missing buildingTag predicate")
	}
	if !strings.Contains(out, "pipelineConfig(configFile: './config.yml')") {
		t.Error("stage does not load its config document")
	}
	if !strings.Contains(out, "cleanWs()") {
		t.Error("missing workspace cleanup")
	}
	if strings.Contains(out, "printStageResults") {
		t.Error("stdout reporting rendered without being requested")
	}
	if strings.Contains(out, "timeout(") {
		t.Error("timeout rendered without being requested")
	}
}

func TestRenderJenkinsfileReportToStdout(t *testing.T) {
	out, err := renderJenkinsfile(jenkinsfileInput{
		LibraryVersion: "2.1.0",
		Configs:        []ConfigDocument{{FileName: "config.yml"}},
		ReportToStdout: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "printStageResults(projectConfig)") {
		t.Error("missing stdout reporting block")
	}
}

func TestGroovyEscape(t *testing.T) {
	if got := groovyEscape(`it's a \ pattern`); got != `it\'s a \\ pattern` {
		t.Errorf("unexpected escape %q", got)
	}
}

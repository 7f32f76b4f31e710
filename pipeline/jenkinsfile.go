package pipeline

import (
	"strings"
	"text/template"
)

// defaultLibraryVersion pins the pipeline library the rendered
// orchestration scripts load when the request does not pin one.
const defaultLibraryVersion = "2.1.0"

// jenkinsfileInput feeds the orchestration script template: one stage per
// config document, each referencing its document by file name and carrying
// its activation predicate.
type jenkinsfileInput struct {
	LibraryVersion string
	Configs        []ConfigDocument
	Timeout        int
	ReportToStdout bool
}

type jenkinsfileStage struct {
	Name          string
	ConfigFile    string
	BranchPattern string
	Comparator    string
	BuildingTag   bool
	HasWhen       bool
}

var jenkinsfileTemplate = template.Must(template.New("jenkinsfile").Parse(
	`@Library(['github.com/indigo-dc/jenkins-pipeline-library@{{.LibraryVersion}}']) _

def projectConfig

pipeline {
    agent any
{{- if .Timeout}}

    options {
        timeout(time: {{.Timeout}}, unit: 'SECONDS')
    }
{{- end}}

    stages {
{{- range .Stages}}
        stage('{{.Name}}') {
{{- if .HasWhen}}
            when {
{{- if .BranchPattern}}
                branch pattern: '{{.BranchPattern}}', comparator: '{{.Comparator}}'
{{- end}}
{{- if .BuildingTag}}
                buildingTag()
{{- end}}
            }
{{- end}}
            steps {
                script {
                    projectConfig = pipelineConfig(configFile: './{{.ConfigFile}}')
                    buildStages(projectConfig)
                }
            }
        }
{{- end}}
    }

    post {
{{- if .ReportToStdout}}
        always {
            script {
                printStageResults(projectConfig)
            }
        }
{{- end}}
        cleanup {
            cleanWs()
        }
    }
}
`))

// renderJenkinsfile renders the CI engine pipeline script from the config
// document list.
func renderJenkinsfile(input jenkinsfileInput) (string, error) {
	stages := make([]jenkinsfileStage, 0, len(input.Configs))
	for _, cfg := range input.Configs {
		stage := jenkinsfileStage{
			Name:       "SQA baseline dynamic stages (" + cfg.FileName + ")",
			ConfigFile: cfg.FileName,
		}
		if cfg.When != nil {
			stage.HasWhen = true
			if cfg.When.Branch != nil {
				stage.BranchPattern = groovyEscape(cfg.When.Branch.Pattern)
				stage.Comparator = cfg.When.Branch.Comparator
				if stage.Comparator == "" {
					stage.Comparator = "GLOB"
				}
			}
			stage.BuildingTag = cfg.When.BuildingTag
		}
		stages = append(stages, stage)
	}

	var b strings.Builder
	err := jenkinsfileTemplate.Execute(&b, struct {
		LibraryVersion string
		Timeout        int
		ReportToStdout bool
		Stages         []jenkinsfileStage
	}{
		LibraryVersion: input.LibraryVersion,
		Timeout:        input.Timeout,
		ReportToStdout: input.ReportToStdout,
		Stages:         stages,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// groovyEscape escapes a pattern for a single-quoted Groovy string.
func groovyEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

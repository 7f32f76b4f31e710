package pipeline

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func newTestSynthesizer(opts SynthesizerOptions) *Synthesizer {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(42))
	}
	return NewSynthesizer(opts)
}

func minimalRequest() *Request {
	return &Request{
		Name: "my-pipeline",
		ConfigData: []ConfigData{{
			ProjectRepos: []ProjectRepo{
				{Repo: "https://github.com/org/app", Branch: "main"},
			},
			SQACriteria: map[string]Criterion{
				"qc_style": {
					Repos: []CriterionRepo{{
						RepoURL:   "https://github.com/org/app",
						Container: "checker",
						Tool:      "flake8",
					}},
				},
			},
		}},
		ComposerData: ComposerData{
			Services: map[string]ComposerService{
				"checker": {
					Image:   &ImageSpec{Name: "org/checker:latest"},
					Volumes: &[]Volume{},
				},
			},
		},
	}
}

func TestSynthesizeMinimalRequest(t *testing.T) {
	s := newTestSynthesizer(SynthesizerOptions{})

	out, err := s.Synthesize(minimalRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Configs) != 1 {
		t.Fatalf("expected one config document, got %d", len(out.Configs))
	}
	cfg := out.Configs[0]
	if cfg.FileName != ConfigFileName {
		t.Errorf("expected canonical config name, got %q", cfg.FileName)
	}
	if cfg.When != nil {
		t.Error("expected the only document to be unconditional")
	}
	if len(cfg.Content) == 0 {
		t.Error("expected serialized content")
	}

	criteria, ok := cfg.Data["sqa_criteria"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing sqa_criteria in %v", cfg.Data)
	}
	criterion, ok := criteria["qc_style"].(map[string]interface{})
	if !ok {
		t.Fatal("missing qc_style criterion")
	}
	repos := criterion["repos"].(map[string]interface{})
	if _, ok := repos["github.com/org/app"]; !ok {
		t.Errorf("expected criterion keyed by repository key, got %v", repos)
	}

	config := cfg.Data["config"].(map[string]interface{})
	projectRepos := config["project_repos"].(map[string]interface{})
	entry := projectRepos["github.com/org/app"].(map[string]interface{})
	if entry["repo"] != "https://github.com/org/app" {
		t.Errorf("unexpected repo entry %v", entry)
	}
	if entry["branch"] != "main" {
		t.Errorf("unexpected branch %v", entry["branch"])
	}

	if out.Composer.FileName != ComposerFileName {
		t.Errorf("unexpected composer file name %q", out.Composer.FileName)
	}
	if !strings.Contains(out.Jenkinsfile, "jenkins-pipeline-library@2.1.0") {
		t.Error("expected the default library version in the orchestration script")
	}
	if !strings.Contains(out.Jenkinsfile, "configFile: './config.yml'") {
		t.Error("expected the stage to reference the config document")
	}

	if got := out.ToolMap["qc_style"]; len(got) != 1 || got[0] != "flake8" {
		t.Errorf("unexpected tool map %v", out.ToolMap)
	}

	files := out.FileSet()
	for _, want := range []string{ConfigFileName, ComposerFileName, JenkinsfileName} {
		found := false
		for _, name := range files {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("file set %v misses %q", files, want)
		}
	}
}

func TestSynthesizeComposerDefaults(t *testing.T) {
	s := newTestSynthesizer(SynthesizerOptions{})

	out, err := s.Synthesize(minimalRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	services := out.Composer.Data["services"].(map[string]interface{})
	checker := services["checker"].(map[string]interface{})

	// An empty volume list defaults to the workspace mount, which in turn
	// drives the working directory.
	volumes := checker["volumes"].([]interface{})
	if len(volumes) != 1 {
		t.Fatalf("expected the default volume, got %v", volumes)
	}
	vol := volumes[0].(map[string]interface{})
	if vol["target"] != "/sqaaas-build" {
		t.Errorf("unexpected volume target %v", vol["target"])
	}
	if checker["working_dir"] != "/sqaaas-build" {
		t.Errorf("unexpected working_dir %v", checker["working_dir"])
	}

	// Oneshot defaults to true, keeping the container alive.
	if checker["command"] != "sleep infinity" {
		t.Errorf("unexpected command %v", checker["command"])
	}

	if out.Composer.Data["version"] != "3.7" {
		t.Errorf("unexpected composer version %v", out.Composer.Data["version"])
	}
}

func TestSynthesizeComposerVersionPinned(t *testing.T) {
	req := minimalRequest()
	req.ComposerData.Version = "3.9"

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Composer.Data["version"] != "3.9" {
		t.Errorf("the requested composer version was dropped: %v", out.Composer.Data["version"])
	}
}

func TestSynthesizeOneshotDisabled(t *testing.T) {
	req := minimalRequest()
	oneshot := false
	svc := req.ComposerData.Services["checker"]
	svc.Oneshot = &oneshot
	svc.Command = "./entrypoint.sh"
	req.ComposerData.Services["checker"] = svc

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	services := out.Composer.Data["services"].(map[string]interface{})
	checker := services["checker"].(map[string]interface{})
	if checker["command"] != "./entrypoint.sh" {
		t.Errorf("expected the declared command to survive, got %v", checker["command"])
	}
}

func TestSynthesizeConditionalCriterion(t *testing.T) {
	req := minimalRequest()
	req.ConfigData[0].SQACriteria["qc_security"] = Criterion{
		Repos: []CriterionRepo{{
			RepoURL:   "https://github.com/org/app",
			Container: "checker",
			Tool:      "bandit",
		}},
		When: &WhenClause{
			Branch: &BranchPattern{Pattern: "release/*"},
		},
	}

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Configs) != 2 {
		t.Fatalf("expected two config documents, got %d", len(out.Configs))
	}

	// Conditional documents come first and carry only their criterion; the
	// residual unconditional document closes the list.
	conditional := out.Configs[0]
	if conditional.When == nil {
		t.Fatal("expected the first document to be conditional")
	}
	criteria := conditional.Data["sqa_criteria"].(map[string]interface{})
	if len(criteria) != 1 {
		t.Errorf("conditional document should carry one criterion, got %v", criteria)
	}
	if _, ok := criteria["qc_security"]; !ok {
		t.Error("conditional document misses qc_security")
	}

	residual := out.Configs[1]
	if residual.When != nil {
		t.Fatal("expected the last document to be unconditional")
	}
	criteria = residual.Data["sqa_criteria"].(map[string]interface{})
	if _, ok := criteria["qc_style"]; !ok {
		t.Error("residual document misses qc_style")
	}

	if out.Configs[0].FileName == out.Configs[1].FileName {
		t.Error("config document names collide")
	}
	if def := out.DefaultConfig(); def == nil || def.FileName != residual.FileName {
		t.Error("DefaultConfig should return the unconditional document")
	}

	// The orchestration script gates the conditional stage.
	if !strings.Contains(out.Jenkinsfile, "branch pattern: 'release/*', comparator: 'GLOB'") {
		t.Errorf("expected a when clause in the script:\n%s", out.Jenkinsfile)
	}
}

func nilWhenCount(configs []ConfigDocument) int {
	count := 0
	for _, cfg := range configs {
		if cfg.When == nil {
			count++
		}
	}
	return count
}

func TestSynthesizeAllCriteriaGated(t *testing.T) {
	req := minimalRequest()
	style := req.ConfigData[0].SQACriteria["qc_style"]
	style.When = &WhenClause{BuildingTag: true}
	req.ConfigData[0].SQACriteria["qc_style"] = style

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Configs) != 2 {
		t.Fatalf("expected two config documents, got %d", len(out.Configs))
	}
	if got := nilWhenCount(out.Configs); got != 1 {
		t.Fatalf("expected exactly one unconditional document, got %d", got)
	}

	// The residual closes the list even with no unconditional criteria,
	// so non-matching builds still get a well-formed default document.
	residual := out.Configs[1]
	if residual.When != nil {
		t.Fatal("expected the last document to be unconditional")
	}
	criteria := residual.Data["sqa_criteria"].(map[string]interface{})
	if len(criteria) != 0 {
		t.Errorf("expected an empty residual criteria map, got %v", criteria)
	}
	if def := out.DefaultConfig(); def == nil || def.FileName != residual.FileName {
		t.Error("DefaultConfig should return the residual document")
	}
}

func TestSynthesizeMergesSections(t *testing.T) {
	req := minimalRequest()
	req.ConfigData = append(req.ConfigData, ConfigData{
		ProjectRepos: []ProjectRepo{
			{Repo: "https://github.com/org/docs"},
		},
		SQACriteria: map[string]Criterion{
			"qc_doc": {
				Repos: []CriterionRepo{{
					RepoURL:   "https://github.com/org/docs",
					Container: "checker",
					Tool:      "mkdocs",
				}},
			},
		},
	})

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Configs) != 1 {
		t.Fatalf("expected one merged config document, got %d", len(out.Configs))
	}
	if got := nilWhenCount(out.Configs); got != 1 {
		t.Fatalf("expected exactly one unconditional document, got %d", got)
	}

	criteria := out.Configs[0].Data["sqa_criteria"].(map[string]interface{})
	for _, code := range []string{"qc_style", "qc_doc"} {
		if _, ok := criteria[code]; !ok {
			t.Errorf("merged document misses %s", code)
		}
	}
	repos := out.Configs[0].Data["config"].(map[string]interface{})["project_repos"].(map[string]interface{})
	if len(repos) != 2 {
		t.Errorf("expected both section repositories, got %v", repos)
	}
}

func TestSynthesizeInlineCommands(t *testing.T) {
	req := minimalRequest()
	req.ConfigData[0].SQACriteria["qc_coverage"] = Criterion{
		Repos: []CriterionRepo{{
			Container: "checker",
			Commands:  []string{"pip install .", "pytest --cov"},
		}},
	}

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.CommandScripts) != 1 {
		t.Fatalf("expected one command script, got %d", len(out.CommandScripts))
	}
	script := out.CommandScripts[0]
	if !strings.HasPrefix(script.Content, "#!/bin/bash\n") {
		t.Errorf("unexpected script header:\n%s", script.Content)
	}
	// No repo_url means the project's own repository, checked out at the
	// workspace root.
	if !strings.Contains(script.Content, "cd . && \\\n") {
		t.Errorf("expected the script to enter the checkout dir:\n%s", script.Content)
	}
	if !strings.Contains(script.Content, "pip install . && \\\npytest --cov") {
		t.Errorf("expected chained commands:\n%s", script.Content)
	}

	// The document references the script, never the inline commands.
	criteria := out.Configs[0].Data["sqa_criteria"].(map[string]interface{})
	criterion := criteria["qc_coverage"].(map[string]interface{})
	repos := criterion["repos"].(map[string]interface{})
	entry := repos[ThisRepoKey].(map[string]interface{})
	commands := entry["commands"].([]interface{})
	if len(commands) != 1 || commands[0] != "bash "+script.FileName {
		t.Errorf("unexpected commands %v", commands)
	}
	if strings.Contains(string(out.Configs[0].Content), "pytest --cov") {
		t.Error("inline commands leaked into the serialized document")
	}

	if got := out.ToolMap["qc_coverage"]; len(got) != 1 || got[0] != "commands" {
		t.Errorf("unexpected tool map entry %v", got)
	}
}

func TestSynthesizeToxDefaults(t *testing.T) {
	req := minimalRequest()
	req.ConfigData[0].SQACriteria["qc_coverage"] = Criterion{
		Repos: []CriterionRepo{{
			RepoURL:   "https://github.com/org/app",
			Container: "checker",
			Tox:       &ToxOptions{},
		}},
	}

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	criteria := out.Configs[0].Data["sqa_criteria"].(map[string]interface{})
	criterion := criteria["qc_coverage"].(map[string]interface{})
	repos := criterion["repos"].(map[string]interface{})
	entry := repos["github.com/org/app"].(map[string]interface{})
	tox := entry["tox"].(map[string]interface{})

	if tox["tox_file"] != "github.com/org/app/tox.ini" {
		t.Errorf("unexpected tox_file %v", tox["tox_file"])
	}
	testenv := tox["testenv"].([]interface{})
	if len(testenv) != 1 || testenv[0] != "ALL" {
		t.Errorf("unexpected testenv %v", testenv)
	}

	if got := out.ToolMap["qc_coverage"]; len(got) != 1 || got[0] != "tox" {
		t.Errorf("unexpected tool map entry %v", got)
	}
}

func TestSynthesizeDockerPush(t *testing.T) {
	t.Run("explicit credential", func(t *testing.T) {
		req := minimalRequest()
		svc := req.ComposerData.Services["checker"]
		svc.Image.Registry = &RegistrySpec{
			Push:         true,
			URL:          "https://registry.example.org",
			CredentialID: "registry-creds",
		}
		svc.Build = &BuildSpec{Context: "."}
		req.ComposerData.Services["checker"] = svc

		out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		env := out.Configs[0].Data["environment"].(map[string]interface{})
		if env["JPL_DOCKERPUSH"] != "checker" {
			t.Errorf("unexpected JPL_DOCKERPUSH %v", env["JPL_DOCKERPUSH"])
		}
		if env["JPL_DOCKERSERVER"] != "https://registry.example.org" {
			t.Errorf("unexpected JPL_DOCKERSERVER %v", env["JPL_DOCKERSERVER"])
		}

		config := out.Configs[0].Data["config"].(map[string]interface{})
		creds := config["credentials"].([]interface{})
		if len(creds) != 1 {
			t.Fatalf("expected one credential, got %v", creds)
		}
		cred := creds[0].(map[string]interface{})
		if cred["id"] != "registry-creds" {
			t.Errorf("unexpected credential %v", cred)
		}

		// The registry spec never reaches the composer document.
		services := out.Composer.Data["services"].(map[string]interface{})
		checker := services["checker"].(map[string]interface{})
		if checker["image"] != "org/checker:latest" {
			t.Errorf("unexpected image %v", checker["image"])
		}
	})

	t.Run("fallback credential replaces image org", func(t *testing.T) {
		req := minimalRequest()
		svc := req.ComposerData.Services["checker"]
		svc.Image.Registry = &RegistrySpec{Push: true}
		svc.Build = &BuildSpec{Context: "."}
		req.ComposerData.Services["checker"] = svc

		out, err := newTestSynthesizer(SynthesizerOptions{
			FallbackCredentialID: "default-creds",
			DefaultDockerOrg:     "qa-hub",
		}).Synthesize(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		services := out.Composer.Data["services"].(map[string]interface{})
		checker := services["checker"].(map[string]interface{})
		if checker["image"] != "qa-hub/checker:latest" {
			t.Errorf("expected the fallback org in the image, got %v", checker["image"])
		}

		config := out.Configs[0].Data["config"].(map[string]interface{})
		creds := config["credentials"].([]interface{})
		cred := creds[0].(map[string]interface{})
		if cred["id"] != "default-creds" {
			t.Errorf("unexpected credential %v", cred)
		}
	})

	t.Run("no build definition fails", func(t *testing.T) {
		req := minimalRequest()
		svc := req.ComposerData.Services["checker"]
		svc.Image.Registry = &RegistrySpec{Push: true, CredentialID: "registry-creds"}
		req.ComposerData.Services["checker"] = svc

		_, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest, got %v", err)
		}
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected a RequestError, got %T", err)
		}
		if !strings.Contains(reqErr.Path, "services.checker.build") {
			t.Errorf("unexpected error path %q", reqErr.Path)
		}
	})

	t.Run("no credential and no fallback fails", func(t *testing.T) {
		req := minimalRequest()
		svc := req.ComposerData.Services["checker"]
		svc.Image.Registry = &RegistrySpec{Push: true}
		svc.Build = &BuildSpec{Context: "."}
		req.ComposerData.Services["checker"] = svc

		_, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest, got %v", err)
		}
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected a RequestError, got %T", err)
		}
		if !strings.Contains(reqErr.Path, "registry.credential_id") {
			t.Errorf("unexpected error path %q", reqErr.Path)
		}
	})
}

func TestSynthesizeUndeclaredRepoFails(t *testing.T) {
	req := minimalRequest()
	req.ConfigData[0].SQACriteria["qc_doc"] = Criterion{
		Repos: []CriterionRepo{{
			RepoURL: "https://github.com/org/undeclared",
		}},
	}

	_, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected a RequestError, got %T", err)
	}
	if !strings.Contains(reqErr.Path, "qc_doc") {
		t.Errorf("unexpected error path %q", reqErr.Path)
	}
}

func TestSynthesizeNameValidation(t *testing.T) {
	tests := []struct {
		name     string
		pipeline string
		wantErr  bool
	}{
		{"empty", "", true},
		{"slash", "a/b", true},
		{"space", "a b", true},
		{"valid", "qa_pipeline-1.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := minimalRequest()
			req.Name = tt.pipeline
			_, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
			if tt.wantErr {
				if !errors.Is(err, ErrBadRequest) {
					t.Errorf("expected ErrBadRequest for %q, got %v", tt.pipeline, err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for %q: %v", tt.pipeline, err)
			}
		})
	}
}

func TestSynthesizeEmptySectionsFail(t *testing.T) {
	req := minimalRequest()
	req.ConfigData = nil
	if _, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req); !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for missing config_data, got %v", err)
	}

	req = minimalRequest()
	req.ConfigData[0].SQACriteria = nil
	if _, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req); !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for missing sqa_criteria, got %v", err)
	}
}

func TestSynthesizeTimeoutAndLibraryVersion(t *testing.T) {
	req := minimalRequest()
	req.ConfigData[0].Timeout = 1800
	req.JenkinsfileData.LibraryVersion = "2.3.1"

	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Configs[0].Data["timeout"] != 1800 {
		t.Errorf("unexpected timeout %v", out.Configs[0].Data["timeout"])
	}
	if !strings.Contains(out.Jenkinsfile, "timeout(time: 1800, unit: 'SECONDS')") {
		t.Error("expected a timeout options block in the script")
	}
	if !strings.Contains(out.Jenkinsfile, "jenkins-pipeline-library@2.3.1") {
		t.Error("expected the pinned library version")
	}
}

func TestInjectEnvironment(t *testing.T) {
	out, err := newTestSynthesizer(SynthesizerOptions{}).Synthesize(minimalRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := InjectEnvironment(out, "JPL_KEEPGOING", "enabled"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, cfg := range out.Configs {
		env := cfg.Data["environment"].(map[string]interface{})
		if env["JPL_KEEPGOING"] != "enabled" {
			t.Errorf("%s: missing injected variable", cfg.FileName)
		}
		if !strings.Contains(string(cfg.Content), "JPL_KEEPGOING") {
			t.Errorf("%s: content not re-serialized", cfg.FileName)
		}
	}
}

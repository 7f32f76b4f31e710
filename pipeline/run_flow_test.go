package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

func defineAndGetID(t *testing.T, env *testEnv) string {
	t.Helper()
	record, err := env.client.Define(context.Background(), flowRequest())
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	return record.ID
}

func TestClientRunTriggersScanForNewRepo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	record, err := env.client.Run(ctx, id, pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if record.CIState == nil {
		t.Fatal("expected CI state after run")
	}
	if record.CIState.Status != pipeline.StatusWaitingScanOrg {
		t.Errorf("expected waiting_scan_org, got %s", record.CIState.Status)
	}
	if record.CIState.CommitSHA == "" {
		t.Error("expected the artifacts commit recorded")
	}
	if record.RepoURL == "" {
		t.Error("expected the repository URL recorded")
	}

	if len(env.ci.ScanOrganizationCalls) != 1 || env.ci.ScanOrganizationCalls[0] != "qa-org" {
		t.Errorf("expected an organization scan, got %v", env.ci.ScanOrganizationCalls)
	}
	if len(env.ci.TriggerBuildCalls) != 0 {
		t.Error("a job that does not exist yet cannot be triggered")
	}

	// The whole artifact set landed in one push.
	if len(env.repos.PushFilesCalls) != 1 {
		t.Fatalf("expected one push, got %d", len(env.repos.PushFilesCalls))
	}
	files := env.repos.Files(record.RepoSlug, "main")
	for _, want := range []string{"config.yml", "docker-compose.yml", "Jenkinsfile"} {
		if _, ok := files[want]; !ok {
			t.Errorf("pushed tree misses %q: %v", want, fileNames(files))
		}
	}

	stored, err := env.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CIState == nil || stored.CIState.Status != pipeline.StatusWaitingScanOrg {
		t.Error("CI state not persisted")
	}
}

func TestClientRunTriggersExistingJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	record, err := env.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	jobName := record.RepoSlug + "/main"
	env.ci.Jobs[jobName] = true

	record, err = env.client.Run(ctx, id, pipeline.RunOptions{IssueBadge: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if record.CIState.Status != pipeline.StatusQueued {
		t.Errorf("expected queued, got %s", record.CIState.Status)
	}
	if record.CIState.QueueItemID == 0 {
		t.Error("expected a queue item id")
	}
	if record.CIState.JobName != jobName {
		t.Errorf("unexpected job name %q", record.CIState.JobName)
	}
	if !record.BadgeRequest {
		t.Error("badge request not recorded")
	}
	if len(env.ci.ScanOrganizationCalls) != 0 {
		t.Error("existing jobs need no organization scan")
	}
}

func TestClientRunKeepGoing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	record, err := env.client.Run(ctx, id, pipeline.RunOptions{KeepGoing: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, cfg := range record.Synthesized.Configs {
		vars, _ := cfg.Data["environment"].(map[string]interface{})
		if vars == nil || vars["JPL_KEEPGOING"] != "enabled" {
			t.Errorf("%s: keep-going variable not injected", cfg.FileName)
		}
	}
	if len(env.store.SetSynthesizedCalls) != 1 {
		t.Errorf("expected the injected artifacts persisted, got %d calls", len(env.store.SetSynthesizedCalls))
	}

	// The pushed document carries the variable too.
	files := env.repos.Files(record.RepoSlug, "main")
	if !strings.Contains(string(files["config.yml"]), "JPL_KEEPGOING") {
		t.Error("pushed config misses the keep-going variable")
	}
}

func TestClientRunDeletesOrphanedArtifacts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	record, err := env.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// A previous run left artifacts that the current set no longer
	// contains, plus a file that is not ours to touch.
	env.repos.Repos[record.RepoSlug] = map[string]map[string][]byte{
		"main": {
			"config_stale1.yml":        []byte("old"),
			"commands_script_stale.sh": []byte("old"),
			"README.md":                []byte("keep"),
		},
	}

	if _, err := env.client.Run(ctx, id, pipeline.RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	files := env.repos.Files(record.RepoSlug, "main")
	if _, ok := files["config_stale1.yml"]; ok {
		t.Error("stale config document not deleted")
	}
	if _, ok := files["commands_script_stale.sh"]; ok {
		t.Error("stale command script not deleted")
	}
	if _, ok := files["README.md"]; !ok {
		t.Error("unrelated file must survive the orphan sweep")
	}
	if _, ok := files["config.yml"]; !ok {
		t.Error("current artifacts missing after run")
	}
}

func TestClientRunRecordsMainRepo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	env.repos.RemoteBranches["https://github.com/org/app"] = "develop"
	env.repos.RemoteHeads["https://github.com/org/app"] = "0f1e2d3c"

	record, err := env.client.Run(ctx, id, pipeline.RunOptions{
		RepoURL: "https://github.com/org/app",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if record.CIState.MainRepoURL != "https://github.com/org/app" {
		t.Errorf("unexpected main repo %q", record.CIState.MainRepoURL)
	}
	if record.CIState.MainRepoBranch != "develop" {
		t.Errorf("expected the probed default branch, got %q", record.CIState.MainRepoBranch)
	}
	if record.CIState.MainRepoCommit != "0f1e2d3c" {
		t.Errorf("expected the probed head commit, got %q", record.CIState.MainRepoCommit)
	}
}

func TestClientRunUnknownMainRepoFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := defineAndGetID(t, env)

	_, err := env.client.Run(ctx, id, pipeline.RunOptions{
		RepoURL: "https://github.com/org/missing",
	})
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown repository, got %v", err)
	}
	if len(env.repos.PushFilesCalls) != 0 {
		t.Error("nothing must be pushed when the main repository probe fails")
	}
}

func TestClientRunUnknownID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.client.Run(ctx, "missing", pipeline.RunOptions{})
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func fileNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	return names
}

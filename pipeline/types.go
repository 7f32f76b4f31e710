// Package pipeline implements the QA pipeline synthesis and lifecycle engine.
// It translates a user-supplied description of a project and its quality
// checks into on-disk CI artifacts (stage-partitioned config documents, a
// compose document, a Jenkinsfile and generated command scripts), drives a
// pipeline from defined through queued and running to a terminal state, and
// decides whether a digital badge should be issued for the criteria the
// project fulfilled.
//
// The package owns no transport: the code-hosting platform, the CI engine
// and the badge service are reached through the gateway interfaces declared
// in interfaces.go, so the whole lifecycle can be exercised against the
// in-memory fakes under pipelinetest.
package pipeline

import (
	"encoding/json"
)

// Pipeline is a persisted pipeline record.
//
// The ID is the unique identifier for the pipeline and is stable across its
// whole lifetime: updates re-synthesize the artifacts but never change the
// ID. Ground truth for the CI side of the record lives in the CI engine;
// CIState caches the last observation and may lag behind it, but never
// contradicts a confirmed terminal observation.
type Pipeline struct {
	// ID is the unique pipeline identifier (UUID).
	ID string `json:"id"`

	// RepoSlug is the short name of the artifacts repository on the
	// code-hosting platform (org/name).
	RepoSlug string `json:"repo_slug"`

	// RepoURL is the canonical URL of the artifacts repository.
	RepoURL string `json:"repo_url"`

	// RawRequest is the verbatim user submission, kept so updates can
	// reconstruct the original input.
	RawRequest *Request `json:"raw_request"`

	// Synthesized holds the artifacts produced from RawRequest.
	Synthesized *SynthesizedArtifacts `json:"synthesized"`

	// CIState binds the pipeline to a CI job once a run was requested.
	// Nil until the first run.
	CIState *CIState `json:"ci_state,omitempty"`

	// BadgeRequest records whether a badge should be issued when the
	// pipeline reaches a successful terminal state.
	BadgeRequest bool `json:"badge_request"`

	// Badge is the issued badge descriptor, set at most once per
	// successful terminal state.
	Badge *Badge `json:"badge,omitempty"`

	// Assessment is the free-form blob attached by the assessment flow.
	Assessment json.RawMessage `json:"assessment,omitempty"`
}

// CIState is the last observed truth about the pipeline's CI job.
type CIState struct {
	// JobName is the full CI job name (folder/repo/branch).
	JobName string `json:"job_name"`

	// QueueItemID is the queue item returned when the build was
	// triggered. Zero when the job is still waiting for the organization
	// scan to discover it.
	QueueItemID int64 `json:"queue_item_id,omitempty"`

	// BuildNumber is assigned once the queue item left the queue.
	BuildNumber int64 `json:"build_number,omitempty"`

	// BuildURL is the CI engine URL for the running or finished build.
	BuildURL string `json:"build_url,omitempty"`

	// Status is the last status reported by the CI gateway.
	Status BuildStatus `json:"status"`

	// CommitSHA is the commit that carries the pushed artifacts.
	CommitSHA string `json:"commit_sha,omitempty"`

	// MainRepoURL, MainRepoBranch and MainRepoCommit name the project
	// repository under assessment, recorded at run time for badge
	// evidence. MainRepoCommit is the head of the branch when the run
	// was started.
	MainRepoURL    string `json:"main_repo_url,omitempty"`
	MainRepoBranch string `json:"main_repo_branch,omitempty"`
	MainRepoCommit string `json:"main_repo_commit,omitempty"`

	// StageResults holds per-criterion results captured when a terminal
	// status was observed. Nil means not yet captured; a captured empty
	// map must survive the JSON round trip so reloads do not re-fetch.
	StageResults map[string]StageOutput `json:"stage_results"`
}

// Badge describes an issued badge assertion.
type Badge struct {
	// ClassName is the badge class the assertion was issued against.
	ClassName string `json:"class_name"`

	// OpenBadgeID is the verifiable assertion identifier.
	OpenBadgeID string `json:"openbadge_id"`

	// ImageURL points at the baked badge image.
	ImageURL string `json:"image_url,omitempty"`

	// IssuedOn is the issuance timestamp reported by the badge service.
	IssuedOn string `json:"issued_on,omitempty"`

	// Criteria lists the criterion codes that were fulfilled.
	Criteria []string `json:"criteria"`
}

// StageOutput is the parsed result of one QC stage of a finished build.
type StageOutput struct {
	// Status is the stage status as reported by the CI engine.
	Status string `json:"status"`

	// Command is the command the stage invoked (the first line of the
	// captured output prefixed with '+').
	Command string `json:"command,omitempty"`

	// Output is the remaining captured output body.
	Output string `json:"output,omitempty"`
}

// Request is the user-supplied pipeline description. It is stored verbatim
// on the pipeline record and fed to the Synthesizer.
type Request struct {
	// Name is the pipeline name. Restricted to [A-Za-z0-9_.-].
	Name string `json:"name"`

	// ReportToStdout makes the orchestration script additionally emit
	// per-stage results to standard output (assessment flow).
	ReportToStdout bool `json:"report_to_stdout,omitempty"`

	// ConfigData describes the quality checks to run.
	ConfigData []ConfigData `json:"config_data"`

	// ComposerData describes the container services used to execute the
	// checks.
	ComposerData ComposerData `json:"composer_data"`

	// JenkinsfileData tunes orchestration script rendering.
	JenkinsfileData JenkinsfileData `json:"jenkinsfile_data,omitempty"`
}

// ConfigData is one config section of the request.
type ConfigData struct {
	// ProjectRepos lists the repositories the checks operate on.
	ProjectRepos []ProjectRepo `json:"project_repos,omitempty"`

	// SQACriteria maps criterion codes (qc_style, qc_coverage,
	// qc_functional, qc_security, qc_doc) to their check definitions.
	SQACriteria map[string]Criterion `json:"sqa_criteria"`

	// Environment is injected into every stage of the rendered config.
	Environment map[string]string `json:"environment,omitempty"`

	// Timeout bounds the whole pipeline execution, in seconds.
	Timeout int `json:"timeout,omitempty"`

	// Credentials are credential references required by the checks.
	// The synthesizer appends registry push credentials here.
	Credentials []Credential `json:"credentials,omitempty"`
}

// ProjectRepo is a repository reference inside a config section.
type ProjectRepo struct {
	// Repo is the clone URL of the repository.
	Repo string `json:"repo"`

	// Branch is the branch to check out. Empty means the remote default
	// branch.
	Branch string `json:"branch,omitempty"`
}

// Credential is a reference to a credential known to the CI engine.
// Only the identifier travels through the system; secrets never do.
type Credential struct {
	ID          string `json:"id"`
	Type        string `json:"type,omitempty"`
	UsernameVar string `json:"username_var,omitempty"`
	PasswordVar string `json:"password_var,omitempty"`
}

// Criterion is one quality check definition.
type Criterion struct {
	// Repos lists the repositories the criterion applies to, with the
	// tools or inline commands to run for each.
	Repos []CriterionRepo `json:"repos"`

	// When gates the criterion to a branch pattern and/or tag builds.
	// Criteria with a non-nil When are partitioned into their own config
	// document by the synthesizer.
	When *WhenClause `json:"when,omitempty"`
}

// CriterionRepo binds a criterion to one repository.
type CriterionRepo struct {
	// RepoURL selects the repository. Empty means the project's own
	// repository (re-keyed as this_repo during synthesis).
	RepoURL string `json:"repo_url,omitempty"`

	// Container names the compose service the check runs in.
	Container string `json:"container,omitempty"`

	// Commands are inline shell commands. The synthesizer never emits
	// them verbatim: they are wrapped into a generated script.
	Commands []string `json:"commands,omitempty"`

	// Tox configures tox-driven checks.
	Tox *ToxOptions `json:"tox,omitempty"`

	// Tool identifies the tool used for this check, for the
	// criterion-to-tool map.
	Tool string `json:"tool,omitempty"`
}

// ToxOptions configures a tox invocation.
type ToxOptions struct {
	// ToxFile is the tox configuration file. Defaults to tox.ini inside
	// the repository checkout directory.
	ToxFile string `json:"tox_file,omitempty"`

	// TestEnv lists the tox environments to run. Defaults to [ALL].
	TestEnv []string `json:"testenv,omitempty"`
}

// WhenClause gates a stage of the orchestration script.
type WhenClause struct {
	// Branch restricts the stage to branches matching a pattern.
	Branch *BranchPattern `json:"branch,omitempty"`

	// BuildingTag restricts the stage to tag builds.
	BuildingTag bool `json:"building_tag,omitempty"`
}

// BranchPattern is a branch comparator for a when clause.
type BranchPattern struct {
	// Pattern is the branch name pattern.
	Pattern string `json:"pattern"`

	// Comparator selects how Pattern is matched (GLOB or REGEXP).
	// Empty defaults to GLOB on the CI engine side.
	Comparator string `json:"comparator,omitempty"`
}

// ComposerData describes the execution environment services.
type ComposerData struct {
	Version  string                     `json:"version,omitempty"`
	Services map[string]ComposerService `json:"services"`
}

// ComposerService is one service definition of the composer document.
type ComposerService struct {
	// Image is the container image. The request carries a structured
	// spec; the synthesized document flattens it to the image name.
	Image *ImageSpec `json:"image,omitempty"`

	// Build configures an image build instead of a pull.
	Build *BuildSpec `json:"build,omitempty"`

	// Volumes are bind mounts. A present-but-empty list defaults to a
	// single mount of the workspace at /sqaaas-build.
	Volumes *[]Volume `json:"volumes,omitempty"`

	// WorkingDir is derived from the first volume target when unset.
	WorkingDir string `json:"working_dir,omitempty"`

	// Command overrides the image entrypoint command.
	Command string `json:"command,omitempty"`

	// Oneshot keeps the container alive for exec-driven checks by
	// replacing the command with a long sleep. Absent defaults to true.
	Oneshot *bool `json:"oneshot,omitempty"`

	// Environment is passed to the container.
	Environment map[string]string `json:"environment,omitempty"`

	// Hostname sets the container hostname.
	Hostname string `json:"hostname,omitempty"`
}

// ImageSpec is the structured image field of a request service.
type ImageSpec struct {
	Name string `json:"name"`

	// Registry configures pushing the built image. Popped from the
	// document during synthesis.
	Registry *RegistrySpec `json:"registry,omitempty"`
}

// RegistrySpec configures a push of the built image to a registry.
type RegistrySpec struct {
	// Push requests the image be pushed after a successful build.
	Push bool `json:"push"`

	// URL is the registry endpoint.
	URL string `json:"url,omitempty"`

	// CredentialID names the CI credential used for the push. Empty
	// falls back to the configured default credential.
	CredentialID string `json:"credential_id,omitempty"`
}

// BuildSpec configures an image build.
type BuildSpec struct {
	// Context is the build context directory. Normalized to the
	// checkout directory of the repository using the service.
	Context string `json:"context,omitempty"`

	// Dockerfile is the Dockerfile path relative to Context.
	Dockerfile string `json:"dockerfile,omitempty"`

	// Args are build arguments.
	Args map[string]string `json:"args,omitempty"`
}

// Volume is a bind mount of a composer service.
type Volume struct {
	Type   string `json:"type,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// JenkinsfileData tunes the rendered orchestration script.
type JenkinsfileData struct {
	// LibraryVersion pins the pipeline library version referenced by
	// the rendered Jenkinsfile.
	LibraryVersion string `json:"library_version,omitempty"`
}

// SynthesizedArtifacts is the full output of the Artifact Synthesizer for
// one pipeline.
type SynthesizedArtifacts struct {
	// Configs are the stage-partitioned config documents. Exactly one
	// carries a nil When (the unconditional one); file names are
	// pairwise distinct.
	Configs []ConfigDocument `json:"configs"`

	// Composer is the execution environment document.
	Composer ComposerDocument `json:"composer"`

	// Jenkinsfile is the rendered orchestration script.
	Jenkinsfile string `json:"jenkinsfile"`

	// CommandScripts are the generated shell scripts wrapping inline
	// commands, one per repository that uses them.
	CommandScripts []CommandScript `json:"command_scripts,omitempty"`

	// ToolMap maps criterion codes to the tools invoked for them.
	ToolMap map[string][]string `json:"tool_map,omitempty"`
}

// ConfigDocument is one stage-partitioned config document.
type ConfigDocument struct {
	// Data is the structured form.
	Data map[string]interface{} `json:"data"`

	// Content is the serialized YAML form, carried alongside Data so
	// later consumers do not re-serialize.
	Content []byte `json:"content"`

	// When is the stage activation predicate. Nil for the default
	// (unconditional) document.
	When *WhenClause `json:"when,omitempty"`

	// FileName is the name the document is pushed under.
	FileName string `json:"file_name"`
}

// ComposerDocument is the serialized execution environment document.
type ComposerDocument struct {
	Data     map[string]interface{} `json:"data"`
	Content  []byte                 `json:"content"`
	FileName string                 `json:"file_name"`
}

// CommandScript is a generated shell script wrapping inline commands.
type CommandScript struct {
	Content  string `json:"content"`
	FileName string `json:"file_name"`
}

// FileSet returns every file name referenced by the synthesized artifacts.
// The set equals the files pushed to the artifacts repository on run.
func (s *SynthesizedArtifacts) FileSet() []string {
	names := make([]string, 0, len(s.Configs)+len(s.CommandScripts)+2)
	for _, cfg := range s.Configs {
		names = append(names, cfg.FileName)
	}
	names = append(names, s.Composer.FileName, JenkinsfileName)
	for _, script := range s.CommandScripts {
		names = append(names, script.FileName)
	}
	return names
}

// DefaultConfig returns the config document with a nil When predicate.
func (s *SynthesizedArtifacts) DefaultConfig() *ConfigDocument {
	for i := range s.Configs {
		if s.Configs[i].When == nil {
			return &s.Configs[i]
		}
	}
	return nil
}

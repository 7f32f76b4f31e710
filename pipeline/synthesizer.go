package pipeline

import (
	"fmt"
	"math/rand"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/yamlutil"
)

// pipelineNameRegex restricts pipeline names to characters the CI engine
// and the code-hosting platform both accept.
var pipelineNameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Environment variables consumed by the pipeline library on the CI engine.
const (
	envDockerPush   = "JPL_DOCKERPUSH"
	envDockerServer = "JPL_DOCKERSERVER"
	envKeepGoing    = "JPL_KEEPGOING"
)

// oneshotCommand keeps a service container alive for exec-driven checks.
const oneshotCommand = "sleep infinity"

// Workspace mount applied when a service declares volumes but leaves the
// list empty.
const (
	defaultVolumeSource = "./"
	defaultVolumeTarget = "/sqaaas-build"
)

// Composer schema version stamped on documents whose request does not
// pin one.
const defaultComposerVersion = "3.7"

// SynthesizerOptions configures artifact synthesis.
type SynthesizerOptions struct {
	// FallbackCredentialID is used for registry pushes that name no
	// credential. Empty means pushes without an explicit credential are
	// rejected.
	FallbackCredentialID string

	// DefaultDockerOrg replaces the leading image path segment when the
	// fallback credential is used for a push.
	DefaultDockerOrg string

	// LibraryVersion pins the pipeline library referenced by rendered
	// orchestration scripts when the request does not pin one.
	LibraryVersion string

	// Rand is the randomness source for file name infixes. Nil seeds
	// from the current time; tests pass a fixed seed for reproducible
	// output.
	Rand *rand.Rand
}

// Synthesizer is the pure translation from a request payload to the
// on-disk CI artifacts. It performs no remote I/O and cannot fail for
// network reasons; structurally invalid input is rejected with a
// RequestError naming the first offending path.
type Synthesizer struct {
	opts SynthesizerOptions
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(opts SynthesizerOptions) *Synthesizer {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.LibraryVersion == "" {
		opts.LibraryVersion = defaultLibraryVersion
	}
	return &Synthesizer{opts: opts}
}

// Synthesize translates the request into the full artifact set: the
// stage-partitioned config documents, the composer document, the
// orchestration script and the generated command scripts, plus the
// criterion-to-tool map.
func (s *Synthesizer) Synthesize(req *Request) (*SynthesizedArtifacts, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	namer := NewNamer(s.opts.Rand)
	out := &SynthesizedArtifacts{
		ToolMap: make(map[string][]string),
	}

	// Composer rewrite happens once; the environment variables and
	// credential entries it produces are merged into every config
	// section.
	composer, extraEnv, extraCreds, serviceBuilds, err := s.rewriteComposer(&req.ComposerData)
	if err != nil {
		return nil, err
	}

	urlToKey := make(map[string]string)
	residual := newResidualSection()
	for ci := range req.ConfigData {
		docs, scripts, err := s.partitionSection(&req.ConfigData[ci], ci, extraEnv, extraCreds, serviceBuilds, urlToKey, namer, out.ToolMap, residual)
		if err != nil {
			return nil, err
		}
		out.Configs = append(out.Configs, docs...)
		out.CommandScripts = append(out.CommandScripts, scripts...)
	}

	// The residual document collects the unconditional remainder of every
	// section and closes the list, so exactly one document carries a nil
	// When even when every criterion is gated.
	out.Configs = append(out.Configs, ConfigDocument{
		Data: buildConfigDoc(residual.projectRepos, residual.credentials,
			residual.environment, residual.timeout, residual.criteria),
	})

	// Names are assigned in list order, then each document is serialized
	// once so later consumers never re-serialize.
	for i := range out.Configs {
		out.Configs[i].FileName = namer.ConfigFileName()
		content, err := yamlutil.Marshal(out.Configs[i].Data)
		if err != nil {
			return nil, NewPipelineError("synthesize", "", fmt.Errorf("serialize %s: %w", out.Configs[i].FileName, err))
		}
		out.Configs[i].Content = content
	}

	// Build contexts become known only after criteria matched repos to
	// services, so the composer serializes last.
	composerData := composerToMap(composer, req.ComposerData.Version)
	composerContent, err := yamlutil.Marshal(composerData)
	if err != nil {
		return nil, NewPipelineError("synthesize", "", fmt.Errorf("serialize composer: %w", err))
	}
	out.Composer = ComposerDocument{
		Data:     composerData,
		Content:  composerContent,
		FileName: namer.ComposerFileName(),
	}

	jenkinsfile, err := renderJenkinsfile(jenkinsfileInput{
		LibraryVersion: libraryVersion(req, s.opts.LibraryVersion),
		Configs:        out.Configs,
		Timeout:        sectionTimeout(req),
		ReportToStdout: req.ReportToStdout,
	})
	if err != nil {
		return nil, NewPipelineError("synthesize", "", fmt.Errorf("render orchestration script: %w", err))
	}
	out.Jenkinsfile = jenkinsfile

	return out, nil
}

// InjectEnvironment sets an environment variable in every config document
// of the artifacts and re-serializes them. Used by run to propagate the
// keep-going flag.
func InjectEnvironment(artifacts *SynthesizedArtifacts, key, value string) error {
	for i := range artifacts.Configs {
		doc := &artifacts.Configs[i]
		env, _ := doc.Data["environment"].(map[string]interface{})
		if env == nil {
			env = make(map[string]interface{})
		}
		env[key] = value
		doc.Data["environment"] = env

		content, err := yamlutil.Marshal(doc.Data)
		if err != nil {
			return fmt.Errorf("re-serialize %s: %w", doc.FileName, err)
		}
		doc.Content = content
	}
	return nil
}

// validate rejects structurally invalid requests, reporting the first
// offending path.
func (s *Synthesizer) validate(req *Request) error {
	if req == nil {
		return NewRequestError("", "empty request")
	}
	if req.Name == "" {
		return NewRequestError("name", "pipeline name is required")
	}
	if !pipelineNameRegex.MatchString(req.Name) {
		return NewRequestError("name", "pipeline name may only contain [A-Za-z0-9_.-]")
	}
	if len(req.ConfigData) == 0 {
		return NewRequestError("config_data", "at least one config section is required")
	}
	for i, section := range req.ConfigData {
		if len(section.SQACriteria) == 0 {
			return NewRequestError(fmt.Sprintf("config_data[%d].sqa_criteria", i), "at least one criterion is required")
		}
	}
	for name, svc := range req.ComposerData.Services {
		if svc.Image == nil || svc.Image.Registry == nil || !svc.Image.Registry.Push {
			continue
		}
		base := fmt.Sprintf("composer_data.services.%s.image", name)
		if svc.Image.Name == "" {
			return NewRequestError(base+".name", "docker push requires an image name")
		}
		if svc.Build == nil {
			return NewRequestError(fmt.Sprintf("composer_data.services.%s.build", name), "docker push requires a build definition")
		}
		if svc.Image.Registry.CredentialID == "" && s.opts.FallbackCredentialID == "" {
			return NewRequestError(base+".registry.credential_id", "docker push requires credentials and no fallback is configured")
		}
	}
	return nil
}

// rewriteComposer applies the composer transformations: registry spec
// extraction, image flattening, volume defaulting, working_dir derivation,
// oneshot command substitution and build context normalization. It returns
// the rewritten services, the environment additions and credential entries
// for the config documents, and the build specs keyed by service name so
// criteria partitioning can reassign contexts.
func (s *Synthesizer) rewriteComposer(
	data *ComposerData,
) (map[string]*rewrittenService, map[string]string, []Credential, map[string]*BuildSpec, error) {
	services := make(map[string]*rewrittenService, len(data.Services))
	extraEnv := make(map[string]string)
	var extraCreds []Credential

	builds := make(map[string]*BuildSpec)

	for _, name := range sortedServiceNames(data.Services) {
		svc := data.Services[name]
		rw := &rewrittenService{
			WorkingDir:  svc.WorkingDir,
			Command:     svc.Command,
			Environment: svc.Environment,
			Hostname:    svc.Hostname,
		}

		if svc.Image != nil {
			image := svc.Image.Name
			usedFallback := false
			if reg := svc.Image.Registry; reg != nil {
				if reg.Push {
					appendSpaceJoined(extraEnv, envDockerPush, name)
					credID := reg.CredentialID
					if credID == "" {
						credID = s.opts.FallbackCredentialID
						usedFallback = true
					}
					extraCreds = appendCredential(extraCreds, Credential{
						ID:   credID,
						Type: "username_password",
					})
				}
				if reg.URL != "" {
					extraEnv[envDockerServer] = reg.URL
				}
			}
			if usedFallback && s.opts.DefaultDockerOrg != "" {
				image = replaceImageOrg(image, s.opts.DefaultDockerOrg)
			}
			rw.Image = image
		}

		if svc.Volumes != nil {
			volumes := *svc.Volumes
			if len(volumes) == 0 {
				volumes = []Volume{{
					Type:   "bind",
					Source: defaultVolumeSource,
					Target: defaultVolumeTarget,
				}}
			}
			rw.Volumes = volumes
		}
		if len(rw.Volumes) > 0 {
			rw.WorkingDir = rw.Volumes[0].Target
		}

		// Oneshot services stay alive for exec-driven checks. Absent
		// defaults to true.
		if svc.Oneshot == nil || *svc.Oneshot {
			rw.Command = oneshotCommand
		}

		if svc.Build != nil {
			build := *svc.Build
			if build.Context == "" {
				build.Context = "."
			}
			rw.Build = &build
			builds[name] = rw.Build
		}

		services[name] = rw
	}

	return services, extraEnv, extraCreds, builds, nil
}

// rewrittenService is a composer service after synthesis transformations:
// the image is flat, the registry spec is popped, and empty properties are
// pruned at serialization time.
type rewrittenService struct {
	Image       string
	Build       *BuildSpec
	Volumes     []Volume
	WorkingDir  string
	Command     string
	Environment map[string]string
	Hostname    string
}

// residualSection accumulates the unconditional remainder of every config
// section. It becomes the single nil-When document of the pipeline.
type residualSection struct {
	projectRepos map[string]interface{}
	credentials  []Credential
	environment  map[string]interface{}
	timeout      int
	criteria     map[string]interface{}
}

func newResidualSection() *residualSection {
	return &residualSection{
		projectRepos: make(map[string]interface{}),
		environment:  make(map[string]interface{}),
		criteria:     make(map[string]interface{}),
	}
}

// partitionSection runs criteria partitioning for one config section:
// repository normalization, inline command script generation, tox
// defaulting, build context propagation and when-clause splitting.
// Gated criteria become their own conditional documents; everything else
// merges into the shared residual section.
func (s *Synthesizer) partitionSection(
	section *ConfigData,
	sectionIndex int,
	extraEnv map[string]string,
	extraCreds []Credential,
	serviceBuilds map[string]*BuildSpec,
	urlToKey map[string]string,
	namer *Namer,
	toolMap map[string][]string,
	residual *residualSection,
) ([]ConfigDocument, []CommandScript, error) {
	// Step 1: replace the repository list with a mapping keyed by the
	// repository key, recording URL bindings for criterion lookup.
	projectRepos := make(map[string]interface{}, len(section.ProjectRepos))
	for _, repo := range section.ProjectRepos {
		key := RepoKeyFromURL(repo.Repo)
		urlToKey[repo.Repo] = key
		entry := map[string]interface{}{"repo": repo.Repo}
		if repo.Branch != "" {
			entry["branch"] = repo.Branch
		}
		projectRepos[key] = entry
	}

	environment := make(map[string]interface{})
	for k, v := range section.Environment {
		environment[k] = v
	}
	for k, v := range extraEnv {
		environment[k] = v
	}

	credentials := append([]Credential(nil), section.Credentials...)
	for _, cred := range extraCreds {
		credentials = appendCredential(credentials, cred)
	}

	var scripts []CommandScript
	var conditional []ConfigDocument
	unconditional := make(map[string]interface{})

	for _, code := range sortedCriterionCodes(section.SQACriteria) {
		criterion := section.SQACriteria[code]
		repos := make(map[string]interface{}, len(criterion.Repos))

		for ri, ref := range criterion.Repos {
			key := ThisRepoKey
			if ref.RepoURL != "" {
				mapped, ok := urlToKey[ref.RepoURL]
				if !ok {
					return nil, nil, NewRequestError(
						fmt.Sprintf("config_data[%d].sqa_criteria.%s.repos[%d].repo_url", sectionIndex, code, ri),
						fmt.Sprintf("repository %s is not declared in project_repos", ref.RepoURL),
					)
				}
				key = mapped
			}
			checkout := CheckoutDir(key)

			entry := make(map[string]interface{})
			if ref.Container != "" {
				entry["container"] = ref.Container
				// The repository's checkout directory becomes the
				// build context of the service it runs in.
				if build, ok := serviceBuilds[ref.Container]; ok {
					build.Context = checkout
				}
			}

			tool := ref.Tool
			if len(ref.Commands) > 0 {
				script := CommandScript{
					FileName: namer.CommandScriptFileName(),
					Content:  renderCommandScript(checkout, ref.Commands),
				}
				scripts = append(scripts, script)
				entry["commands"] = []interface{}{"bash " + script.FileName}
				if tool == "" {
					tool = "commands"
				}
			}

			if ref.Tox != nil {
				tox := *ref.Tox
				if tox.ToxFile == "" {
					tox.ToxFile = path.Join(checkout, "tox.ini")
				}
				if len(tox.TestEnv) == 0 {
					tox.TestEnv = []string{"ALL"}
				}
				toxEntry := map[string]interface{}{
					"tox_file": tox.ToxFile,
					"testenv":  toSlice(tox.TestEnv),
				}
				entry["tox"] = toxEntry
				if tool == "" {
					tool = "tox"
				}
			}

			if tool != "" {
				toolMap[code] = appendUnique(toolMap[code], tool)
			}
			repos[key] = entry
		}

		criterionData := map[string]interface{}{"repos": repos}

		if criterion.When != nil {
			// The conditional criterion gets its own clone of the whole
			// config document, reduced to just this criterion.
			doc := buildConfigDoc(projectRepos, credentials, environment, section.Timeout,
				map[string]interface{}{code: criterionData})
			conditional = append(conditional, ConfigDocument{
				Data: doc,
				When: cloneWhen(criterion.When),
			})
			continue
		}
		unconditional[code] = criterionData
	}

	// Step 4: the unconditional remainder merges into the shared residual
	// section instead of producing a per-section document.
	for key, entry := range projectRepos {
		residual.projectRepos[key] = entry
	}
	for k, v := range environment {
		residual.environment[k] = v
	}
	for _, cred := range credentials {
		residual.credentials = appendCredential(residual.credentials, cred)
	}
	if section.Timeout > residual.timeout {
		residual.timeout = section.Timeout
	}
	for code, data := range unconditional {
		residual.criteria[code] = data
	}

	return conditional, scripts, nil
}

// buildConfigDoc assembles the structured form of one config document,
// pruning empty values.
func buildConfigDoc(
	projectRepos map[string]interface{},
	credentials []Credential,
	environment map[string]interface{},
	timeout int,
	criteria map[string]interface{},
) map[string]interface{} {
	config := make(map[string]interface{})
	if len(projectRepos) > 0 {
		config["project_repos"] = cloneMap(projectRepos)
	}
	if len(credentials) > 0 {
		credList := make([]interface{}, 0, len(credentials))
		for _, cred := range credentials {
			entry := map[string]interface{}{"id": cred.ID}
			if cred.Type != "" {
				entry["type"] = cred.Type
			}
			if cred.UsernameVar != "" {
				entry["username_var"] = cred.UsernameVar
			}
			if cred.PasswordVar != "" {
				entry["password_var"] = cred.PasswordVar
			}
			credList = append(credList, entry)
		}
		config["credentials"] = credList
	}

	doc := map[string]interface{}{
		"config":       config,
		"sqa_criteria": criteria,
	}
	if len(environment) > 0 {
		doc["environment"] = cloneMap(environment)
	}
	if timeout > 0 {
		doc["timeout"] = timeout
	}
	return doc
}

// renderCommandScript wraps inline commands into a shell script that
// changes into the repository checkout directory and chains the commands.
func renderCommandScript(checkoutDir string, commands []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("cd " + checkoutDir + " && \\\n")
	for i, cmd := range commands {
		b.WriteString(cmd)
		if i < len(commands)-1 {
			b.WriteString(" && \\\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

// composerToMap renders the rewritten services into the structured
// composer document, skipping empty properties.
func composerToMap(services map[string]*rewrittenService, version string) map[string]interface{} {
	rendered := make(map[string]interface{}, len(services))
	for name, svc := range services {
		entry := make(map[string]interface{})
		if svc.Image != "" {
			entry["image"] = svc.Image
		}
		if svc.Build != nil {
			build := map[string]interface{}{"context": svc.Build.Context}
			if svc.Build.Dockerfile != "" {
				build["dockerfile"] = svc.Build.Dockerfile
			}
			if len(svc.Build.Args) > 0 {
				build["args"] = stringMapToInterface(svc.Build.Args)
			}
			entry["build"] = build
		}
		if len(svc.Volumes) > 0 {
			volumes := make([]interface{}, 0, len(svc.Volumes))
			for _, vol := range svc.Volumes {
				v := map[string]interface{}{
					"source": vol.Source,
					"target": vol.Target,
				}
				if vol.Type != "" {
					v["type"] = vol.Type
				}
				volumes = append(volumes, v)
			}
			entry["volumes"] = volumes
		}
		if svc.WorkingDir != "" {
			entry["working_dir"] = svc.WorkingDir
		}
		if svc.Command != "" {
			entry["command"] = svc.Command
		}
		if len(svc.Environment) > 0 {
			entry["environment"] = stringMapToInterface(svc.Environment)
		}
		if svc.Hostname != "" {
			entry["hostname"] = svc.Hostname
		}
		rendered[name] = entry
	}
	if version == "" {
		version = defaultComposerVersion
	}
	return map[string]interface{}{
		"version":  version,
		"services": rendered,
	}
}

// appendSpaceJoined appends a token to a space-joined environment value,
// skipping tokens already present.
func appendSpaceJoined(env map[string]string, key, token string) {
	current := env[key]
	for _, existing := range strings.Fields(current) {
		if existing == token {
			return
		}
	}
	if current == "" {
		env[key] = token
		return
	}
	env[key] = current + " " + token
}

// appendCredential appends a credential unless one with the same ID is
// already present.
func appendCredential(creds []Credential, cred Credential) []Credential {
	for _, existing := range creds {
		if existing.ID == cred.ID {
			return creds
		}
	}
	return append(creds, cred)
}

// replaceImageOrg rewrites the leading path segment of an image reference
// to the given organization, preserving a registry host prefix.
func replaceImageOrg(image, org string) string {
	registry := RegistryFromImage(image)
	rest := image
	prefix := ""
	if registry != "" {
		prefix = registry + "/"
		rest = strings.TrimPrefix(image, prefix)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return prefix + org + "/" + parts[0]
	}
	return prefix + org + "/" + parts[1]
}

func libraryVersion(req *Request, fallback string) string {
	if req.JenkinsfileData.LibraryVersion != "" {
		return req.JenkinsfileData.LibraryVersion
	}
	return fallback
}

// sectionTimeout returns the largest timeout declared across config
// sections; the orchestration script bounds the whole build with it.
func sectionTimeout(req *Request) int {
	timeout := 0
	for _, section := range req.ConfigData {
		if section.Timeout > timeout {
			timeout = section.Timeout
		}
	}
	return timeout
}

func sortedCriterionCodes(criteria map[string]Criterion) []string {
	codes := make([]string, 0, len(criteria))
	for code := range criteria {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func sortedServiceNames(services map[string]ComposerService) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneWhen(when *WhenClause) *WhenClause {
	clone := *when
	if when.Branch != nil {
		branch := *when.Branch
		clone.Branch = &branch
	}
	return &clone
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			clone[k] = cloneMap(nested)
			continue
		}
		clone[k] = v
	}
	return clone
}

func stringMapToInterface(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toSlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

package pipeline

import (
	"math/rand"
	"path"
	"strings"
)

// Canonical artifact file names. The first artifact of a class gets the
// canonical name; siblings get a random infix so names never collide.
const (
	ConfigFileName   = "config.yml"
	ComposerFileName = "docker-compose.yml"
	JenkinsfileName  = "Jenkinsfile"

	commandsScriptBase = "commands_script"
	commandsScriptExt  = ".sh"
)

// ThisRepoKey is the repository key used for the project's own repository
// when a criterion references no explicit repo_url.
const ThisRepoKey = "this_repo"

// RepoKeyFromURL derives the repository key used inside config documents
// from a clone URL: the scheme is stripped and host and path are
// concatenated, so downstream references are human-readable and stable.
// A trailing slash and a .git suffix are dropped.
func RepoKeyFromURL(url string) string {
	key := url
	if idx := strings.Index(key, "://"); idx >= 0 {
		key = key[idx+3:]
	}
	// Drop userinfo if the URL carried credentials.
	if idx := strings.Index(key, "@"); idx >= 0 {
		key = key[idx+1:]
	}
	key = strings.TrimSuffix(key, "/")
	key = strings.TrimSuffix(key, ".git")
	return key
}

// CheckoutDir returns the workspace-relative checkout directory for a
// repository key. The project's own repository is checked out at the
// workspace root.
func CheckoutDir(repoKey string) string {
	if repoKey == ThisRepoKey || repoKey == "" {
		return "."
	}
	return "./" + repoKey
}

// AnonymousCloneURL rewrites scheme://host/path to scheme://:@host/path so
// that probing a non-existent repository fails fast instead of prompting
// for credentials.
func AnonymousCloneURL(url string) string {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return url
	}
	rest := url[idx+3:]
	if at := strings.Index(rest, "@"); at >= 0 && at < strings.IndexAny(rest+"/", "/") {
		// Already carries userinfo.
		return url
	}
	return url[:idx+3] + ":@" + rest
}

// RegistryFromImage extracts the registry endpoint (host, optionally with
// port) from an image reference. Returns the empty string when the image
// has no registry component (a default-registry image like org/name:tag).
func RegistryFromImage(image string) string {
	ref := image
	if idx := strings.Index(ref, "://"); idx >= 0 {
		ref = ref[idx+3:]
	}
	first, rest, found := strings.Cut(ref, "/")
	if !found {
		return ""
	}
	_ = rest
	// The leading segment is a registry only when it looks like a host:
	// it contains a dot, a port separator, or is the docker "localhost".
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return ""
}

// criterionCodes is the bidirectional table between external criterion
// codes (stage names on the CI engine) and internal codes (config document
// keys). Applied only at boundaries; the internal form is used everywhere
// else.
var criterionCodes = map[string]string{
	"QC.Sty": "qc_style",
	"QC.Uni": "qc_coverage",
	"QC.Fun": "qc_functional",
	"QC.Sec": "qc_security",
	"QC.Doc": "qc_doc",
}

var criterionCodesReverse = func() map[string]string {
	m := make(map[string]string, len(criterionCodes))
	for ext, internal := range criterionCodes {
		m[internal] = ext
	}
	return m
}()

// InternalCriterionCode maps an external criterion code (QC.Sty, ...) to
// its internal form (qc_style, ...). Unknown codes pass through unchanged.
func InternalCriterionCode(external string) string {
	if internal, ok := criterionCodes[external]; ok {
		return internal
	}
	return external
}

// ExternalCriterionCode maps an internal criterion code to its external
// form. Unknown codes pass through unchanged.
func ExternalCriterionCode(internal string) string {
	if external, ok := criterionCodesReverse[internal]; ok {
		return external
	}
	return internal
}

// KnownCriterionCode reports whether code is a known internal criterion
// code.
func KnownCriterionCode(code string) bool {
	_, ok := criterionCodesReverse[code]
	return ok
}

const infixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const infixLength = 6

// Namer assigns artifact file names. The first config document gets the
// canonical name and every sibling receives a random infix before the
// extension; command scripts always receive an infix so parallel scripts
// never collide. A seeded rand source makes names reproducible in tests.
type Namer struct {
	rnd     *rand.Rand
	configs int
}

// NewNamer creates a Namer drawing infixes from rnd.
func NewNamer(rnd *rand.Rand) *Namer {
	return &Namer{rnd: rnd}
}

// ConfigFileName returns the next config document file name.
func (n *Namer) ConfigFileName() string {
	n.configs++
	if n.configs == 1 {
		return ConfigFileName
	}
	ext := path.Ext(ConfigFileName)
	base := strings.TrimSuffix(ConfigFileName, ext)
	return base + "_" + n.infix() + ext
}

// ComposerFileName returns the composer document file name.
func (n *Namer) ComposerFileName() string {
	return ComposerFileName
}

// CommandScriptFileName returns a fresh command script file name.
func (n *Namer) CommandScriptFileName() string {
	return commandsScriptBase + "_" + n.infix() + commandsScriptExt
}

func (n *Namer) infix() string {
	b := make([]byte, infixLength)
	for i := range b {
		b[i] = infixAlphabet[n.rnd.Intn(len(infixAlphabet))]
	}
	return string(b)
}

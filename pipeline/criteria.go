package pipeline

// CriterionInfo describes one supported quality criterion, as served by the
// criteria catalog endpoint.
type CriterionInfo struct {
	// Code is the internal criterion code used in config documents.
	Code string `json:"code"`

	// ExternalCode is the stage name the criterion appears under on the
	// CI engine.
	ExternalCode string `json:"external_code"`

	// Title and Description are the human-readable catalog entries.
	Title       string `json:"title"`
	Description string `json:"description"`

	// Tools lists tools commonly used to fulfil the criterion.
	Tools []string `json:"tools,omitempty"`
}

var criteriaCatalog = []CriterionInfo{
	{
		Code:         "qc_style",
		ExternalCode: "QC.Sty",
		Title:        "Code style",
		Description:  "The source code follows a community or project code style standard, enforced by a linter.",
		Tools:        []string{"flake8", "pylint", "checkstyle", "golangci-lint", "eslint"},
	},
	{
		Code:         "qc_coverage",
		ExternalCode: "QC.Uni",
		Title:        "Unit testing",
		Description:  "Unit tests exist and run in an automated fashion, with coverage measured.",
		Tools:        []string{"pytest", "tox", "go test", "junit"},
	},
	{
		Code:         "qc_functional",
		ExternalCode: "QC.Fun",
		Title:        "Functional testing",
		Description:  "Functional or integration tests validate the software end to end.",
		Tools:        []string{"pytest", "robot", "behave"},
	},
	{
		Code:         "qc_security",
		ExternalCode: "QC.Sec",
		Title:        "Security analysis",
		Description:  "Static security analysis scans the code for known vulnerability patterns.",
		Tools:        []string{"bandit", "gosec", "trivy"},
	},
	{
		Code:         "qc_doc",
		ExternalCode: "QC.Doc",
		Title:        "Documentation",
		Description:  "The project ships documentation that builds without errors.",
		Tools:        []string{"sphinx", "mkdocs"},
	},
}

// CriteriaCatalog returns the supported criteria. The returned slice is a
// copy; callers may reorder it freely.
func CriteriaCatalog() []CriterionInfo {
	out := make([]CriterionInfo, len(criteriaCatalog))
	copy(out, criteriaCatalog)
	return out
}

// badgeClassPolicy binds a badge class name to the internal criterion codes
// a pipeline must have fulfilled to earn it. Ordered from most to least
// comprehensive; class selection picks the first fully covered entry.
type badgeClassPolicy struct {
	name     string
	required []string
}

var badgePolicies = []badgeClassPolicy{
	{
		name:     "gold",
		required: []string{"qc_style", "qc_coverage", "qc_functional", "qc_security", "qc_doc"},
	},
	{
		name:     "silver",
		required: []string{"qc_style", "qc_coverage", "qc_functional"},
	},
	{
		name:     "bronze",
		required: []string{"qc_style"},
	},
}

// selectBadgeClass returns the most comprehensive badge class whose required
// criteria are all in fulfilled. ok is false when not even the least
// demanding class is covered.
func selectBadgeClass(fulfilled map[string]bool) (badgeClassPolicy, bool) {
	for _, policy := range badgePolicies {
		covered := true
		for _, code := range policy.required {
			if !fulfilled[code] {
				covered = false
				break
			}
		}
		if covered {
			return policy, true
		}
	}
	return badgeClassPolicy{}, false
}

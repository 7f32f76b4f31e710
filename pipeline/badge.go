package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const stageStatusSuccess = "SUCCESS"

// fulfilledCriteria returns the internal codes of the known criteria whose
// stage finished successfully.
func fulfilledCriteria(results map[string]StageOutput) map[string]bool {
	fulfilled := make(map[string]bool)
	for code, result := range results {
		if KnownCriterionCode(code) && result.Status == stageStatusSuccess {
			fulfilled[code] = true
		}
	}
	return fulfilled
}

// issueBadge runs the badge flow for a successfully finished pipeline:
// decide the class from the fulfilled criteria, resolve it at the badge
// service, issue the assertion and persist the badge on the record. A
// pipeline whose fulfilled criteria cover no class earns no badge; that is
// not an error.
func (c *Client) issueBadge(ctx context.Context, record *Pipeline) (*Badge, error) {
	fulfilled := fulfilledCriteria(record.CIState.StageResults)
	policy, ok := selectBadgeClass(fulfilled)
	if !ok {
		c.logger.Info(ctx, "No badge class covered by fulfilled criteria", map[string]interface{}{
			"pipeline_id": record.ID,
			"fulfilled":   len(fulfilled),
		})
		return nil, nil
	}

	classID, err := c.badges.ResolveBadgeClass(ctx, c.config.BadgeIssuer, policy.name)
	if err != nil {
		return nil, fmt.Errorf("resolving badge class %q: %w", policy.name, err)
	}

	codes := make([]string, 0, len(fulfilled))
	for code := range fulfilled {
		codes = append(codes, ExternalCriterionCode(code))
	}
	sort.Strings(codes)

	recipient := record.CIState.MainRepoURL
	if recipient == "" {
		recipient = record.RepoURL
	}
	evidence := c.badgeEvidence(record)
	narrative := badgeNarrative(record, recipient, codes)

	assertion, err := c.badges.Issue(ctx, classID, recipient, narrative, evidence)
	if err != nil {
		return nil, fmt.Errorf("issuing %s badge: %w", policy.name, err)
	}

	badge := &Badge{
		ClassName:   policy.name,
		OpenBadgeID: assertion.OpenBadgeID,
		ImageURL:    assertion.ImageURL,
		IssuedOn:    assertion.IssuedOn,
		Criteria:    codes,
	}
	if err := c.store.SetBadge(ctx, record.ID, badge); err != nil {
		return nil, err
	}

	c.logger.Info(ctx, "Issued badge", map[string]interface{}{
		"pipeline_id": record.ID,
		"class":       policy.name,
		"openbadge":   assertion.OpenBadgeID,
	})
	return badge, nil
}

// badgeEvidence collects the verifiable evidence of a badge: the commit
// that carried the artifacts and the build that validated them.
func (c *Client) badgeEvidence(record *Pipeline) []Evidence {
	var evidence []Evidence
	state := record.CIState
	if state.CommitSHA != "" {
		handle := &RepoHandle{Slug: record.RepoSlug, HTMLURL: record.RepoURL}
		evidence = append(evidence, Evidence{
			URL:       c.repos.CommitURL(handle, state.CommitSHA),
			Narrative: "Commit carrying the QA pipeline artifacts",
		})
	}
	if state.BuildURL != "" {
		evidence = append(evidence, Evidence{
			URL:       state.BuildURL,
			Narrative: "CI build validating the quality criteria",
		})
	}
	return evidence
}

// badgeNarrative renders the assertion narrative: the validated
// repository with branch and head commit, the fulfilled criteria and
// one line per additional repository named in the original submission.
func badgeNarrative(record *Pipeline, repoURL string, codes []string) string {
	var b strings.Builder
	b.WriteString("Software quality assurance validation")
	if repoURL != "" {
		b.WriteString(" of ")
		b.WriteString(repoURL)
		var attrs []string
		if branch := record.CIState.MainRepoBranch; branch != "" {
			attrs = append(attrs, "branch "+branch)
		}
		if commit := record.CIState.MainRepoCommit; commit != "" {
			attrs = append(attrs, "commit "+commit)
		}
		if len(attrs) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(attrs, ", "))
			b.WriteString(")")
		}
	}
	b.WriteString(". Fulfilled criteria: ")
	b.WriteString(strings.Join(codes, ", "))
	b.WriteString(".")
	for _, extra := range additionalRepos(record, repoURL) {
		b.WriteString("\nAdditional repository: ")
		b.WriteString(extra.Repo)
		if extra.Branch != "" {
			b.WriteString(" (branch ")
			b.WriteString(extra.Branch)
			b.WriteString(")")
		}
	}
	return b.String()
}

// additionalRepos lists the project repositories of the submission other
// than the main one, deduplicated in submission order.
func additionalRepos(record *Pipeline, mainURL string) []ProjectRepo {
	if record.RawRequest == nil {
		return nil
	}
	seen := map[string]bool{mainURL: true}
	var out []ProjectRepo
	for _, section := range record.RawRequest.ConfigData {
		for _, pr := range section.ProjectRepos {
			if pr.Repo == "" || seen[pr.Repo] {
				continue
			}
			seen[pr.Repo] = true
			out = append(out, pr)
		}
	}
	return out
}

// Package badgr implements the badge gateway on the Badgr v2 API. The
// OAuth password-grant session is managed internally: every call re-checks
// token expiry before proceeding.
package badgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// expiryMargin renews tokens this long before they actually expire, so a
// token never dies mid-request.
const expiryMargin = 100 * time.Second

// Config holds the badge service connection settings.
type Config struct {
	// URL is the service base URL.
	URL string

	// Username and Password feed the OAuth password grant.
	Username string
	Password string
}

// Gateway implements pipeline.BadgeGateway.
type Gateway struct {
	config Config
	http   *http.Client
	logger pipeline.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ pipeline.BadgeGateway = (*Gateway)(nil)

// NewGateway creates a Gateway. The session is established lazily on the
// first call.
func NewGateway(config Config, logger pipeline.Logger) *Gateway {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Gateway{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ensureToken refreshes the access token when missing or close to expiry.
func (g *Gateway) ensureToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.expires.Add(-expiryMargin)) {
		return g.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", g.config.Username)
	form.Set("password", g.config.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.URL+"/o/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", pipeline.NewUpstreamError("badgr", 0, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", pipeline.NewUpstreamError("badgr", 0, "requesting token", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pipeline.NewUpstreamError("badgr", resp.StatusCode, "requesting token", nil)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", pipeline.NewUpstreamError("badgr", 0, "decoding token response", err)
	}

	g.token = token.AccessToken
	g.expires = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	g.logger.Debug(ctx, "Refreshed badge service token", map[string]interface{}{
		"expires_in": token.ExpiresIn,
	})
	return g.token, nil
}

// get issues an authenticated GET and decodes the JSON response into out.
func (g *Gateway) get(ctx context.Context, path string, out interface{}) error {
	token, err := g.ensureToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.URL+path, nil)
	if err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.http.Do(req)
	if err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "GET "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pipeline.NewUpstreamError("badgr", resp.StatusCode, "GET "+path, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "decoding response of "+path, err)
	}
	return nil
}

// post issues an authenticated JSON POST and decodes the response into out.
func (g *Gateway) post(ctx context.Context, path string, body, out interface{}) error {
	token, err := g.ensureToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "encoding request for "+path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL+path, bytes.NewReader(payload))
	if err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "POST "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.NewUpstreamError("badgr", resp.StatusCode,
			fmt.Sprintf("POST %s: %s", path, strings.TrimSpace(string(detail))), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.NewUpstreamError("badgr", 0, "decoding response of "+path, err)
	}
	return nil
}

type entity struct {
	EntityID string `json:"entityId"`
	Name     string `json:"name"`
}

type listResponse struct {
	Result []entity `json:"result"`
}

// ResolveBadgeClass resolves the badge class identifier via the issuer and
// badge class names. Both lookups insist on exactly one match; misses and
// duplicates fail with ErrBadgeResolution.
func (g *Gateway) ResolveBadgeClass(ctx context.Context, issuer, className string) (string, error) {
	var issuers listResponse
	if err := g.get(ctx, "/v2/issuers", &issuers); err != nil {
		return "", err
	}
	issuerID, err := uniqueEntity(issuers.Result, issuer, "issuer")
	if err != nil {
		return "", err
	}

	var classes listResponse
	if err := g.get(ctx, "/v2/issuers/"+issuerID+"/badgeclasses", &classes); err != nil {
		return "", err
	}
	classID, err := uniqueEntity(classes.Result, className, "badge class")
	if err != nil {
		return "", err
	}
	return classID, nil
}

func uniqueEntity(entities []entity, name, kind string) (string, error) {
	var id string
	matches := 0
	for _, e := range entities {
		if e.Name == name {
			id = e.EntityID
			matches++
		}
	}
	switch matches {
	case 1:
		return id, nil
	case 0:
		return "", fmt.Errorf("%w: no %s named %q", pipeline.ErrBadgeResolution, kind, name)
	default:
		return "", fmt.Errorf("%w: %d %ss named %q", pipeline.ErrBadgeResolution, matches, kind, name)
	}
}

type assertionRequest struct {
	Recipient assertionRecipient  `json:"recipient"`
	Narrative string              `json:"narrative,omitempty"`
	Evidence  []assertionEvidence `json:"evidence,omitempty"`
}

type assertionRecipient struct {
	Identity string `json:"identity"`
	Type     string `json:"type"`
}

type assertionEvidence struct {
	URL       string `json:"url"`
	Narrative string `json:"narrative,omitempty"`
}

type assertionResult struct {
	Result []struct {
		EntityID    string `json:"entityId"`
		OpenBadgeID string `json:"openBadgeId"`
		Image       string `json:"image"`
		IssuedOn    string `json:"issuedOn"`
	} `json:"result"`
}

// Issue creates an assertion against the badge class.
func (g *Gateway) Issue(
	ctx context.Context,
	badgeClassID, recipient, narrative string,
	evidence []pipeline.Evidence,
) (*pipeline.Assertion, error) {
	req := assertionRequest{
		Recipient: assertionRecipient{Identity: recipient, Type: "url"},
		Narrative: narrative,
	}
	for _, e := range evidence {
		req.Evidence = append(req.Evidence, assertionEvidence{URL: e.URL, Narrative: e.Narrative})
	}

	var result assertionResult
	if err := g.post(ctx, "/v2/badgeclasses/"+badgeClassID+"/assertions", req, &result); err != nil {
		return nil, err
	}
	if len(result.Result) == 0 {
		return nil, pipeline.NewUpstreamError("badgr", 0, "assertion response carried no result", nil)
	}

	issued := result.Result[0]
	g.logger.Info(ctx, "Issued badge assertion", map[string]interface{}{
		"badge_class": badgeClassID,
		"assertion":   issued.EntityID,
	})
	return &pipeline.Assertion{
		ID:          issued.EntityID,
		OpenBadgeID: issued.OpenBadgeID,
		ImageURL:    issued.Image,
		IssuedOn:    issued.IssuedOn,
	}, nil
}

package pipelinetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// MockBadgeGateway is an in-memory implementation of pipeline.BadgeGateway.
//
// Badge classes are keyed "issuer/class". Unknown classes fail with
// ErrBadgeResolution, matching the real gateway's resolution semantics.
type MockBadgeGateway struct {
	mu sync.RWMutex

	// Classes maps "issuer/class" -> badge class id.
	Classes map[string]string

	// Call tracking
	ResolveCalls []ResolveCall
	IssueCalls   []IssueCall

	// Error injection
	ResolveError error
	IssueError   error

	assertionCounter int
}

// ResolveCall records a ResolveBadgeClass call.
type ResolveCall struct {
	Issuer    string
	ClassName string
}

// IssueCall records an Issue call.
type IssueCall struct {
	BadgeClassID string
	Recipient    string
	Narrative    string
	Evidence     []pipeline.Evidence
}

// NewMockBadgeGateway creates a MockBadgeGateway with initialized maps.
func NewMockBadgeGateway() *MockBadgeGateway {
	return &MockBadgeGateway{
		Classes: make(map[string]string),
	}
}

// AddClass registers a badge class for resolution.
func (m *MockBadgeGateway) AddClass(issuer, className, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Classes[issuer+"/"+className] = id
}

// ResolveBadgeClass resolves the badge class identifier.
func (m *MockBadgeGateway) ResolveBadgeClass(ctx context.Context, issuer, className string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResolveCalls = append(m.ResolveCalls, ResolveCall{Issuer: issuer, ClassName: className})

	if m.ResolveError != nil {
		return "", m.ResolveError
	}

	id, ok := m.Classes[issuer+"/"+className]
	if !ok {
		return "", fmt.Errorf("%w: no class %q under issuer %q",
			pipeline.ErrBadgeResolution, className, issuer)
	}
	return id, nil
}

// Issue creates an assertion against the badge class.
func (m *MockBadgeGateway) Issue(
	ctx context.Context,
	badgeClassID, recipient, narrative string,
	evidence []pipeline.Evidence,
) (*pipeline.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IssueCalls = append(m.IssueCalls, IssueCall{
		BadgeClassID: badgeClassID,
		Recipient:    recipient,
		Narrative:    narrative,
		Evidence:     evidence,
	})

	if m.IssueError != nil {
		return nil, m.IssueError
	}

	m.assertionCounter++
	id := fmt.Sprintf("assertion-%d", m.assertionCounter)
	return &pipeline.Assertion{
		ID:          id,
		OpenBadgeID: "openbadge-" + id,
		ImageURL:    "https://badges.example.test/" + id + ".png",
		IssuedOn:    "2024-01-01T00:00:00Z",
	}, nil
}

// RecordingNotifier collects state transitions for assertions in tests.
type RecordingNotifier struct {
	mu sync.Mutex

	// Transitions holds every StatusChanged call in order.
	Transitions []Transition
}

// Transition is one recorded StatusChanged call.
type Transition struct {
	ID       string
	From, To pipeline.BuildStatus
	BuildURL string
}

// StatusChanged records the transition.
func (n *RecordingNotifier) StatusChanged(
	ctx context.Context,
	id string,
	from, to pipeline.BuildStatus,
	buildURL string,
) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Transitions = append(n.Transitions, Transition{ID: id, From: from, To: to, BuildURL: buildURL})
}

// Ensure the mocks implement their interfaces at compile time.
var (
	_ pipeline.BadgeGateway = (*MockBadgeGateway)(nil)
	_ pipeline.Notifier     = (*RecordingNotifier)(nil)
)

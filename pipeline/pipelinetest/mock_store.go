// Package pipelinetest provides test fixtures and mocks for testing code
// that uses the pipeline package. This follows the Go standard library
// pattern (e.g., net/http/httptest).
//
// Example usage:
//
//	func TestMyFunction(t *testing.T) {
//	    store := pipelinetest.NewMockStore()
//	    repos := pipelinetest.NewMockRepoGateway()
//	    ci := pipelinetest.NewMockCIGateway()
//	    badges := pipelinetest.NewMockBadgeGateway()
//	    client := pipeline.NewClientWithDependencies(store, repos, ci, badges,
//	        pipeline.Config{Organization: "qa-org"})
//
//	    // Configure mock behavior
//	    store.AddPipeline(&pipeline.Pipeline{ID: "test-123"})
//
//	    // Run your test
//	    result, err := myFunction(client)
//
//	    // Verify interactions
//	    if len(store.PutCalls) != 1 {
//	        t.Error("expected one put call")
//	    }
//	}
package pipelinetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// MockStore is an in-memory implementation of pipeline.Store for testing.
//
// It provides configurable behavior and tracking of method calls.
// Features:
//   - In-memory storage with thread-safe access
//   - Call tracking for all methods
//   - Error injection (global and per-ID)
//   - Helper methods for test setup (AddPipeline, Reset)
type MockStore struct {
	mu sync.RWMutex

	// Pipelines maps id -> Pipeline
	Pipelines map[string]*pipeline.Pipeline

	// Call tracking
	PutCalls            []PutCall
	GetCalls            []string
	ListCalls           int
	DeleteCalls         []string
	SetCIStateCalls     []SetCIStateCall
	SetBadgeCalls       []SetBadgeCall
	SetAssessmentCalls  []SetAssessmentCall
	SetSynthesizedCalls []SetSynthesizedCall
	CloseCalls          int

	// Error injection for testing error paths
	PutError            error
	GetError            error
	ListError           error
	DeleteError         error
	SetCIStateError     error
	SetBadgeError       error
	SetAssessmentError  error
	SetSynthesizedError error
	CloseError          error

	// Conditional error injection (returns error only for specific IDs)
	GetErrorFor        map[string]error
	SetCIStateErrorFor map[string]error
}

// PutCall records a Put call.
type PutCall struct {
	Pipeline *pipeline.Pipeline
}

// SetCIStateCall records a SetCIState call.
type SetCIStateCall struct {
	ID    string
	State *pipeline.CIState
}

// SetBadgeCall records a SetBadge call.
type SetBadgeCall struct {
	ID    string
	Badge *pipeline.Badge
}

// SetAssessmentCall records a SetAssessment call.
type SetAssessmentCall struct {
	ID         string
	Assessment json.RawMessage
}

// SetSynthesizedCall records a SetSynthesized call.
type SetSynthesizedCall struct {
	ID        string
	Artifacts *pipeline.SynthesizedArtifacts
}

// NewMockStore creates a new MockStore with initialized maps.
func NewMockStore() *MockStore {
	return &MockStore{
		Pipelines:          make(map[string]*pipeline.Pipeline),
		GetErrorFor:        make(map[string]error),
		SetCIStateErrorFor: make(map[string]error),
	}
}

// Put upserts a pipeline record.
func (m *MockStore) Put(ctx context.Context, p *pipeline.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PutCalls = append(m.PutCalls, PutCall{Pipeline: p})

	if m.PutError != nil {
		return m.PutError
	}

	m.Pipelines[p.ID] = DeepCopyPipeline(p)

	return nil
}

// Get retrieves a pipeline by its identifier.
func (m *MockStore) Get(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, id)

	if m.GetError != nil {
		return nil, m.GetError
	}

	if err, ok := m.GetErrorFor[id]; ok {
		return nil, err
	}

	p, ok := m.Pipelines[id]
	if !ok {
		return nil, pipeline.ErrNotFound
	}

	return DeepCopyPipeline(p), nil
}

// List returns all pipeline records.
func (m *MockStore) List(ctx context.Context) ([]*pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++

	if m.ListError != nil {
		return nil, m.ListError
	}

	out := make([]*pipeline.Pipeline, 0, len(m.Pipelines))
	for _, p := range m.Pipelines {
		out = append(out, DeepCopyPipeline(p))
	}

	return out, nil
}

// Delete removes a pipeline record.
func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, id)

	if m.DeleteError != nil {
		return m.DeleteError
	}

	if _, ok := m.Pipelines[id]; !ok {
		return pipeline.ErrNotFound
	}

	delete(m.Pipelines, id)

	return nil
}

// SetCIState replaces the CI state of an existing pipeline.
func (m *MockStore) SetCIState(ctx context.Context, id string, state *pipeline.CIState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCIStateCalls = append(m.SetCIStateCalls, SetCIStateCall{ID: id, State: state})

	if m.SetCIStateError != nil {
		return m.SetCIStateError
	}

	if err, ok := m.SetCIStateErrorFor[id]; ok {
		return err
	}

	p, ok := m.Pipelines[id]
	if !ok {
		return pipeline.ErrNotFound
	}

	p.CIState = deepCopyCIState(state)

	return nil
}

// SetBadge attaches an issued badge to an existing pipeline.
func (m *MockStore) SetBadge(ctx context.Context, id string, badge *pipeline.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetBadgeCalls = append(m.SetBadgeCalls, SetBadgeCall{ID: id, Badge: badge})

	if m.SetBadgeError != nil {
		return m.SetBadgeError
	}

	p, ok := m.Pipelines[id]
	if !ok {
		return pipeline.ErrNotFound
	}

	badgeCopy := *badge
	badgeCopy.Criteria = append([]string(nil), badge.Criteria...)
	p.Badge = &badgeCopy

	return nil
}

// SetAssessment attaches the assessment blob to an existing pipeline.
func (m *MockStore) SetAssessment(ctx context.Context, id string, assessment json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetAssessmentCalls = append(m.SetAssessmentCalls, SetAssessmentCall{ID: id, Assessment: assessment})

	if m.SetAssessmentError != nil {
		return m.SetAssessmentError
	}

	p, ok := m.Pipelines[id]
	if !ok {
		return pipeline.ErrNotFound
	}

	p.Assessment = append(json.RawMessage(nil), assessment...)

	return nil
}

// SetSynthesized replaces the synthesized artifacts of an existing pipeline.
func (m *MockStore) SetSynthesized(ctx context.Context, id string, artifacts *pipeline.SynthesizedArtifacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetSynthesizedCalls = append(m.SetSynthesizedCalls, SetSynthesizedCall{ID: id, Artifacts: artifacts})

	if m.SetSynthesizedError != nil {
		return m.SetSynthesizedError
	}

	p, ok := m.Pipelines[id]
	if !ok {
		return pipeline.ErrNotFound
	}

	p.Synthesized = deepCopyArtifacts(artifacts)

	return nil
}

// Close releases any resources held by the store.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++

	if m.CloseError != nil {
		return m.CloseError
	}

	return nil
}

// Reset clears all stored data and call tracking.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Pipelines = make(map[string]*pipeline.Pipeline)
	m.PutCalls = nil
	m.GetCalls = nil
	m.ListCalls = 0
	m.DeleteCalls = nil
	m.SetCIStateCalls = nil
	m.SetBadgeCalls = nil
	m.SetAssessmentCalls = nil
	m.SetSynthesizedCalls = nil
	m.CloseCalls = 0
}

// AddPipeline adds a pipeline directly to the store for testing.
// This bypasses the Put method and doesn't record a call.
func (m *MockStore) AddPipeline(p *pipeline.Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Pipelines[p.ID] = DeepCopyPipeline(p)
}

// DeepCopyPipeline creates a deep copy of a Pipeline to prevent test
// interference. The JSON round-trip matches what the snapshot store does
// on reads.
func DeepCopyPipeline(p *pipeline.Pipeline) *pipeline.Pipeline {
	if p == nil {
		return nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		panic("pipelinetest: pipeline not serializable: " + err.Error())
	}
	cpy := &pipeline.Pipeline{}
	if err := json.Unmarshal(raw, cpy); err != nil {
		panic("pipelinetest: pipeline not deserializable: " + err.Error())
	}

	return cpy
}

func deepCopyCIState(state *pipeline.CIState) *pipeline.CIState {
	if state == nil {
		return nil
	}
	cpy := *state
	if state.StageResults != nil {
		cpy.StageResults = make(map[string]pipeline.StageOutput, len(state.StageResults))
		for k, v := range state.StageResults {
			cpy.StageResults[k] = v
		}
	}
	return &cpy
}

func deepCopyArtifacts(artifacts *pipeline.SynthesizedArtifacts) *pipeline.SynthesizedArtifacts {
	if artifacts == nil {
		return nil
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		panic("pipelinetest: artifacts not serializable: " + err.Error())
	}
	cpy := &pipeline.SynthesizedArtifacts{}
	if err := json.Unmarshal(raw, cpy); err != nil {
		panic("pipelinetest: artifacts not deserializable: " + err.Error())
	}
	return cpy
}

// Ensure MockStore implements pipeline.Store at compile time.
var _ pipeline.Store = (*MockStore)(nil)

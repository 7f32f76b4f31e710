package pipelinetest

import (
	"context"
	"sync"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// MockCIGateway is an in-memory implementation of pipeline.CIGateway.
//
// Tests script the engine through its public fields: Jobs marks which job
// names exist, QueueItems holds queue observations, BuildStatuses and
// StageResults hold per-build outcomes. Triggering a build allocates queue
// item numbers sequentially starting at 1.
type MockCIGateway struct {
	mu sync.RWMutex

	// Jobs maps full job name -> exists.
	Jobs map[string]bool

	// QueueItems maps queue item id -> observation.
	QueueItems map[int64]*pipeline.QueueItem

	// BuildStatuses maps full job name -> build status returned by
	// BuildInfo.
	BuildStatuses map[string]pipeline.BuildStatus

	// StageResults maps full job name -> stage outputs returned by
	// StageOutputs, keyed by external stage names.
	StageResults map[string]map[string]pipeline.StageOutput

	// Call tracking
	JobExistsCalls        []string
	ScanOrganizationCalls []string
	TriggerBuildCalls     []string
	ObserveQueueItemCalls []int64
	BuildInfoCalls        []BuildInfoCall
	StageOutputsCalls     []BuildInfoCall
	DeleteJobCalls        []string

	// Error injection
	JobExistsError        error
	ScanOrganizationError error
	TriggerBuildError     error
	ObserveQueueItemError error
	BuildInfoError        error
	StageOutputsError     error
	DeleteJobError        error

	queueCounter int64
}

// BuildInfoCall records a BuildInfo or StageOutputs call.
type BuildInfoCall struct {
	FullName string
	Number   int64
}

// NewMockCIGateway creates a MockCIGateway with initialized maps.
func NewMockCIGateway() *MockCIGateway {
	return &MockCIGateway{
		Jobs:          make(map[string]bool),
		QueueItems:    make(map[int64]*pipeline.QueueItem),
		BuildStatuses: make(map[string]pipeline.BuildStatus),
		StageResults:  make(map[string]map[string]pipeline.StageOutput),
	}
}

// JobExists reports whether the full job name is known to the engine.
func (m *MockCIGateway) JobExists(ctx context.Context, fullName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.JobExistsCalls = append(m.JobExistsCalls, fullName)

	if m.JobExistsError != nil {
		return false, m.JobExistsError
	}

	return m.Jobs[fullName], nil
}

// ScanOrganization triggers a scan of the organization folder.
func (m *MockCIGateway) ScanOrganization(ctx context.Context, org string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ScanOrganizationCalls = append(m.ScanOrganizationCalls, org)

	return m.ScanOrganizationError
}

// TriggerBuild enqueues a build and returns the queue item number.
func (m *MockCIGateway) TriggerBuild(ctx context.Context, fullName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TriggerBuildCalls = append(m.TriggerBuildCalls, fullName)

	if m.TriggerBuildError != nil {
		return 0, m.TriggerBuildError
	}

	m.queueCounter++
	if _, ok := m.QueueItems[m.queueCounter]; !ok {
		m.QueueItems[m.queueCounter] = &pipeline.QueueItem{}
	}
	return m.queueCounter, nil
}

// ObserveQueueItem reports whether the queue item became a build.
func (m *MockCIGateway) ObserveQueueItem(ctx context.Context, itemID int64) (*pipeline.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ObserveQueueItemCalls = append(m.ObserveQueueItemCalls, itemID)

	if m.ObserveQueueItemError != nil {
		return nil, m.ObserveQueueItemError
	}

	item, ok := m.QueueItems[itemID]
	if !ok {
		return nil, pipeline.ErrNotFound
	}

	cpy := *item
	return &cpy, nil
}

// BuildInfo returns the status of a build.
func (m *MockCIGateway) BuildInfo(ctx context.Context, fullName string, number int64) (pipeline.BuildStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BuildInfoCalls = append(m.BuildInfoCalls, BuildInfoCall{FullName: fullName, Number: number})

	if m.BuildInfoError != nil {
		return "", m.BuildInfoError
	}

	status, ok := m.BuildStatuses[fullName]
	if !ok {
		return pipeline.StatusRunning, nil
	}
	return status, nil
}

// StageOutputs returns per-criterion results of a finished build.
func (m *MockCIGateway) StageOutputs(
	ctx context.Context,
	fullName string,
	number int64,
) (map[string]pipeline.StageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StageOutputsCalls = append(m.StageOutputsCalls, BuildInfoCall{FullName: fullName, Number: number})

	if m.StageOutputsError != nil {
		return nil, m.StageOutputsError
	}

	results := m.StageResults[fullName]
	out := make(map[string]pipeline.StageOutput, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out, nil
}

// DeleteJob removes the job from the engine.
func (m *MockCIGateway) DeleteJob(ctx context.Context, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteJobCalls = append(m.DeleteJobCalls, fullName)

	if m.DeleteJobError != nil {
		return m.DeleteJobError
	}

	delete(m.Jobs, fullName)

	return nil
}

// StartBuild marks the queue item as started with the given build number,
// for scripting the queued -> running transition in tests.
func (m *MockCIGateway) StartBuild(itemID, buildNumber int64, buildURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.QueueItems[itemID] = &pipeline.QueueItem{
		Started:     true,
		BuildNumber: buildNumber,
		BuildURL:    buildURL,
	}
}

// Ensure MockCIGateway implements pipeline.CIGateway at compile time.
var _ pipeline.CIGateway = (*MockCIGateway)(nil)

package pipeline

// BuildStatus is the last observed status of a pipeline's CI build.
// It tracks the state machine defined → queued → running → terminal.
type BuildStatus string

const (
	// StatusDefined indicates the pipeline exists but no run was requested.
	StatusDefined BuildStatus = "defined"

	// StatusWaitingScanOrg indicates the artifacts repository was pushed
	// but the CI engine has not yet discovered the job; an organization
	// scan is in flight.
	StatusWaitingScanOrg BuildStatus = "waiting_scan_org"

	// StatusQueued indicates a build was triggered and sits in the queue.
	StatusQueued BuildStatus = "queued"

	// StatusRunning indicates the build left the queue and is executing.
	StatusRunning BuildStatus = "running"

	// StatusSuccess indicates the build finished and every stage passed.
	StatusSuccess BuildStatus = "success"

	// StatusFailure indicates at least one stage failed.
	StatusFailure BuildStatus = "failure"

	// StatusAborted indicates the build was aborted.
	StatusAborted BuildStatus = "aborted"

	// StatusUnstable indicates the build finished with non-fatal issues.
	StatusUnstable BuildStatus = "unstable"

	// StatusNotBuilt indicates the build never ran its stages.
	StatusNotBuilt BuildStatus = "not_built"
)

// String returns the string representation of the build status.
func (s BuildStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state
// (success, failure, aborted, unstable or not_built).
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusAborted, StatusUnstable, StatusNotBuilt:
		return true
	case StatusDefined, StatusWaitingScanOrg, StatusQueued, StatusRunning:
		return false
	default:
		return false
	}
}

// IsSuccess returns true if the status is the successful terminal state.
func (s BuildStatus) IsSuccess() bool {
	return s == StatusSuccess
}

// ParseBuildStatus maps a CI engine build result to a BuildStatus.
// Unknown results map to running, the safe non-terminal default.
func ParseBuildStatus(result string) BuildStatus {
	switch result {
	case "SUCCESS":
		return StatusSuccess
	case "FAILURE":
		return StatusFailure
	case "ABORTED":
		return StatusAborted
	case "UNSTABLE":
		return StatusUnstable
	case "NOT_BUILT":
		return StatusNotBuilt
	case "RUNNING", "":
		return StatusRunning
	default:
		return StatusRunning
	}
}

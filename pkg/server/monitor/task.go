package monitor

import (
	"sync"
	"time"
)

// DefaultMaxFailures is how many consecutive failures a task may have before it is unhealthy.
const DefaultMaxFailures = 3

// TaskMonitor tracks the health of a recurring background task
// (refresh cycles, mirror retention).
type TaskMonitor struct {
	name        string
	staleAfter  time.Duration
	maxFailures int

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	runs              uint64
}

// NewTaskMonitor creates a monitor that reports unhealthy when the task has not
// succeeded within staleAfter.
func NewTaskMonitor(name string, staleAfter time.Duration) *TaskMonitor {
	return &TaskMonitor{
		name:        name,
		staleAfter:  staleAfter,
		maxFailures: DefaultMaxFailures,
	}
}

// Name returns the task name.
func (tm *TaskMonitor) Name() string {
	return tm.name
}

// RecordSuccess records a successful run.
func (tm *TaskMonitor) RecordSuccess() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	tm.lastSuccess = now
	tm.lastAttempt = now
	tm.consecutiveErrors = 0
	tm.lastError = ""
	tm.runs++
}

// RecordFailure records a failed run.
func (tm *TaskMonitor) RecordFailure(err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.lastAttempt = time.Now()
	tm.consecutiveErrors++
	tm.runs++
	if err != nil {
		tm.lastError = err.Error()
	}
}

// IsHealthy returns true if the task is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded within staleAfter
//   - More than maxFailures consecutive failures
func (tm *TaskMonitor) IsHealthy() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.healthyLocked()
}

func (tm *TaskMonitor) healthyLocked() bool {
	if tm.lastSuccess.IsZero() {
		return false
	}
	if tm.staleAfter > 0 && time.Since(tm.lastSuccess) > tm.staleAfter {
		return false
	}
	return tm.consecutiveErrors <= tm.maxFailures
}

// TaskStatus is the health-check view of a TaskMonitor.
type TaskStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	Runs              uint64 `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current task status for health checks.
func (tm *TaskMonitor) Status() TaskStatus {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	status := TaskStatus{
		Name:    tm.name,
		Healthy: tm.healthyLocked(),
		Runs:    tm.runs,
	}

	if !tm.lastSuccess.IsZero() {
		status.LastSuccess = tm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(tm.lastSuccess).Round(time.Second).String()
	}

	if !tm.lastAttempt.IsZero() {
		status.LastAttempt = tm.lastAttempt.Format(time.RFC3339)
	}

	if tm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = tm.consecutiveErrors
		status.LastError = tm.lastError
	}

	return status
}

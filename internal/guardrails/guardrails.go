// Package guardrails gates sensitive operations behind dry-run defaults and
// optional human approval, and tags every invocation with a run id for
// correlation. Runs live in process memory only; durability across restarts
// is an explicit non-goal.
package guardrails

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Classification labels what kind of data an operation touches.
type Classification string

const (
	ClassificationPersonal Classification = "personal"
	ClassificationBusiness Classification = "business"
	ClassificationClinical Classification = "clinical"
)

// RunStatus is the lifecycle of one guarded invocation.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunApproved  RunStatus = "approved"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the bookkeeping for one guarded operation invocation.
type Run struct {
	ID             string         `json:"run_id"`
	Operation      string         `json:"operation"`
	Classification Classification `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
	DryRun         bool           `json:"dry_run"`
	Approved       bool           `json:"approved"`
	Status         RunStatus      `json:"status"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Manager tracks runs and enforces the dry-run and approval policies.
type Manager struct {
	dryRunDefault   bool
	requireApproval bool
	logger          *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

func NewManager(dryRunDefault, requireApproval bool, logger *slog.Logger) *Manager {
	m := &Manager{
		dryRunDefault:   dryRunDefault,
		requireApproval: requireApproval,
		logger:          logger.With("component", "guardrails"),
		runs:            make(map[string]*Run),
	}
	m.logger.Info("guardrails initialized",
		"dry_run_default", dryRunDefault, "require_approval", requireApproval)
	return m
}

// CreateRun allocates a unique run id seeded with the process-wide dry-run
// default.
func (m *Manager) CreateRun(operation string, classification Classification) string {
	runID := uuid.NewString()

	m.mu.Lock()
	m.runs[runID] = &Run{
		ID:             runID,
		Operation:      operation,
		Classification: classification,
		CreatedAt:      time.Now().UTC(),
		DryRun:         m.dryRunDefault,
		Status:         RunCreated,
	}
	m.mu.Unlock()

	m.logger.Info("run created", "run_id", runID, "operation", operation,
		"classification", classification)
	return runID
}

// Approve marks a run as approved for live execution.
func (m *Manager) Approve(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		m.logger.Error("run not found", "run_id", runID)
		return false
	}
	run.Approved = true
	run.Status = RunApproved
	m.logger.Info("run approved", "run_id", runID)
	return true
}

// SetDryRun overrides a run's dry-run flag, e.g. after an operator approves
// a live execution.
func (m *Manager) SetDryRun(runID string, dryRun bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return false
	}
	run.DryRun = dryRun
	return true
}

// IsApproved reports whether a run may execute. With approval enforcement
// disabled every run is implicitly approved.
func (m *Manager) IsApproved(runID string) bool {
	if !m.requireApproval {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	return ok && run.Approved
}

// IsDryRun reports a run's dry-run flag; unknown runs get the default.
func (m *Manager) IsDryRun(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return m.dryRunDefault
	}
	return run.DryRun
}

// Complete records the terminal state of a run.
func (m *Manager) Complete(runID string, success bool, result any, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		m.logger.Error("run not found for completion", "run_id", runID)
		return
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Result = result
	run.Error = errText
	if success {
		run.Status = RunCompleted
	} else {
		run.Status = RunFailed
	}
	m.logger.Info("run completed", "run_id", runID, "success", success)
}

// Get returns a copy of a run's bookkeeping.
func (m *Manager) Get(runID string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, false
	}
	clone := *run
	return &clone, true
}

// List returns runs, optionally filtered by status, oldest first.
func (m *Manager) List(status RunStatus) []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Run
	for _, run := range m.runs {
		if status != "" && run.Status != status {
			continue
		}
		clone := *run
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Outcome is the structured result every guarded operation returns to its
// caller: a result object, never a raw error.
type Outcome struct {
	Success bool   `json:"success"`
	DryRun  bool   `json:"dry_run"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"run_id"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GuardedFunc is an operation wrapped by Execute. The dryRun argument is the
// effective mode after guardrail enforcement.
type GuardedFunc func(ctx context.Context, runID string, dryRun bool) (any, error)

// ExecOptions let a caller pin an existing run or request a mode. A caller
// may opt in to dry-run; it can never opt out of one the guardrails mandate.
type ExecOptions struct {
	RunID  string
	DryRun *bool
}

// Execute wraps an operation with the guardrail contract: mint a run if
// needed, short-circuit when unapproved, enforce dry-run downward, record
// completion, and convert errors and panics into a structured failure.
func (m *Manager) Execute(ctx context.Context, operation string, classification Classification, opts ExecOptions, fn GuardedFunc) Outcome {
	runID := opts.RunID
	if runID == "" {
		runID = m.CreateRun(operation, classification)
	}

	if !m.IsApproved(runID) {
		m.logger.WarnContext(ctx, "operation not approved", "run_id", runID, "operation", operation)
		return Outcome{
			Success: false,
			DryRun:  m.IsDryRun(runID),
			RunID:   runID,
			Error:   "operation not approved",
		}
	}

	dryRun := m.IsDryRun(runID)
	if opts.DryRun != nil {
		// Guardrails win the conflict: a mandated dry-run cannot be
		// overridden upward to a live run.
		dryRun = dryRun || *opts.DryRun
	}

	m.logger.InfoContext(ctx, "executing guarded operation",
		"run_id", runID, "operation", operation,
		"dry_run", dryRun, "classification", classification)

	outcome := m.invoke(ctx, runID, dryRun, fn)
	outcome.RunID = runID
	outcome.DryRun = dryRun
	return outcome
}

func (m *Manager) invoke(ctx context.Context, runID string, dryRun bool, fn GuardedFunc) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			errText := fmt.Sprintf("panic in guarded operation: %v", r)
			m.logger.ErrorContext(ctx, "guarded operation panicked", "run_id", runID, "panic", r)
			m.Complete(runID, false, nil, errText)
			outcome = Outcome{Success: false, Error: errText}
		}
	}()

	result, err := fn(ctx, runID, dryRun)
	if err != nil {
		m.logger.ErrorContext(ctx, "guarded operation failed", "run_id", runID, "error", err)
		m.Complete(runID, false, nil, err.Error())
		return Outcome{Success: false, Error: err.Error()}
	}

	m.Complete(runID, true, result, "")
	message := "operation executed successfully"
	if dryRun {
		message = "operation executed in dry-run mode"
	}
	return Outcome{Success: true, Message: message, Result: result}
}

package ledger

import (
	"errors"
	"time"
)

// Record names written by the pipeline, one per phase transition.
const (
	NamePlan                = "plan"
	NamePlanValidationError = "plan_validation_error"
	NamePlanGenerationError = "plan_generation_error"
	NameVerify              = "verify"
	NameDecide              = "decide"
)

var (
	// ErrBufferFull is returned when an asynchronous ledger cannot accept more records.
	ErrBufferFull = errors.New("ledger buffer full")
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("ledger closed")
)

// Ledger is the append-only audit trail of the pipeline.
// Append() must NEVER block the caller, and a failed append never aborts a session.
type Ledger interface {
	Append(record *ExecutionRecord) error
	// Failures reports how many records were lost since start.
	Failures() uint64
	Close()
}

// ExecutionRecord is one phase transition of one planning session.
// Records are never mutated or deleted once appended.
type ExecutionRecord struct {
	RecordID          string
	UserID            string
	SessionID         string
	Name              string // tool or phase name
	Input             string // JSON
	Output            string // JSON
	PermissionGranted bool
	RiskFlags         []string
	Rationale         string
	Timestamp         time.Time
}

// clone returns a deep copy so callers cannot mutate a stored record.
func (r *ExecutionRecord) clone() *ExecutionRecord {
	out := *r
	if r.RiskFlags != nil {
		out.RiskFlags = append([]string(nil), r.RiskFlags...)
	}
	return &out
}

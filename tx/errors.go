package tx

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState reports an operation invoked in a status that
	// forbids it (for example committing a transaction twice).
	ErrIllegalState = errors.New("tx: operation not allowed in current status")

	// ErrRollbackOnly reports an operation refused because the
	// transaction is marked rollback-only.
	ErrRollbackOnly = errors.New("tx: transaction is marked rollback-only")

	// ErrRollback reports a clean abort: the transaction rolled back and
	// every branch acknowledged the rollback.
	ErrRollback = errors.New("tx: transaction rolled back")
)

// HeuristicRollbackError reports that the transaction rolled back after at
// least one branch failure. Failures holds the recorded per-branch errors in
// the order they occurred.
type HeuristicRollbackError struct {
	Failures []error
}

// Error implements the error interface.
func (e *HeuristicRollbackError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("tx: transaction rolled back after branch failure: %v", e.Failures[0])
	}
	return fmt.Sprintf("tx: transaction rolled back after %d branch failures", len(e.Failures))
}

// Unwrap exposes the recorded branch failures to errors.Is and errors.As.
func (e *HeuristicRollbackError) Unwrap() []error {
	return e.Failures
}

// HeuristicMixedError reports a mixed outcome: the coordinator decided to
// commit but one or more branches failed their commit call, so some branches
// may have committed while others did not. The caller must reconcile the
// affected resources manually.
type HeuristicMixedError struct {
	Failures []error
}

// Error implements the error interface.
func (e *HeuristicMixedError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("tx: heuristic mixed outcome, branch commit failed: %v", e.Failures[0])
	}
	return fmt.Sprintf("tx: heuristic mixed outcome, %d branch commits failed", len(e.Failures))
}

// Unwrap exposes the recorded branch failures to errors.Is and errors.As.
func (e *HeuristicMixedError) Unwrap() []error {
	return e.Failures
}

package tx

import (
	"errors"
	"fmt"
)

// Code is a protocol-level failure code returned by a resource manager
// operation. The values match the standard XA error codes.
//
// Codes are a closed vocabulary used purely for diagnostic logging: the
// coordinator classifies every branch failure to a Code before recording it,
// but no control-flow decision depends on the specific code.
type Code int32

const (
	// CodeRBRollback and the other CodeRB* values are rollback causes:
	// the resource rolled the branch back for the stated reason.
	CodeRBRollback  Code = 100
	CodeRBCommFail  Code = 101
	CodeRBDeadlock  Code = 102
	CodeRBIntegrity Code = 103
	CodeRBOther     Code = 104
	CodeRBProto     Code = 105
	CodeRBTimeout   Code = 106
	CodeRBTransient Code = 107

	// CodeNoMigrate: the suspended branch must be resumed where it was
	// suspended.
	CodeNoMigrate Code = 9

	// CodeHeurHaz, CodeHeurCom, CodeHeurRB and CodeHeurMix report
	// heuristic completions taken unilaterally by the resource.
	CodeHeurHaz Code = 8
	CodeHeurCom Code = 7
	CodeHeurRB  Code = 6
	CodeHeurMix Code = 5

	// CodeRetry: the operation could not complete and may be retried.
	CodeRetry Code = 4

	// CodeRDOnly: the branch was read-only and has been completed.
	CodeRDOnly Code = 3

	// CodeERAsync and below are resource-manager errors.
	CodeERAsync   Code = -2
	CodeERRMErr   Code = -3
	CodeERNotA    Code = -4
	CodeERInval   Code = -5
	CodeERProto   Code = -6
	CodeERRMFail  Code = -7
	CodeERDupID   Code = -8
	CodeEROutside Code = -9
)

var codeNames = map[Code]string{
	CodeRBRollback:  "rollback",
	CodeRBCommFail:  "rollback-communication-failure",
	CodeRBDeadlock:  "rollback-deadlock",
	CodeRBIntegrity: "rollback-integrity-violation",
	CodeRBOther:     "rollback-other",
	CodeRBProto:     "rollback-protocol-error",
	CodeRBTimeout:   "rollback-timeout",
	CodeRBTransient: "rollback-transient",
	CodeNoMigrate:   "no-migration",
	CodeHeurHaz:     "heuristic-hazard",
	CodeHeurCom:     "heuristic-commit",
	CodeHeurRB:      "heuristic-rollback",
	CodeHeurMix:     "heuristic-mixed",
	CodeRetry:       "retry",
	CodeRDOnly:      "read-only branch",
	CodeERAsync:     "asynchronous-operation",
	CodeERRMErr:     "resource-manager-error",
	CodeERNotA:      "unknown-transaction",
	CodeERInval:     "invalid-argument",
	CodeERProto:     "protocol-violation",
	CodeERRMFail:    "resource-manager-failed",
	CodeERDupID:     "duplicate-transaction-id",
	CodeEROutside:   "outside-global-transaction",
}

// String returns the symbolic name of the code, or "unknown" for values
// outside the vocabulary.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// XAError is the error type resource managers return from protocol calls.
// Code carries the protocol-level failure code; Err optionally carries the
// underlying cause.
type XAError struct {
	Code Code
	Err  error
}

// Error implements the error interface.
func (e *XAError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xa error %d (%s): %v", e.Code, e.Code, e.Err)
	}
	return fmt.Sprintf("xa error %d (%s)", e.Code, e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *XAError) Unwrap() error {
	return e.Err
}

// Classify extracts the protocol code from err. Errors that do not carry an
// *XAError anywhere in their chain classify as CodeERRMErr.
func Classify(err error) Code {
	var xaErr *XAError
	if errors.As(err, &xaErr) {
		return xaErr.Code
	}
	return CodeERRMErr
}

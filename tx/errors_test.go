package tx_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/txkit/tx"
)

func TestHeuristicRollbackError_ExposesCauses(t *testing.T) {
	inner := &tx.XAError{Code: tx.CodeRBDeadlock}
	err := &tx.HeuristicRollbackError{Failures: []error{inner}}

	require.ErrorIs(t, err, inner, "the recorded failure must be reachable via errors.Is")

	var xaErr *tx.XAError
	require.True(t, errors.As(err, &xaErr))
	require.Equal(t, tx.CodeRBDeadlock, xaErr.Code)
	require.Contains(t, err.Error(), "rolled back after branch failure")
}

func TestHeuristicRollbackError_MultipleCauses(t *testing.T) {
	err := &tx.HeuristicRollbackError{Failures: []error{
		errors.New("first"),
		errors.New("second"),
	}}

	require.Contains(t, err.Error(), "2 branch failures")
}

func TestHeuristicMixedError_ExposesCauses(t *testing.T) {
	inner := &tx.XAError{Code: tx.CodeHeurHaz}
	err := &tx.HeuristicMixedError{Failures: []error{inner}}

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "heuristic mixed outcome")
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "ACTIVE", tx.StatusActive.String())
	require.Equal(t, "MARKED_ROLLBACK", tx.StatusMarkedRollback.String())
	require.Equal(t, "PREPARING", tx.StatusPreparing.String())
	require.Equal(t, "PREPARED", tx.StatusPrepared.String())
	require.Equal(t, "COMMITTING", tx.StatusCommitting.String())
	require.Equal(t, "COMMITTED", tx.StatusCommitted.String())
	require.Equal(t, "ROLLING_BACK", tx.StatusRollingBack.String())
	require.Equal(t, "ROLLED_BACK", tx.StatusRolledBack.String())
	require.Equal(t, "UNKNOWN", tx.Status(99).String())
}

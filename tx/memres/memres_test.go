package memres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/txkit/tx"
	"github.com/joshuapare/txkit/tx/memres"
)

// =============================================================================
// Staging Semantics
// =============================================================================

func TestResource_StagedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	c := tx.NewCoordinator()
	r := store.Resource()

	enlisted, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.True(t, enlisted)

	require.NoError(t, r.Set("alice", "100"))

	// Committed state is untouched while the branch is open.
	_, ok := store.Get("alice")
	require.False(t, ok)

	// The branch sees its own staged write.
	v, ok, err := r.Lookup("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", v)

	require.NoError(t, c.Commit(ctx))

	v, ok = store.Get("alice")
	require.True(t, ok)
	require.Equal(t, "100", v)
}

func TestResource_RollbackDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	c := tx.NewCoordinator()
	r := store.Resource()

	_, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Set("alice", "100"))
	require.NoError(t, c.Rollback(ctx))

	_, ok := store.Get("alice")
	require.False(t, ok)
	require.Equal(t, tx.StatusRolledBack, c.Status())
}

func TestResource_StagedDeleteShadowsCommittedValue(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")

	// Seed committed state with a first transaction.
	seed := tx.NewCoordinator()
	r := store.Resource()
	_, err := seed.Enlist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Set("alice", "100"))
	require.NoError(t, seed.Commit(ctx))

	c := tx.NewCoordinator()
	r2 := store.Resource()
	_, err = c.Enlist(ctx, r2)
	require.NoError(t, err)
	require.NoError(t, r2.Delete("alice"))

	_, ok, err := r2.Lookup("alice")
	require.NoError(t, err)
	require.False(t, ok, "the staged delete must shadow the committed value")

	require.NoError(t, c.Commit(ctx))
	_, ok = store.Get("alice")
	require.False(t, ok)
}

func TestResource_WriteWithoutBranch_Fails(t *testing.T) {
	store := memres.NewStore("accounts")
	r := store.Resource()

	require.Error(t, r.Set("alice", "100"))
}

// =============================================================================
// Coordinated Multi-Store Scenarios
// =============================================================================

func TestTwoStores_AtomicCommit(t *testing.T) {
	ctx := context.Background()
	accounts := memres.NewStore("accounts")
	audit := memres.NewStore("audit")
	c := tx.NewCoordinator()
	ra := accounts.Resource()
	rb := audit.Resource()

	for _, r := range []*memres.Resource{ra, rb} {
		enlisted, err := c.Enlist(ctx, r)
		require.NoError(t, err)
		require.True(t, enlisted)
	}
	require.NoError(t, ra.Set("alice", "50"))
	require.NoError(t, rb.Set("entry-1", "alice -50"))

	require.NoError(t, c.Commit(ctx))

	v, _ := accounts.Get("alice")
	require.Equal(t, "50", v)
	v, _ = audit.Get("entry-1")
	require.Equal(t, "alice -50", v)
}

func TestTwoStores_PrepareFailureLeavesBothUntouched(t *testing.T) {
	ctx := context.Background()
	accounts := memres.NewStore("accounts")
	audit := memres.NewStore("audit")
	c := tx.NewCoordinator()
	ra := accounts.Resource()
	rb := audit.Resource()
	rb.FailPrepare = &tx.XAError{Code: tx.CodeRBIntegrity}

	for _, r := range []*memres.Resource{ra, rb} {
		_, err := c.Enlist(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, ra.Set("alice", "50"))
	require.NoError(t, rb.Set("entry-1", "alice -50"))

	err := c.Commit(ctx)

	var heuristic *tx.HeuristicRollbackError
	require.ErrorAs(t, err, &heuristic)
	require.Empty(t, accounts.Snapshot(), "no store may apply a rolled-back transaction")
	require.Empty(t, audit.Snapshot())
}

func TestSingleStore_OnePhaseCommit(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	c := tx.NewCoordinator()
	r := store.Resource()

	_, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Set("alice", "100"))

	// One-phase: commit applies without a prior prepare.
	require.NoError(t, c.Commit(ctx))

	v, ok := store.Get("alice")
	require.True(t, ok)
	require.Equal(t, "100", v)
}

func TestSuspendResume_StagingSurvives(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	c := tx.NewCoordinator()
	r := store.Resource()

	_, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Set("alice", "100"))

	delisted, err := c.Delist(ctx, r, tx.TMSuspend)
	require.NoError(t, err)
	require.True(t, delisted)

	// Writes are refused while suspended.
	require.Error(t, r.Set("bob", "200"))

	enlisted, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.True(t, enlisted)
	require.NoError(t, r.Set("bob", "200"))

	require.NoError(t, c.Commit(ctx))
	v, _ := store.Get("alice")
	require.Equal(t, "100", v, "writes staged before the suspend must survive")
	v, _ = store.Get("bob")
	require.Equal(t, "200", v)
}

func TestSameStoreHandles_JoinAsOneParticipant(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	other := memres.NewStore("audit")
	c := tx.NewCoordinator()
	r1 := store.Resource()
	r2 := store.Resource()
	r3 := other.Resource()

	for _, r := range []*memres.Resource{r1, r2, r3} {
		enlisted, err := c.Enlist(ctx, r)
		require.NoError(t, err)
		require.True(t, enlisted)
	}

	require.Contains(t, c.String(), "participants=2",
		"two handles of one store must count as one participant")
	require.Contains(t, c.String(), "branches=3")

	require.NoError(t, r1.Set("a", "1"))
	require.NoError(t, r2.Set("b", "2"))
	require.NoError(t, r3.Set("c", "3"))
	require.NoError(t, c.Commit(ctx))

	v, _ := store.Get("a")
	require.Equal(t, "1", v)
	v, _ = store.Get("b")
	require.Equal(t, "2", v)
	v, _ = other.Get("c")
	require.Equal(t, "3", v)
}

func TestSameRM(t *testing.T) {
	store := memres.NewStore("accounts")
	other := memres.NewStore("audit")

	same, err := store.Resource().SameRM(store.Resource())
	require.NoError(t, err)
	require.True(t, same)

	same, err = store.Resource().SameRM(other.Resource())
	require.NoError(t, err)
	require.False(t, same)
}

// =============================================================================
// Protocol Errors
// =============================================================================

func TestEndWithFail_VotesNoAtPrepare(t *testing.T) {
	ctx := context.Background()
	accounts := memres.NewStore("accounts")
	audit := memres.NewStore("audit")
	c := tx.NewCoordinator()
	ra := accounts.Resource()
	rb := audit.Resource()

	for _, r := range []*memres.Resource{ra, rb} {
		_, err := c.Enlist(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, ra.Set("alice", "50"))

	// End the audit branch reporting failure: it must refuse to prepare.
	delisted, err := c.Delist(ctx, rb, tx.TMFail)
	require.NoError(t, err)
	require.True(t, delisted)

	err = c.Commit(ctx)

	var heuristic *tx.HeuristicRollbackError
	require.ErrorAs(t, err, &heuristic)
	require.Equal(t, tx.CodeRBRollback, tx.Classify(heuristic.Failures[0]))
	require.Empty(t, accounts.Snapshot())
}

func TestStart_DuplicateBranch_Refused(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	r1 := store.Resource()
	r2 := store.Resource()
	xid := tx.NewBranchXid(1, 1, []byte{0x01})

	require.NoError(t, r1.Start(ctx, xid, tx.TMNoFlags))

	err := r2.Start(ctx, xid, tx.TMNoFlags)
	require.Equal(t, tx.CodeERDupID, tx.Classify(err))
}

func TestStart_ResumeUnknownBranch_Refused(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	r := store.Resource()
	xid := tx.NewBranchXid(1, 1, []byte{0x01})

	err := r.Start(ctx, xid, tx.TMResume)
	require.Equal(t, tx.CodeERProto, tx.Classify(err))
}

func TestCommit_TwoPhaseWithoutPrepare_Refused(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	r := store.Resource()
	xid := tx.NewBranchXid(1, 1, []byte{0x01})

	require.NoError(t, r.Start(ctx, xid, tx.TMNoFlags))

	err := r.Commit(ctx, xid, false)
	require.Equal(t, tx.CodeERProto, tx.Classify(err))
}

func TestFailCommit_OnePhase_RollsBranchBack(t *testing.T) {
	ctx := context.Background()
	store := memres.NewStore("accounts")
	c := tx.NewCoordinator()
	r := store.Resource()
	r.FailCommit = &tx.XAError{Code: tx.CodeRBOther}

	_, err := c.Enlist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Set("alice", "100"))

	err = c.Commit(ctx)

	var heuristic *tx.HeuristicRollbackError
	require.ErrorAs(t, err, &heuristic)
	require.Empty(t, store.Snapshot(), "a failed one-phase commit discards the staged writes")
}

func TestContextCancellation_Refused(t *testing.T) {
	store := memres.NewStore("accounts")
	r := store.Resource()
	xid := tx.NewBranchXid(1, 1, []byte{0x01})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Start(ctx, xid, tx.TMNoFlags)
	require.ErrorIs(t, err, context.Canceled)
}

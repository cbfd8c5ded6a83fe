package tx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"

	"github.com/joshuapare/txkit/internal/txid"
)

// defaultFormatID is the format identifier stamped on every xid this
// coordinator creates.
const defaultFormatID int32 = 0x544b

// branch pairs a branch xid with the resource manager it was started on.
// Branches are kept in insertion order; protocol sweeps iterate them in
// that order.
type branch struct {
	xid Xid
	rm  ResourceManager
}

// Coordinator drives a set of enlisted resource managers through a single
// atomic unit of work using the two-phase commit protocol (with a one-phase
// optimization for the single-resource case).
//
// One Coordinator instance corresponds to one transaction. It is created in
// StatusActive; resources are enlisted and delisted only while active; it
// reaches a terminal status (StatusCommitted or StatusRolledBack) exactly
// once, after which it is read-only.
//
// The coordinator is driven synchronously by one owning goroutine. Commit
// and Rollback are protected by a non-blocking re-entrancy guard: a second
// call while one is in flight returns immediately as a no-op rather than
// blocking or re-running the protocol. Read-only queries (Status, IsEnlisted,
// String) may run concurrently with the owning goroutine and see consistent
// snapshots.
//
// The coordinator keeps no durable log: recovery after a crash mid-protocol
// is out of scope.
type Coordinator struct {
	mu sync.Mutex

	status     Status
	completing atomic.Bool

	txnXid    Xid
	branchSeq uint32

	// resources holds the distinct enlisted resource managers in
	// enlistment order. Its length selects one-phase vs two-phase commit.
	resources []ResourceManager

	// branches holds every started branch in insertion order.
	branches []branch

	active    map[ResourceManager]Xid
	suspended map[ResourceManager]Xid

	syncs []Synchronization

	// failures holds the per-branch errors recorded by the last
	// completion attempt, for post-terminal inspection.
	failures []error

	log *slog.Logger
}

// NewCoordinator creates a coordinator for a new unit of work.
//
// The transaction's global id is built from the process node id and the next
// value of the process-wide sequence counter, so concurrently active
// transactions never share a global id. Diagnostic logging is discarded; use
// NewCoordinatorWithLogger to capture it.
func NewCoordinator() *Coordinator {
	return NewCoordinatorWithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// NewCoordinatorWithLogger is like NewCoordinator but sends diagnostic
// output (status transitions, per-branch failures with classified codes) to
// the given logger.
func NewCoordinatorWithLogger(log *slog.Logger) *Coordinator {
	return &Coordinator{
		status:    StatusActive,
		txnXid:    NewGlobalXid(txid.NodeID(), defaultFormatID, txid.NextGlobalSequence()),
		active:    make(map[ResourceManager]Xid),
		suspended: make(map[ResourceManager]Xid),
		log:       log,
	}
}

// Xid returns the transaction-level identifier shared by all branches of
// this transaction.
func (c *Coordinator) Xid() Xid {
	return c.txnXid
}

// Status returns the coordinator's current position in the state machine.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Failures returns the per-branch errors recorded by the last completion
// attempt, in the order they occurred. It returns nil before completion and
// after a clean completion.
func (c *Coordinator) Failures() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.failures)
}

// Enlist registers a resource manager's participation in this transaction
// and starts a branch on it.
//
// The branch start is resolved in this order:
//  1. If the resource has a suspended branch, that branch is resumed
//     (TMResume) and its xid reused.
//  2. If another enlisted handle reports the same underlying resource
//     manager, a new branch is started with TMJoin; the resource is not
//     added as a distinct participant.
//  3. Otherwise a fresh branch is started with TMNoFlags and the resource
//     becomes a new participant.
//
// Returns (false, nil) without error if the resource already has an active
// branch (two simultaneously active branches of one resource would be a
// protocol violation) or if the branch-start call fails; a failed start
// leaves the coordinator's bookkeeping unchanged.
//
// Returns ErrRollbackOnly if the transaction is marked rollback-only, and
// ErrIllegalState if it is not active.
func (c *Coordinator) Enlist(ctx context.Context, rm ResourceManager) (bool, error) {
	if rm == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusMarkedRollback {
		return false, fmt.Errorf("enlist: %w", ErrRollbackOnly)
	}
	if c.status != StatusActive {
		return false, fmt.Errorf("enlist: %w: status is %s", ErrIllegalState, c.status)
	}
	if _, ok := c.active[rm]; ok {
		// One active branch per resource at a time.
		return false, nil
	}

	flags := TMNoFlags
	branchXid, resuming := c.suspended[rm]
	if resuming {
		flags = TMResume
	} else {
		for _, enlisted := range c.resources {
			same, err := enlisted.SameRM(rm)
			if err != nil {
				// Probe failure counts as "not the same".
				continue
			}
			if same {
				flags = TMJoin
				break
			}
		}
		c.branchSeq++
		branchXid = NewBranchXid(c.branchSeq, c.txnXid.FormatID(), c.txnXid.GlobalTransactionID())
	}

	if err := rm.Start(ctx, branchXid, flags); err != nil {
		c.log.Warn("branch start failed",
			"xid", branchXid.String(),
			"resource", resourceName(rm),
			"flags", int32(flags),
			"code", Classify(err).String(),
			"err", err)
		return false, nil
	}

	if resuming {
		delete(c.suspended, rm)
	}
	// One entry per branch id: a resumed branch is already recorded.
	known := slices.ContainsFunc(c.branches, func(b branch) bool { return b.xid == branchXid })
	if !known {
		c.branches = append(c.branches, branch{xid: branchXid, rm: rm})
	}
	c.active[rm] = branchXid
	if flags == TMNoFlags {
		c.resources = append(c.resources, rm)
	}
	metrics.IncrCounter([]string{"txkit", "enlist"}, 1)

	c.log.Debug("branch started",
		"xid", branchXid.String(),
		"resource", resourceName(rm),
		"flags", int32(flags))
	return true, nil
}

// Delist ends the resource's active branch with the given end flags
// (TMSuccess, TMFail or TMSuspend).
//
// With TMSuspend the branch is parked and a later Enlist of the same
// resource resumes it; with any other flag the branch is ended for good.
//
// Returns (false, nil) if the branch-end call fails: the caller must treat
// that as "the delist did not happen", not as a fatal condition. Returns
// ErrIllegalState if the transaction is not active or the resource has no
// active branch.
func (c *Coordinator) Delist(ctx context.Context, rm ResourceManager, flags Flags) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return false, fmt.Errorf("delist: %w: status is %s", ErrIllegalState, c.status)
	}
	branchXid, ok := c.active[rm]
	if !ok {
		return false, fmt.Errorf("delist: %w: resource has no active branch", ErrIllegalState)
	}

	delete(c.active, rm)

	if err := rm.End(ctx, branchXid, flags); err != nil {
		c.log.Warn("branch end failed",
			"xid", branchXid.String(),
			"resource", resourceName(rm),
			"flags", int32(flags),
			"code", Classify(err).String(),
			"err", err)
		return false, nil
	}

	if flags&TMSuspend != 0 {
		c.suspended[rm] = branchXid
	}

	c.log.Debug("branch ended",
		"xid", branchXid.String(),
		"resource", resourceName(rm),
		"flags", int32(flags))
	return true, nil
}

// IsEnlisted reports whether the resource participates in this transaction:
// it has an active branch, a suspended branch, or reports the same
// underlying resource manager as an enlisted participant. It never fails;
// same-RM probe errors count as "not the same".
func (c *Coordinator) IsEnlisted(rm ResourceManager) bool {
	if rm == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[rm]; ok {
		return true
	}
	if _, ok := c.suspended[rm]; ok {
		return true
	}
	for _, enlisted := range c.resources {
		same, err := enlisted.SameRM(rm)
		if err != nil {
			continue
		}
		if same {
			return true
		}
	}
	return false
}

// RegisterSynchronization adds a completion listener. Listeners are invoked
// in registration order. Registration is only permitted while the
// transaction is active; returns ErrRollbackOnly if it is marked
// rollback-only and ErrIllegalState otherwise.
func (c *Coordinator) RegisterSynchronization(s Synchronization) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusMarkedRollback {
		return fmt.Errorf("register synchronization: %w", ErrRollbackOnly)
	}
	if c.status != StatusActive {
		return fmt.Errorf("register synchronization: %w: status is %s", ErrIllegalState, c.status)
	}
	c.syncs = append(c.syncs, s)
	return nil
}

// MarkRollbackOnly forbids the transaction from committing: a later Commit
// is turned into a rollback.
//
// No status validation is performed; calling this after a terminal status
// overwrites that status. Kept that way deliberately to preserve the
// historical caller-visible behavior.
func (c *Coordinator) MarkRollbackOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debug("status transition", "from", c.status.String(), "to", StatusMarkedRollback.String())
	c.status = StatusMarkedRollback
}

// Commit drives every branch to a terminal outcome and reports how certain
// that outcome is.
//
// With exactly one enlisted resource the prepare phase is skipped and the
// resource commits in one phase; a failure there means the resource already
// rolled back. With two or more resources the full two-phase protocol runs:
// prepare stops at the first refusal, after which every branch is rolled
// back best-effort; if all branches prepare, every branch is committed
// best-effort and the transaction counts as committed even if individual
// commit calls fail.
//
// Returns nil on a clean commit. Otherwise:
//   - ErrRollback: the transaction rolled back cleanly (including the
//     marked-rollback-only path).
//   - *HeuristicRollbackError: it rolled back after branch failures.
//   - *HeuristicMixedError: it committed but some branch commits failed, so
//     the resources may disagree about the outcome.
//   - ErrIllegalState: the transaction was not active.
//
// Errors returned by synchronization listeners propagate: a BeforeCompletion
// error aborts the attempt before any branch work, an AfterCompletion error
// is returned after the terminal status is already recorded.
//
// A Commit call that finds another Commit or Rollback already in flight on
// this instance returns nil immediately without touching the protocol.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c.completing.Load() {
		return nil
	}

	c.mu.Lock()
	marked := c.status == StatusMarkedRollback
	c.mu.Unlock()
	if marked {
		if err := c.Rollback(ctx); err != nil {
			return err
		}
		return ErrRollback
	}

	if !c.completing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.completing.Store(false)

	c.mu.Lock()
	if c.status != StatusActive {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("commit: %w: status is %s", ErrIllegalState, status)
	}
	syncs := slices.Clone(c.syncs)
	branches := slices.Clone(c.branches)
	participants := len(c.resources)
	c.mu.Unlock()

	for _, s := range syncs {
		if err := s.BeforeCompletion(); err != nil {
			return err
		}
	}

	var failures []error
	if participants == 1 {
		// One-phase optimization: no prepare round. The single resource
		// decides commit-or-rollback itself; a failure means it rolled
		// back, so no separate rollback call is issued.
		c.setStatus(StatusCommitting)
		b := branches[0]
		if err := b.rm.Commit(ctx, b.xid, true); err != nil {
			failures = append(failures, c.branchFailure("commit", b, err))
			c.setStatus(StatusMarkedRollback)
			c.setStatus(StatusRolledBack)
		} else {
			c.setStatus(StatusCommitted)
		}
	} else {
		c.setStatus(StatusPreparing)
		prepared := true
		for _, b := range branches {
			if err := b.rm.Prepare(ctx, b.xid); err != nil {
				failures = append(failures, c.branchFailure("prepare", b, err))
				prepared = false
				break
			}
		}
		if prepared {
			c.setStatus(StatusPrepared)
			c.setStatus(StatusCommitting)
			for _, b := range branches {
				if err := b.rm.Commit(ctx, b.xid, false); err != nil {
					failures = append(failures, c.branchFailure("commit", b, err))
				}
			}
			// Committed even if individual branch commits failed; the
			// mixed outcome is surfaced to the caller below.
			c.setStatus(StatusCommitted)
		} else {
			// Roll back every branch ever started, including ones that
			// were never prepared and the one that refused.
			c.setStatus(StatusRollingBack)
			for _, b := range branches {
				if err := b.rm.Rollback(ctx, b.xid); err != nil {
					failures = append(failures, c.branchFailure("rollback", b, err))
				}
			}
			c.setStatus(StatusRolledBack)
		}
	}

	c.mu.Lock()
	c.failures = failures
	final := c.status
	c.mu.Unlock()

	for _, s := range syncs {
		if err := s.AfterCompletion(final); err != nil {
			return err
		}
	}

	switch {
	case final == StatusRolledBack && len(failures) > 0:
		metrics.IncrCounter([]string{"txkit", "heuristic_rollback"}, 1)
		return &HeuristicRollbackError{Failures: failures}
	case final == StatusRolledBack:
		metrics.IncrCounter([]string{"txkit", "rollback"}, 1)
		return ErrRollback
	case len(failures) > 0:
		metrics.IncrCounter([]string{"txkit", "heuristic_mixed"}, 1)
		return &HeuristicMixedError{Failures: failures}
	default:
		metrics.IncrCounter([]string{"txkit", "commit"}, 1)
		return nil
	}
}

// Rollback rolls back every branch ever started, best-effort and in
// insertion order: a branch failure is recorded and logged but never stops
// the sweep, and accumulated failures are not returned to the caller (they
// remain available through Failures).
//
// Returns ErrIllegalState unless the transaction is active or marked
// rollback-only. An AfterCompletion listener error propagates after the
// terminal status is recorded. A call that finds another Commit or Rollback
// already in flight returns nil immediately.
func (c *Coordinator) Rollback(ctx context.Context) error {
	if !c.completing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.completing.Store(false)

	c.mu.Lock()
	if c.status != StatusActive && c.status != StatusMarkedRollback {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("rollback: %w: status is %s", ErrIllegalState, status)
	}
	syncs := slices.Clone(c.syncs)
	branches := slices.Clone(c.branches)
	c.mu.Unlock()

	c.setStatus(StatusRollingBack)
	var failures []error
	for _, b := range branches {
		if err := b.rm.Rollback(ctx, b.xid); err != nil {
			failures = append(failures, c.branchFailure("rollback", b, err))
		}
	}
	c.setStatus(StatusRolledBack)

	c.mu.Lock()
	c.failures = failures
	c.mu.Unlock()
	metrics.IncrCounter([]string{"txkit", "rollback"}, 1)

	for _, s := range syncs {
		if err := s.AfterCompletion(StatusRolledBack); err != nil {
			return err
		}
	}
	return nil
}

// String returns a one-line diagnostic summary of the transaction. Safe to
// call concurrently with enlistment and completion.
func (c *Coordinator) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("Transaction[%s, status=%s, participants=%d, branches=%d]",
		c.txnXid, c.status, len(c.resources), len(c.branches))
}

// setStatus records a state-machine transition.
func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debug("status transition", "from", c.status.String(), "to", s.String())
	c.status = s
}

// branchFailure logs a failed branch operation with its classified protocol
// code and returns the error to record for outcome reporting.
func (c *Coordinator) branchFailure(op string, b branch, err error) error {
	c.log.Error("branch "+op+" failed",
		"xid", b.xid.String(),
		"resource", resourceName(b.rm),
		"code", Classify(err).String(),
		"err", err)
	return fmt.Errorf("%s %s on %s: %w", op, b.xid, resourceName(b.rm), err)
}

// resourceName renders a resource manager for log output.
func resourceName(rm ResourceManager) string {
	if s, ok := rm.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", rm)
}

// Package tx implements an in-process distributed-transaction coordinator.
//
// # Overview
//
// A Coordinator drives multiple independently-managed resources, each
// exposing a two-phase-commit-capable interface, through a single atomic
// unit of work: either all resources durably apply their changes or none
// do, even when partial failures occur mid-protocol.
//
// Transaction lifecycle:
//  1. NewCoordinator(): transaction starts in StatusActive
//  2. Enlist() resources; each enlistment starts a protocol branch
//  3. Optionally Delist() with TMSuspend and re-Enlist() to resume
//  4. Commit() or Rollback(): the coordinator drives every branch to a
//     terminal outcome and reports how certain that outcome is
//
// # Commit protocol
//
// With exactly one enlisted resource the prepare round is skipped and the
// resource commits in one phase. With two or more, the full two-phase
// protocol runs:
//
//	PREPARING: prepare each branch in enlistment order, stopping at the
//	           first refusal
//	PREPARED:  every branch voted yes
//	COMMITTING: commit each branch, best-effort
//	COMMITTED:  terminal
//
// A prepare refusal switches to ROLLING_BACK: every branch ever started is
// rolled back best-effort, and Commit returns *HeuristicRollbackError
// carrying the recorded failures. Branch failures during the commit sweep do
// not stop it; the transaction still counts as COMMITTED and Commit returns
// *HeuristicMixedError so the caller knows some resources may disagree about
// the outcome.
//
// # Branch identity
//
// Every branch is identified by an Xid: format id, global transaction id and
// branch qualifier. All branches of one transaction share a global id built
// from the process node id and a process-wide sequence counter, so ids of
// concurrently active transactions never collide.
//
// # What this package is not
//
// The coordinator keeps no durable log and defines no wire protocol:
// resource managers are in-process handles, and recovery after a process
// crash mid-protocol is out of scope. Callers wanting a transaction timeout
// must drive MarkRollbackOnly or Rollback from their own timer.
package tx

package tx

import "context"

// Flags carries the XA flag word passed to ResourceManager.Start and
// ResourceManager.End. Values match the standard XA constants.
type Flags int32

const (
	// TMNoFlags starts a fresh branch.
	TMNoFlags Flags = 0x00000000

	// TMJoin starts a branch joining work already done on the same
	// resource manager within this transaction.
	TMJoin Flags = 0x00200000

	// TMResume resumes a branch previously ended with TMSuspend.
	TMResume Flags = 0x08000000

	// TMSuccess ends a branch normally.
	TMSuccess Flags = 0x04000000

	// TMFail ends a branch marking its work as failed.
	TMFail Flags = 0x20000000

	// TMSuspend ends a branch leaving it eligible for a later TMResume.
	TMSuspend Flags = 0x02000000
)

// ResourceManager is the capability surface a resource exposes to the
// coordinator: branch lifecycle, the two-phase protocol, and the same-RM
// identity probe.
//
// All protocol methods take the caller's context; the coordinator passes it
// through unchanged and never adds deadlines of its own. Implementations
// that cannot block may ignore it.
//
// Failures should be returned as (or wrap) *XAError so the coordinator can
// classify them for diagnostics; any other error is treated as a generic
// resource-manager error.
type ResourceManager interface {
	// Start associates the branch identified by xid with this resource.
	// flags is one of TMNoFlags, TMJoin or TMResume.
	Start(ctx context.Context, xid Xid, flags Flags) error

	// End dissociates the branch from this resource. flags is one of
	// TMSuccess, TMFail or TMSuspend.
	End(ctx context.Context, xid Xid, flags Flags) error

	// Prepare asks the resource to vote on commit for the branch. A nil
	// return is a yes vote; returning an error votes no.
	Prepare(ctx context.Context, xid Xid) error

	// Commit commits the branch. When onePhase is true the resource must
	// perform the prepare decision and the commit as one atomic step; a
	// failure then means the resource has rolled the branch back.
	Commit(ctx context.Context, xid Xid, onePhase bool) error

	// Rollback rolls the branch back.
	Rollback(ctx context.Context, xid Xid) error

	// SameRM reports whether other is backed by the same underlying
	// resource manager as this handle. The coordinator treats a probe
	// error as "not the same".
	SameRM(other ResourceManager) (bool, error)
}

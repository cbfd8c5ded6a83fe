package tx

// Synchronization is notified immediately before and immediately after the
// coordinator's terminal decision. Surrounding runtimes use it to flush
// caches before completion and refresh them afterwards.
//
// An error from BeforeCompletion aborts the commit attempt before any branch
// work starts. An error from AfterCompletion propagates to the caller, but
// only after the terminal status has been recorded: a listener failure never
// reverses the decision, it only affects the caller's view of whether the
// completion callbacks ran cleanly.
type Synchronization interface {
	// BeforeCompletion runs before the commit protocol starts. It is not
	// invoked for a direct Rollback call.
	BeforeCompletion() error

	// AfterCompletion runs after the transaction reaches a terminal
	// status, which is passed as the argument.
	AfterCompletion(status Status) error
}

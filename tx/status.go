package tx

// Status is the coordinator's position in the commit/rollback state machine.
//
// Normal flow:
//
//	Active -> Preparing -> Prepared -> Committing -> Committed
//
// Abort flow:
//
//	Active -> [MarkedRollback] -> RollingBack -> RolledBack
//
// The one-phase optimization goes Active -> Committing directly. Committed
// and RolledBack are terminal.
type Status int

const (
	// StatusActive is the initial state; enlistment, delistment and
	// synchronization registration are only allowed here.
	StatusActive Status = iota

	// StatusMarkedRollback means the transaction may no longer commit;
	// a commit request is turned into a rollback.
	StatusMarkedRollback

	// StatusPreparing means prepare calls are being issued to branches.
	StatusPreparing

	// StatusPrepared means every branch voted yes.
	StatusPrepared

	// StatusCommitting means commit calls are being issued to branches.
	StatusCommitting

	// StatusCommitted is terminal: the transaction committed.
	StatusCommitted

	// StatusRollingBack means rollback calls are being issued to branches.
	StatusRollingBack

	// StatusRolledBack is terminal: the transaction rolled back.
	StatusRolledBack
)

var statusNames = map[Status]string{
	StatusActive:         "ACTIVE",
	StatusMarkedRollback: "MARKED_ROLLBACK",
	StatusPreparing:      "PREPARING",
	StatusPrepared:       "PREPARED",
	StatusCommitting:     "COMMITTING",
	StatusCommitted:      "COMMITTED",
	StatusRollingBack:    "ROLLING_BACK",
	StatusRolledBack:     "ROLLED_BACK",
}

// String returns the conventional upper-case name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

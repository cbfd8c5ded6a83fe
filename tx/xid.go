package tx

import (
	"encoding/binary"
	"fmt"
)

// Xid identifies one branch of a distributed transaction.
//
// An Xid is the correlation token passed to resource managers on every
// protocol call. It is an immutable value type: the three components are
// fixed at construction, equality covers all of them, and an Xid can be
// used directly as a map key.
//
// All branches of one transaction share the same global transaction id;
// the branch qualifier distinguishes branches within the transaction.
type Xid struct {
	formatID int32
	gtrid    string
	bqual    string
}

// NewGlobalXid builds the transaction-level identifier for a new unit of
// work.
//
// The global transaction id is the node id followed by the big-endian
// encoding of globalSeq, so ids from concurrently active transactions never
// collide as long as (nodeID, globalSeq) pairs are unique. The branch
// qualifier is left empty; branch xids are derived with NewBranchXid.
func NewGlobalXid(nodeID []byte, formatID int32, globalSeq uint32) Xid {
	gtrid := make([]byte, len(nodeID)+4)
	copy(gtrid, nodeID)
	binary.BigEndian.PutUint32(gtrid[len(nodeID):], globalSeq)
	return Xid{
		formatID: formatID,
		gtrid:    string(gtrid),
	}
}

// NewBranchXid builds a branch identifier sharing an existing global
// transaction id.
//
// branchSeq must be unique among the branches of one transaction; it becomes
// the branch qualifier (big-endian encoded).
func NewBranchXid(branchSeq uint32, formatID int32, gtrid []byte) Xid {
	var bqual [4]byte
	binary.BigEndian.PutUint32(bqual[:], branchSeq)
	return Xid{
		formatID: formatID,
		gtrid:    string(gtrid),
		bqual:    string(bqual[:]),
	}
}

// FormatID returns the format identifier component.
func (x Xid) FormatID() int32 {
	return x.formatID
}

// GlobalTransactionID returns a copy of the global transaction id bytes.
func (x Xid) GlobalTransactionID() []byte {
	return []byte(x.gtrid)
}

// BranchQualifier returns a copy of the branch qualifier bytes.
func (x Xid) BranchQualifier() []byte {
	return []byte(x.bqual)
}

// String renders the xid as formatID:gtrid:bqual with the byte components
// in hex. Intended for diagnostics only.
func (x Xid) String() string {
	return fmt.Sprintf("%d:%x:%x", x.formatID, x.gtrid, x.bqual)
}

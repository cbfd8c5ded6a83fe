// Package txid provides process-wide identifier state for building globally
// unique transaction and branch identifiers.
//
// Each process gets a random 16-byte node id (generated once, on first use)
// and a monotonically increasing global sequence counter. Together they
// guarantee that the global transaction ids of concurrently active
// transactions never collide, within a process or across processes.
//
// The state is initialized exactly once and never reset for the lifetime of
// the process.
package txid

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	initOnce  sync.Once
	nodeID    [16]byte
	globalSeq atomic.Uint32
)

func ensureInit() {
	initOnce.Do(func() {
		nodeID = uuid.New()
	})
}

// NodeID returns a copy of the process-wide random node id.
//
// The id is generated on first call and remains stable for the lifetime of
// the process.
func NodeID() []byte {
	ensureInit()
	id := make([]byte, len(nodeID))
	copy(id, nodeID[:])
	return id
}

// NextGlobalSequence returns the next value of the process-wide transaction
// sequence counter. The counter starts at 1 and is never reset.
func NextGlobalSequence() uint32 {
	ensureInit()
	return globalSeq.Add(1)
}

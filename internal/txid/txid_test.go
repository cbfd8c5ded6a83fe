package txid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeID_Stable(t *testing.T) {
	a := NodeID()
	b := NodeID()

	require.Len(t, a, 16)
	require.Equal(t, a, b, "node id must be stable within a process")
}

func TestNodeID_ReturnsCopy(t *testing.T) {
	a := NodeID()
	a[0] ^= 0xFF

	b := NodeID()
	require.NotEqual(t, a[0], b[0], "mutating the returned slice must not affect process state")
}

func TestNextGlobalSequence_Monotonic(t *testing.T) {
	prev := NextGlobalSequence()
	for i := 0; i < 100; i++ {
		next := NextGlobalSequence()
		require.Greater(t, next, prev)
		prev = next
	}
}

// Package memres provides an in-memory key/value resource manager that
// participates in coordinated transactions.
//
// A Store holds committed state and hands out Resource handles implementing
// tx.ResourceManager. Writes made through a handle are staged per branch and
// only reach the store when the coordinator commits the branch; a rollback
// discards them. Branches survive suspend/resume, and handles of one store
// report each other as the same resource manager, so the coordinator joins
// them instead of treating them as distinct participants.
//
// The package is used by the txctl simulator and the runnable examples, and
// doubles as a realistic protocol implementation in tests. It is not a
// database: state lives in process memory only.
package memres

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshuapare/txkit/tx"
)

// branchPhase tracks where a branch is in its lifecycle.
type branchPhase int

const (
	phaseActive branchPhase = iota
	phaseSuspended
	phaseEnded
	phaseFailed
	phasePrepared
)

// branchState is the staged write set of one branch. A nil value marks a
// staged delete.
type branchState struct {
	phase  branchPhase
	writes map[string]*string
}

// Store is a concurrency-safe in-memory key/value store with two-phase
// commit semantics. Create handles with Resource to enlist it in a
// transaction.
type Store struct {
	name string

	mu       sync.Mutex
	data     map[string]string
	branches map[tx.Xid]*branchState
}

// NewStore creates an empty store. The name shows up in diagnostics.
func NewStore(name string) *Store {
	return &Store{
		name:     name,
		data:     make(map[string]string),
		branches: make(map[tx.Xid]*branchState),
	}
}

// Name returns the store's diagnostic name.
func (s *Store) Name() string {
	return s.name
}

// Get returns the committed value for key. Staged writes of open branches
// are not visible.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Resource creates a new handle for enlisting this store in a transaction.
// Handles of the same store report each other as the same resource manager.
func (s *Store) Resource() *Resource {
	return &Resource{store: s}
}

// Resource is one enlistable handle on a Store. It implements
// tx.ResourceManager.
//
// A handle drives at most one branch at a time; the staged state itself
// lives in the store, keyed by xid, so a branch suspended through one handle
// can be resumed through another.
//
// The Fail* fields inject faults for tests and the simulator: a non-nil
// error is returned from the corresponding protocol call.
type Resource struct {
	store *Store

	mu       sync.Mutex
	current  tx.Xid
	attached bool

	FailPrepare  error
	FailCommit   error
	FailRollback error
}

// String implements fmt.Stringer for coordinator log output.
func (r *Resource) String() string {
	return "memres(" + r.store.name + ")"
}

// Start implements tx.ResourceManager. TMNoFlags and TMJoin open a fresh
// staging area for the branch; TMResume reattaches one parked by a TMSuspend
// end.
func (r *Resource) Start(ctx context.Context, xid tx.Xid, flags tx.Flags) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return &tx.XAError{Code: tx.CodeERProto, Err: fmt.Errorf("handle already driving branch %s", r.current)}
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case flags&tx.TMResume != 0:
		b, ok := s.branches[xid]
		if !ok || b.phase != phaseSuspended {
			return &tx.XAError{Code: tx.CodeERProto, Err: fmt.Errorf("branch %s is not suspended", xid)}
		}
		b.phase = phaseActive
	default:
		if _, ok := s.branches[xid]; ok {
			return &tx.XAError{Code: tx.CodeERDupID, Err: fmt.Errorf("branch %s already exists", xid)}
		}
		s.branches[xid] = &branchState{
			phase:  phaseActive,
			writes: make(map[string]*string),
		}
	}

	r.current = xid
	r.attached = true
	return nil
}

// End implements tx.ResourceManager. TMSuspend parks the branch for a later
// resume, TMFail marks its work as doomed, anything else closes it normally.
func (r *Resource) End(ctx context.Context, xid tx.Xid, flags tx.Flags) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached || r.current != xid {
		return &tx.XAError{Code: tx.CodeERProto, Err: fmt.Errorf("handle is not driving branch %s", xid)}
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[xid]
	if !ok {
		return &tx.XAError{Code: tx.CodeERNotA}
	}
	switch {
	case flags&tx.TMSuspend != 0:
		b.phase = phaseSuspended
	case flags&tx.TMFail != 0:
		b.phase = phaseFailed
	default:
		b.phase = phaseEnded
	}

	r.attached = false
	return nil
}

// Prepare implements tx.ResourceManager. A branch whose work was ended with
// TMFail votes no with a rollback cause; everything else votes yes. An empty
// write set is still a yes vote (the read-only classification is a logging
// concern, not a protocol signal).
func (r *Resource) Prepare(ctx context.Context, xid tx.Xid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.FailPrepare != nil {
		return r.FailPrepare
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[xid]
	if !ok {
		return &tx.XAError{Code: tx.CodeERNotA, Err: fmt.Errorf("unknown branch %s", xid)}
	}
	if b.phase == phaseFailed {
		delete(s.branches, xid)
		return &tx.XAError{Code: tx.CodeRBRollback, Err: fmt.Errorf("branch %s was marked failed", xid)}
	}

	b.phase = phasePrepared
	return nil
}

// Commit implements tx.ResourceManager. With onePhase the prepare decision
// and the commit happen as one step; a failure then means the branch has
// been rolled back.
func (r *Resource) Commit(ctx context.Context, xid tx.Xid, onePhase bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[xid]
	if !ok {
		return &tx.XAError{Code: tx.CodeERNotA, Err: fmt.Errorf("unknown branch %s", xid)}
	}
	if r.FailCommit != nil {
		if onePhase {
			// One-phase failure semantics: the branch rolls back.
			delete(s.branches, xid)
		}
		return r.FailCommit
	}
	if !onePhase && b.phase != phasePrepared {
		return &tx.XAError{Code: tx.CodeERProto, Err: fmt.Errorf("branch %s was never prepared", xid)}
	}
	if b.phase == phaseFailed {
		delete(s.branches, xid)
		return &tx.XAError{Code: tx.CodeRBRollback, Err: fmt.Errorf("branch %s was marked failed", xid)}
	}

	for key, value := range b.writes {
		if value == nil {
			delete(s.data, key)
		} else {
			s.data[key] = *value
		}
	}
	delete(s.branches, xid)
	return nil
}

// Rollback implements tx.ResourceManager: the branch's staged writes are
// discarded.
func (r *Resource) Rollback(ctx context.Context, xid tx.Xid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.FailRollback != nil {
		return r.FailRollback
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[xid]; !ok {
		return &tx.XAError{Code: tx.CodeERNotA, Err: fmt.Errorf("unknown branch %s", xid)}
	}
	delete(s.branches, xid)
	return nil
}

// SameRM implements tx.ResourceManager: handles of the same Store are the
// same resource manager.
func (r *Resource) SameRM(other tx.ResourceManager) (bool, error) {
	o, ok := other.(*Resource)
	if !ok {
		return false, nil
	}
	return o.store == r.store, nil
}

// Set stages a write on the handle's active branch.
func (r *Resource) Set(key, value string) error {
	return r.withActiveBranch(func(b *branchState) {
		b.writes[key] = &value
	})
}

// Delete stages a delete on the handle's active branch.
func (r *Resource) Delete(key string) error {
	return r.withActiveBranch(func(b *branchState) {
		b.writes[key] = nil
	})
}

// Lookup reads through the handle's active branch: staged writes shadow
// committed state.
func (r *Resource) Lookup(key string) (string, bool, error) {
	var value string
	var found bool
	err := r.withActiveBranch(func(b *branchState) {
		if staged, ok := b.writes[key]; ok {
			if staged != nil {
				value, found = *staged, true
			}
			return
		}
		value, found = r.store.data[key]
	})
	return value, found, err
}

// withActiveBranch runs fn on the staging area of the handle's current
// branch with the store lock held.
func (r *Resource) withActiveBranch(fn func(*branchState)) error {
	r.mu.Lock()
	attached, xid := r.attached, r.current
	r.mu.Unlock()
	if !attached {
		return fmt.Errorf("memres: handle has no active branch")
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[xid]
	if !ok || b.phase != phaseActive {
		return fmt.Errorf("memres: branch %s is not active", xid)
	}
	fn(b)
	return nil
}

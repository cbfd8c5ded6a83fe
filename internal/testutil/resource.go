// Package testutil provides scriptable test doubles for the transaction
// coordinator: a resource manager that records every protocol call and can
// be told to fail any of them, and a synchronization listener that records
// the completion callbacks it receives.
package testutil

import (
	"context"
	"sync"

	"github.com/joshuapare/txkit/tx"
)

// Journal is an ordered log of protocol calls shared by several Resources,
// for asserting cross-resource call ordering.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries returns the recorded "<resource>:<op>" entries in order.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Call records one protocol call issued to a Resource.
type Call struct {
	Op       string // "start", "end", "prepare", "commit", "rollback"
	Xid      tx.Xid
	Flags    tx.Flags
	OnePhase bool
}

// Resource is a scriptable tx.ResourceManager. The zero value is usable; a
// nil error field means the corresponding call succeeds.
type Resource struct {
	mu sync.Mutex

	// Name shows up in coordinator log output and test failure messages.
	Name string

	// Calls records every protocol call in order.
	Calls []Call

	// Scripted failures, one per operation.
	StartErr    error
	EndErr      error
	PrepareErr  error
	CommitErr   error
	RollbackErr error

	// SameAs lists resources this one reports as the same underlying
	// resource manager. SameRMErr, when set, makes every probe fail.
	SameAs    []*Resource
	SameRMErr error

	// Journal, when set, receives "<name>:<op>" entries alongside Calls.
	Journal *Journal
}

// NewResource creates a named scriptable resource.
func NewResource(name string) *Resource {
	return &Resource{Name: name}
}

// String implements fmt.Stringer for readable log output.
func (r *Resource) String() string {
	return r.Name
}

func (r *Resource) record(c Call) {
	r.mu.Lock()
	r.Calls = append(r.Calls, c)
	journal := r.Journal
	r.mu.Unlock()
	if journal != nil {
		journal.add(r.Name + ":" + c.Op)
	}
}

// Start implements tx.ResourceManager.
func (r *Resource) Start(_ context.Context, xid tx.Xid, flags tx.Flags) error {
	r.record(Call{Op: "start", Xid: xid, Flags: flags})
	return r.StartErr
}

// End implements tx.ResourceManager.
func (r *Resource) End(_ context.Context, xid tx.Xid, flags tx.Flags) error {
	r.record(Call{Op: "end", Xid: xid, Flags: flags})
	return r.EndErr
}

// Prepare implements tx.ResourceManager.
func (r *Resource) Prepare(_ context.Context, xid tx.Xid) error {
	r.record(Call{Op: "prepare", Xid: xid})
	return r.PrepareErr
}

// Commit implements tx.ResourceManager.
func (r *Resource) Commit(_ context.Context, xid tx.Xid, onePhase bool) error {
	r.record(Call{Op: "commit", Xid: xid, OnePhase: onePhase})
	return r.CommitErr
}

// Rollback implements tx.ResourceManager.
func (r *Resource) Rollback(_ context.Context, xid tx.Xid) error {
	r.record(Call{Op: "rollback", Xid: xid})
	return r.RollbackErr
}

// SameRM implements tx.ResourceManager.
func (r *Resource) SameRM(other tx.ResourceManager) (bool, error) {
	if r.SameRMErr != nil {
		return false, r.SameRMErr
	}
	for _, same := range r.SameAs {
		if tx.ResourceManager(same) == other {
			return true, nil
		}
	}
	return false, nil
}

// Ops returns just the operation names of the recorded calls, in order.
func (r *Resource) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		ops[i] = c.Op
	}
	return ops
}

// LastCall returns the most recent recorded call. It panics if no call was
// recorded; tests should assert on Calls length first.
func (r *Resource) LastCall() Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[len(r.Calls)-1]
}

// Sync is a recording tx.Synchronization. The zero value is usable.
type Sync struct {
	// Name distinguishes listeners when several are registered.
	Name string

	// Events records "before" and "after:<STATUS>" entries in order.
	Events []string

	// Scripted failures.
	BeforeErr error
	AfterErr  error
}

// BeforeCompletion implements tx.Synchronization.
func (s *Sync) BeforeCompletion() error {
	s.Events = append(s.Events, "before")
	return s.BeforeErr
}

// AfterCompletion implements tx.Synchronization.
func (s *Sync) AfterCompletion(status tx.Status) error {
	s.Events = append(s.Events, "after:"+status.String())
	return s.AfterErr
}

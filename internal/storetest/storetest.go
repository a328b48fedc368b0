// Package storetest provides test doubles and fixtures shared by the
// engine and cli tests: an instrumented store that records the order of
// capability calls, failure injection per application, and a canonical
// fixture snapshot.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

// Op is one recorded capability call.
type Op struct {
	Name string
	Key  string
}

func (o Op) String() string {
	if o.Key == "" {
		return o.Name
	}
	return o.Name + " " + o.Key
}

// RecordingStore wraps a StateStore and appends every call to Ops before
// delegating. FailApplications injects a write error for a specific
// application id (on the record write and on its attempts) to exercise
// the engine's fail-fast and best-effort policies.
type RecordingStore struct {
	Inner store.StateStore

	mu               sync.Mutex
	ops              []Op
	closeCount       int
	FailApplications map[model.ApplicationID]error
}

var _ store.StateStore = (*RecordingStore)(nil)

// NewRecording wraps inner.
func NewRecording(inner store.StateStore) *RecordingStore {
	return &RecordingStore{Inner: inner}
}

// Ops returns a copy of the recorded calls in order.
func (r *RecordingStore) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// IndexOf returns the position of the first recorded call matching name
// and key, or -1.
func (r *RecordingStore) IndexOf(name, key string) int {
	for i, op := range r.Ops() {
		if op.Name == name && op.Key == key {
			return i
		}
	}
	return -1
}

// CloseCount returns how many times Close was called.
func (r *RecordingStore) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCount
}

func (r *RecordingStore) record(name, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Name: name, Key: key})
}

func (r *RecordingStore) failureFor(id model.ApplicationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FailApplications[id]
}

func (r *RecordingStore) StoreVersion(ctx context.Context) error {
	r.record("StoreVersion", "")
	return r.Inner.StoreVersion(ctx)
}

func (r *RecordingStore) LoadState(ctx context.Context) (*model.Snapshot, error) {
	r.record("LoadState", "")
	return r.Inner.LoadState(ctx)
}

func (r *RecordingStore) StoreApplication(ctx context.Context, app model.ApplicationRecord) error {
	r.record("StoreApplication", app.ID.String())
	if err := r.failureFor(app.ID); err != nil {
		return store.NewWriteError(store.KindMemory, "application", app.ID.String(), err)
	}
	return r.Inner.StoreApplication(ctx, app)
}

func (r *RecordingStore) StoreAttempt(ctx context.Context, attempt model.AttemptRecord) error {
	r.record("StoreAttempt", attempt.ID.String())
	if err := r.failureFor(attempt.ID.ApplicationID); err != nil {
		return store.NewWriteError(store.KindMemory, "attempt", attempt.ID.String(), err)
	}
	return r.Inner.StoreAttempt(ctx, attempt)
}

func (r *RecordingStore) StoreAMRMTokenState(ctx context.Context, state model.AMRMTokenState, isUpdate bool) error {
	r.record("StoreAMRMTokenState", "")
	return r.Inner.StoreAMRMTokenState(ctx, state, isUpdate)
}

func (r *RecordingStore) StoreDelegationKey(ctx context.Context, key model.MasterKey) error {
	r.record("StoreDelegationKey", fmt.Sprint(key.ID))
	return r.Inner.StoreDelegationKey(ctx, key)
}

func (r *RecordingStore) StoreDelegationToken(ctx context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error {
	r.record("StoreDelegationToken", fmt.Sprint(seq))
	return r.Inner.StoreDelegationToken(ctx, token, renewDate, seq)
}

func (r *RecordingStore) StoreDelegationSequenceNumber(ctx context.Context, seq int64) error {
	r.record("StoreDelegationSequenceNumber", fmt.Sprint(seq))
	return r.Inner.StoreDelegationSequenceNumber(ctx, seq)
}

func (r *RecordingStore) Close() error {
	r.mu.Lock()
	r.closeCount++
	r.mu.Unlock()
	return r.Inner.Close()
}

// Package store defines the capability contract every state store backend
// implements, the backend registry that resolves operator-facing nicknames
// to implementations, and the structured errors the migration engine
// reports on.
package store

import (
	"context"
	"fmt"

	"github.com/roach88/statecopy/internal/model"
)

// Kind is the operator-facing nickname of a store backend.
type Kind string

const (
	// KindFS persists state as a JSON file tree.
	KindFS Kind = "fs"

	// KindZK persists state as a ZooKeeper znode tree.
	KindZK Kind = "zk"

	// KindMemory holds state in process memory. Useful for tests and for
	// staging a snapshot without touching durable storage.
	KindMemory Kind = "mem"

	// KindNull discards all writes and loads empty state.
	KindNull Kind = "null"

	// KindSQL persists state in a local SQLite database.
	KindSQL Kind = "sql"
)

// Kinds returns every conventional nickname in display order, for usage
// messages and registry wiring.
func Kinds() []Kind {
	return []Kind{KindFS, KindMemory, KindNull, KindSQL, KindZK}
}

// ParseKind validates an operator-supplied nickname.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if Kind(s) == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid store nickname %q: allowed values are %v", s, Kinds())
}

// StateStore is the uniform capability contract over store backends. The
// migration engine consumes it without knowing anything about physical
// layout.
//
// Write operations target a destination that starts empty: they are
// fresh-store writes, not updates. StoreVersion must be called before any
// data-bearing write so a crashed run leaves a destination recognizable
// as versioned-but-incomplete rather than never-touched.
type StateStore interface {
	// StoreVersion stamps the store with CurrentVersion.
	StoreVersion(ctx context.Context) error

	// LoadState reads the store's entire contents into a snapshot. A
	// store that was never written to returns an empty snapshot, not an
	// error.
	LoadState(ctx context.Context) (*model.Snapshot, error)

	// StoreApplication writes one application record.
	StoreApplication(ctx context.Context, app model.ApplicationRecord) error

	// StoreAttempt writes one attempt record. The parent application
	// must already exist in the store.
	StoreAttempt(ctx context.Context, attempt model.AttemptRecord) error

	// StoreAMRMTokenState overwrites the single AM-RM token secret
	// state. isUpdate distinguishes update-in-place from fresh write for
	// backends that care; the migration engine always passes false.
	StoreAMRMTokenState(ctx context.Context, state model.AMRMTokenState, isUpdate bool) error

	// StoreDelegationKey writes one master signing key.
	StoreDelegationKey(ctx context.Context, key model.MasterKey) error

	// StoreDelegationToken writes one issued token with its renewal
	// deadline and the sequence number it was minted under.
	StoreDelegationToken(ctx context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error

	// StoreDelegationSequenceNumber stamps the running sequence counter.
	// The engine calls this last in the delegation phase so the
	// destination's counter ends at the source's high-water mark.
	StoreDelegationSequenceNumber(ctx context.Context, seq int64) error

	// Close releases backend resources. Idempotent. Close does not roll
	// back writes.
	Close() error
}

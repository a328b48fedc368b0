// Package null implements the no-op state store: writes are discarded
// and loads return empty state. Useful for timing a source read or
// exercising the replay path without a real destination.
package null

import (
	"context"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

// Store discards everything.
type Store struct{}

var _ store.StateStore = (*Store)(nil)

// Open is the registry factory.
func Open(_ *config.Config) (store.StateStore, error) {
	return &Store{}, nil
}

func (*Store) StoreVersion(context.Context) error { return nil }

func (*Store) LoadState(context.Context) (*model.Snapshot, error) {
	return model.NewSnapshot(), nil
}

func (*Store) StoreApplication(context.Context, model.ApplicationRecord) error { return nil }

func (*Store) StoreAttempt(context.Context, model.AttemptRecord) error { return nil }

func (*Store) StoreAMRMTokenState(context.Context, model.AMRMTokenState, bool) error { return nil }

func (*Store) StoreDelegationKey(context.Context, model.MasterKey) error { return nil }

func (*Store) StoreDelegationToken(context.Context, model.DelegationTokenID, int64, int64) error {
	return nil
}

func (*Store) StoreDelegationSequenceNumber(context.Context, int64) error { return nil }

func (*Store) Close() error { return nil }

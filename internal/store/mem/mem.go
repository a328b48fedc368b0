// Package mem implements the in-memory state store. It backs tests and
// lets an operator stage a snapshot without touching durable storage.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

// Store holds state in process memory. Safe for concurrent use, though a
// migration drives it from a single goroutine.
type Store struct {
	mu      sync.Mutex
	version *store.Version
	state   *model.Snapshot
	closed  bool
}

var _ store.StateStore = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{state: model.NewSnapshot()}
}

// Open is the registry factory.
func Open(_ *config.Config) (store.StateStore, error) {
	return New(), nil
}

// Version returns the stamped version marker, or nil if StoreVersion was
// never called. Test hook.
func (s *Store) Version() *store.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) StoreVersion(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return err
	}
	v := store.CurrentVersion
	s.version = &v
	return nil
}

func (s *Store) LoadState(_ context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return nil, store.NewLoadError(store.KindMemory, err)
	}
	return s.state.Clone(), nil
}

func (s *Store) StoreApplication(_ context.Context, app model.ApplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "application", app.ID.String(), err)
	}
	s.state.Applications[app.ID] = &model.ApplicationState{Record: app}
	return nil
}

func (s *Store) StoreAttempt(_ context.Context, attempt model.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "attempt", attempt.ID.String(), err)
	}
	app, ok := s.state.Applications[attempt.ID.ApplicationID]
	if !ok {
		return store.NewWriteError(store.KindMemory, "attempt", attempt.ID.String(),
			fmt.Errorf("parent application %s not stored", attempt.ID.ApplicationID))
	}
	for i, existing := range app.Attempts {
		if existing.ID == attempt.ID {
			app.Attempts[i] = attempt
			return nil
		}
	}
	app.Attempts = append(app.Attempts, attempt)
	return nil
}

func (s *Store) StoreAMRMTokenState(_ context.Context, state model.AMRMTokenState, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "amrm-token-state", "", err)
	}
	s.state.AMRMToken = state
	return nil
}

func (s *Store) StoreDelegationKey(_ context.Context, key model.MasterKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "delegation-key", fmt.Sprint(key.ID), err)
	}
	keys := s.state.DelegationTokens.MasterKeys
	for i, existing := range keys {
		if existing.ID == key.ID {
			keys[i] = key
			return nil
		}
	}
	s.state.DelegationTokens.MasterKeys = append(keys, key)
	return nil
}

func (s *Store) StoreDelegationToken(_ context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "delegation-token", fmt.Sprint(seq), err)
	}
	s.state.DelegationTokens.Tokens[token] = renewDate
	if seq > s.state.DelegationTokens.SequenceNumber {
		s.state.DelegationTokens.SequenceNumber = seq
	}
	return nil
}

func (s *Store) StoreDelegationSequenceNumber(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.live(); err != nil {
		return store.NewWriteError(store.KindMemory, "delegation-sequence", fmt.Sprint(seq), err)
	}
	s.state.DelegationTokens.SequenceNumber = seq
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) live() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

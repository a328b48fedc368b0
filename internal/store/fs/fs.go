// Package fs implements the file-tree state store. Every entity is one
// JSON file under a fixed directory layout, so the store stays readable
// with nothing but ls and cat:
//
//	<root>/version.json
//	<root>/applications/<application id>/application.json
//	<root>/applications/<application id>/<attempt id>.json
//	<root>/amrm/state.json
//	<root>/delegation/keys/key_<id>.json
//	<root>/delegation/tokens/token_<seq>.json
//	<root>/delegation/sequence.json
//
// Files are written to a temp name and renamed into place, so a reader
// never observes a half-written entity.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

const (
	versionFile   = "version.json"
	appsDir       = "applications"
	appFile       = "application.json"
	amrmDir       = "amrm"
	amrmFile      = "state.json"
	delegationDir = "delegation"
	keysDir       = "keys"
	tokensDir     = "tokens"
	sequenceFile  = "sequence.json"
)

// Store is the file-tree backend rooted at one directory.
type Store struct {
	root string
}

var _ store.StateStore = (*Store)(nil)

// Open is the registry factory. The root directory is created if absent.
func Open(cfg *config.Config) (store.StateStore, error) {
	if cfg.FS.Root == "" {
		return nil, store.NewConfigError(store.KindFS, errors.New("fs.root is not set"))
	}
	if err := os.MkdirAll(cfg.FS.Root, 0o755); err != nil {
		return nil, store.NewInitError(store.KindFS, err)
	}
	return &Store{root: cfg.FS.Root}, nil
}

func (s *Store) StoreVersion(_ context.Context) error {
	if err := s.writeJSON(filepath.Join(s.root, versionFile), store.CurrentVersion); err != nil {
		return store.NewWriteError(store.KindFS, "version", store.CurrentVersion.String(), err)
	}
	return nil
}

func (s *Store) StoreApplication(_ context.Context, app model.ApplicationRecord) error {
	path := filepath.Join(s.root, appsDir, app.ID.String(), appFile)
	if err := s.writeJSON(path, app); err != nil {
		return store.NewWriteError(store.KindFS, "application", app.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAttempt(_ context.Context, attempt model.AttemptRecord) error {
	appDir := filepath.Join(s.root, appsDir, attempt.ID.ApplicationID.String())
	if _, err := os.Stat(filepath.Join(appDir, appFile)); err != nil {
		return store.NewWriteError(store.KindFS, "attempt", attempt.ID.String(),
			fmt.Errorf("parent application %s not stored: %w", attempt.ID.ApplicationID, err))
	}
	path := filepath.Join(appDir, attempt.ID.String()+".json")
	if err := s.writeJSON(path, attempt); err != nil {
		return store.NewWriteError(store.KindFS, "attempt", attempt.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAMRMTokenState(_ context.Context, state model.AMRMTokenState, _ bool) error {
	path := filepath.Join(s.root, amrmDir, amrmFile)
	if err := s.writeJSON(path, state); err != nil {
		return store.NewWriteError(store.KindFS, "amrm-token-state", "", err)
	}
	return nil
}

func (s *Store) StoreDelegationKey(_ context.Context, key model.MasterKey) error {
	path := filepath.Join(s.root, delegationDir, keysDir, fmt.Sprintf("key_%d.json", key.ID))
	if err := s.writeJSON(path, key); err != nil {
		return store.NewWriteError(store.KindFS, "delegation-key", fmt.Sprint(key.ID), err)
	}
	return nil
}

// tokenRecord pairs a token identifier with its renewal deadline in one
// file; the sequence number is part of the identifier.
type tokenRecord struct {
	Token     model.DelegationTokenID `json:"token"`
	RenewDate int64                   `json:"renew_date"`
}

func (s *Store) StoreDelegationToken(_ context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error {
	path := filepath.Join(s.root, delegationDir, tokensDir, fmt.Sprintf("token_%d.json", seq))
	if err := s.writeJSON(path, tokenRecord{Token: token, RenewDate: renewDate}); err != nil {
		return store.NewWriteError(store.KindFS, "delegation-token", fmt.Sprint(seq), err)
	}
	return nil
}

type sequenceRecord struct {
	SequenceNumber int64 `json:"sequence_number"`
}

func (s *Store) StoreDelegationSequenceNumber(_ context.Context, seq int64) error {
	path := filepath.Join(s.root, delegationDir, sequenceFile)
	if err := s.writeJSON(path, sequenceRecord{SequenceNumber: seq}); err != nil {
		return store.NewWriteError(store.KindFS, "delegation-sequence", fmt.Sprint(seq), err)
	}
	return nil
}

// Close releases nothing: the backend holds no descriptors between
// operations.
func (s *Store) Close() error { return nil }

// writeJSON marshals v and renames it into place atomically.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) LoadState(_ context.Context) (*model.Snapshot, error) {
	snap := model.NewSnapshot()

	if err := s.loadApplications(snap); err != nil {
		return nil, store.NewLoadError(store.KindFS, err)
	}
	if err := s.loadAMRMState(snap); err != nil {
		return nil, store.NewLoadError(store.KindFS, err)
	}
	if err := s.loadDelegationState(snap); err != nil {
		return nil, store.NewLoadError(store.KindFS, err)
	}
	return snap, nil
}

func (s *Store) loadApplications(snap *model.Snapshot) error {
	dir := filepath.Join(s.root, appsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := model.ParseApplicationID(entry.Name())
		if err != nil {
			return fmt.Errorf("application directory %s: %w", entry.Name(), err)
		}
		state, err := s.loadApplication(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("application %s: %w", id, err)
		}
		snap.Applications[id] = state
	}
	return nil
}

func (s *Store) loadApplication(dir string) (*model.ApplicationState, error) {
	state := &model.ApplicationState{}
	if err := readJSON(filepath.Join(dir, appFile), &state.Record); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == appFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		var attempt model.AttemptRecord
		if err := readJSON(filepath.Join(dir, name), &attempt); err != nil {
			return nil, fmt.Errorf("attempt file %s: %w", name, err)
		}
		state.Attempts = append(state.Attempts, attempt)
	}
	model.SortAttempts(state.Attempts)
	return state, nil
}

func (s *Store) loadAMRMState(snap *model.Snapshot) error {
	err := readJSON(filepath.Join(s.root, amrmDir, amrmFile), &snap.AMRMToken)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) loadDelegationState(snap *model.Snapshot) error {
	keyEntries, err := os.ReadDir(filepath.Join(s.root, delegationDir, keysDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, entry := range keyEntries {
		var key model.MasterKey
		if err := readJSON(filepath.Join(s.root, delegationDir, keysDir, entry.Name()), &key); err != nil {
			return fmt.Errorf("delegation key file %s: %w", entry.Name(), err)
		}
		snap.DelegationTokens.MasterKeys = append(snap.DelegationTokens.MasterKeys, key)
	}
	model.SortMasterKeys(snap.DelegationTokens.MasterKeys)

	tokenEntries, err := os.ReadDir(filepath.Join(s.root, delegationDir, tokensDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, entry := range tokenEntries {
		var rec tokenRecord
		if err := readJSON(filepath.Join(s.root, delegationDir, tokensDir, entry.Name()), &rec); err != nil {
			return fmt.Errorf("delegation token file %s: %w", entry.Name(), err)
		}
		snap.DelegationTokens.Tokens[rec.Token] = rec.RenewDate
	}

	var seq sequenceRecord
	err = readJSON(filepath.Join(s.root, delegationDir, sequenceFile), &seq)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	snap.DelegationTokens.SequenceNumber = seq.SequenceNumber
	return nil
}

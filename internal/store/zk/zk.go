// Package zk implements the ZooKeeper-backed state store. The znode tree
// mirrors the fs backend's file layout, with JSON payloads on the data
// nodes:
//
//	<chroot>/version
//	<chroot>/applications/<application id>
//	<chroot>/applications/<application id>/<attempt id>
//	<chroot>/amrm
//	<chroot>/delegation/keys/key_<id>
//	<chroot>/delegation/tokens/token_<seq>
//	<chroot>/delegation/sequence
//
// Attempt nodes are children of their application node, so ZooKeeper
// itself rejects an attempt written before its parent.
package zk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	gozk "github.com/go-zookeeper/zk"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

const (
	versionNode     = "version"
	appsNode        = "applications"
	amrmNode        = "amrm"
	delegationNode  = "delegation"
	keysNode        = "keys"
	tokensNode      = "tokens"
	sequenceNode    = "sequence"
	keyNodePrefix   = "key_"
	tokenNodePrefix = "token_"
)

// conn is the slice of the ZooKeeper client the store uses. Narrowing the
// dependency keeps the store testable without a server.
type conn interface {
	Create(path string, data []byte, flags int32, acl []gozk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*gozk.Stat, error)
	Exists(path string) (bool, *gozk.Stat, error)
	Get(path string) ([]byte, *gozk.Stat, error)
	Children(path string) ([]string, *gozk.Stat, error)
	Close()
}

// Store is the ZooKeeper backend rooted at one chroot path.
type Store struct {
	conn   conn
	root   string
	closed bool
}

var _ store.StateStore = (*Store)(nil)

// Open is the registry factory. It dials the ensemble and ensures the
// chroot node exists.
func Open(cfg *config.Config) (store.StateStore, error) {
	if len(cfg.ZK.Servers) == 0 {
		return nil, store.NewConfigError(store.KindZK, errors.New("zk.servers is not set"))
	}
	if !strings.HasPrefix(cfg.ZK.Chroot, "/") {
		return nil, store.NewConfigError(store.KindZK, fmt.Errorf("zk.chroot %q must be absolute", cfg.ZK.Chroot))
	}

	c, _, err := gozk.Connect(cfg.ZK.Servers, cfg.ZK.SessionTimeout, gozk.WithLogInfo(false))
	if err != nil {
		return nil, store.NewInitError(store.KindZK, err)
	}
	s := &Store{conn: c, root: cfg.ZK.Chroot}
	if err := s.ensurePath(s.root); err != nil {
		c.Close()
		return nil, store.NewInitError(store.KindZK, err)
	}
	return s, nil
}

func (s *Store) StoreVersion(_ context.Context) error {
	if err := s.setJSON(path.Join(s.root, versionNode), store.CurrentVersion); err != nil {
		return store.NewWriteError(store.KindZK, "version", store.CurrentVersion.String(), err)
	}
	return nil
}

func (s *Store) StoreApplication(_ context.Context, app model.ApplicationRecord) error {
	if err := s.ensurePath(path.Join(s.root, appsNode)); err != nil {
		return store.NewWriteError(store.KindZK, "application", app.ID.String(), err)
	}
	if err := s.setJSON(path.Join(s.root, appsNode, app.ID.String()), app); err != nil {
		return store.NewWriteError(store.KindZK, "application", app.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAttempt(_ context.Context, attempt model.AttemptRecord) error {
	// No ensurePath here: the parent application node must already
	// exist, and a missing parent surfaces as ErrNoNode.
	node := path.Join(s.root, appsNode, attempt.ID.ApplicationID.String(), attempt.ID.String())
	if err := s.setJSONStrict(node, attempt); err != nil {
		if errors.Is(err, gozk.ErrNoNode) {
			err = fmt.Errorf("parent application %s not stored: %w", attempt.ID.ApplicationID, err)
		}
		return store.NewWriteError(store.KindZK, "attempt", attempt.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAMRMTokenState(_ context.Context, state model.AMRMTokenState, _ bool) error {
	if err := s.setJSON(path.Join(s.root, amrmNode), state); err != nil {
		return store.NewWriteError(store.KindZK, "amrm-token-state", "", err)
	}
	return nil
}

func (s *Store) StoreDelegationKey(_ context.Context, key model.MasterKey) error {
	if err := s.ensurePath(path.Join(s.root, delegationNode, keysNode)); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-key", fmt.Sprint(key.ID), err)
	}
	node := path.Join(s.root, delegationNode, keysNode, fmt.Sprintf("%s%d", keyNodePrefix, key.ID))
	if err := s.setJSON(node, key); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-key", fmt.Sprint(key.ID), err)
	}
	return nil
}

type tokenRecord struct {
	Token     model.DelegationTokenID `json:"token"`
	RenewDate int64                   `json:"renew_date"`
}

func (s *Store) StoreDelegationToken(_ context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error {
	if err := s.ensurePath(path.Join(s.root, delegationNode, tokensNode)); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-token", fmt.Sprint(seq), err)
	}
	node := path.Join(s.root, delegationNode, tokensNode, fmt.Sprintf("%s%d", tokenNodePrefix, seq))
	if err := s.setJSON(node, tokenRecord{Token: token, RenewDate: renewDate}); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-token", fmt.Sprint(seq), err)
	}
	return nil
}

type sequenceRecord struct {
	SequenceNumber int64 `json:"sequence_number"`
}

func (s *Store) StoreDelegationSequenceNumber(_ context.Context, seq int64) error {
	if err := s.ensurePath(path.Join(s.root, delegationNode)); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-sequence", fmt.Sprint(seq), err)
	}
	node := path.Join(s.root, delegationNode, sequenceNode)
	if err := s.setJSON(node, sequenceRecord{SequenceNumber: seq}); err != nil {
		return store.NewWriteError(store.KindZK, "delegation-sequence", fmt.Sprint(seq), err)
	}
	return nil
}

// Close ends the session. Idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.Close()
	return nil
}

func (s *Store) LoadState(_ context.Context) (*model.Snapshot, error) {
	snap := model.NewSnapshot()

	if err := s.loadApplications(snap); err != nil {
		return nil, store.NewLoadError(store.KindZK, err)
	}
	if err := s.loadAMRMState(snap); err != nil {
		return nil, store.NewLoadError(store.KindZK, err)
	}
	if err := s.loadDelegationState(snap); err != nil {
		return nil, store.NewLoadError(store.KindZK, err)
	}
	return snap, nil
}

func (s *Store) loadApplications(snap *model.Snapshot) error {
	appsPath := path.Join(s.root, appsNode)
	children, _, err := s.conn.Children(appsPath)
	if errors.Is(err, gozk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, child := range children {
		id, err := model.ParseApplicationID(child)
		if err != nil {
			return fmt.Errorf("application node %s: %w", child, err)
		}
		state := &model.ApplicationState{}
		appPath := path.Join(appsPath, child)
		if err := s.getJSON(appPath, &state.Record); err != nil {
			return fmt.Errorf("application %s: %w", id, err)
		}
		attemptNodes, _, err := s.conn.Children(appPath)
		if err != nil {
			return fmt.Errorf("application %s: %w", id, err)
		}
		for _, attemptNode := range attemptNodes {
			var attempt model.AttemptRecord
			if err := s.getJSON(path.Join(appPath, attemptNode), &attempt); err != nil {
				return fmt.Errorf("attempt %s: %w", attemptNode, err)
			}
			state.Attempts = append(state.Attempts, attempt)
		}
		model.SortAttempts(state.Attempts)
		snap.Applications[id] = state
	}
	return nil
}

func (s *Store) loadAMRMState(snap *model.Snapshot) error {
	err := s.getJSON(path.Join(s.root, amrmNode), &snap.AMRMToken)
	if errors.Is(err, gozk.ErrNoNode) {
		return nil
	}
	return err
}

func (s *Store) loadDelegationState(snap *model.Snapshot) error {
	keysPath := path.Join(s.root, delegationNode, keysNode)
	keyNodes, _, err := s.conn.Children(keysPath)
	if err != nil && !errors.Is(err, gozk.ErrNoNode) {
		return err
	}
	for _, node := range keyNodes {
		var key model.MasterKey
		if err := s.getJSON(path.Join(keysPath, node), &key); err != nil {
			return fmt.Errorf("delegation key %s: %w", node, err)
		}
		snap.DelegationTokens.MasterKeys = append(snap.DelegationTokens.MasterKeys, key)
	}
	model.SortMasterKeys(snap.DelegationTokens.MasterKeys)

	tokensPath := path.Join(s.root, delegationNode, tokensNode)
	tokenNodes, _, err := s.conn.Children(tokensPath)
	if err != nil && !errors.Is(err, gozk.ErrNoNode) {
		return err
	}
	for _, node := range tokenNodes {
		var rec tokenRecord
		if err := s.getJSON(path.Join(tokensPath, node), &rec); err != nil {
			return fmt.Errorf("delegation token %s: %w", node, err)
		}
		snap.DelegationTokens.Tokens[rec.Token] = rec.RenewDate
	}

	var seq sequenceRecord
	err = s.getJSON(path.Join(s.root, delegationNode, sequenceNode), &seq)
	if err != nil && !errors.Is(err, gozk.ErrNoNode) {
		return err
	}
	snap.DelegationTokens.SequenceNumber = seq.SequenceNumber
	return nil
}

// setJSON writes v to node, creating it if absent and overwriting
// otherwise.
func (s *Store) setJSON(node string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	exists, _, err := s.conn.Exists(node)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.conn.Set(node, data, -1)
		return err
	}
	_, err = s.conn.Create(node, data, 0, gozk.WorldACL(gozk.PermAll))
	if errors.Is(err, gozk.ErrNodeExists) {
		_, err = s.conn.Set(node, data, -1)
	}
	return err
}

// setJSONStrict is setJSON without parent creation fallback semantics:
// Create propagates ErrNoNode when the parent is missing.
func (s *Store) setJSONStrict(node string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.conn.Create(node, data, 0, gozk.WorldACL(gozk.PermAll))
	if errors.Is(err, gozk.ErrNodeExists) {
		_, err = s.conn.Set(node, data, -1)
	}
	return err
}

func (s *Store) getJSON(node string, v any) error {
	data, _, err := s.conn.Get(node)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// ensurePath creates every missing node on an absolute path, with empty
// data.
func (s *Store) ensurePath(p string) error {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	node := ""
	for _, part := range parts {
		node += "/" + part
		_, err := s.conn.Create(node, nil, 0, gozk.WorldACL(gozk.PermAll))
		if err != nil && !errors.Is(err, gozk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

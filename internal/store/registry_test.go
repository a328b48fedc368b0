package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
)

// stubStore is the minimal StateStore for registry tests.
type stubStore struct{}

func (stubStore) StoreVersion(context.Context) error { return nil }
func (stubStore) LoadState(context.Context) (*model.Snapshot, error) {
	return model.NewSnapshot(), nil
}
func (stubStore) StoreApplication(context.Context, model.ApplicationRecord) error  { return nil }
func (stubStore) StoreAttempt(context.Context, model.AttemptRecord) error          { return nil }
func (stubStore) StoreAMRMTokenState(context.Context, model.AMRMTokenState, bool) error {
	return nil
}
func (stubStore) StoreDelegationKey(context.Context, model.MasterKey) error { return nil }
func (stubStore) StoreDelegationToken(context.Context, model.DelegationTokenID, int64, int64) error {
	return nil
}
func (stubStore) StoreDelegationSequenceNumber(context.Context, int64) error { return nil }
func (stubStore) Close() error                                               { return nil }

func TestRegistry_OpenUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Open(context.Background(), KindFS, config.Default())
	if err == nil {
		t.Fatal("Open() succeeded with no factory registered")
	}
	if CodeOf(err) != ErrCodeConfig {
		t.Errorf("CodeOf() = %q, want %q", CodeOf(err), ErrCodeConfig)
	}
}

func TestRegistry_OpenInjectsKindIntoClone(t *testing.T) {
	base := config.Default()
	var seen *config.Config

	r := NewRegistry()
	r.Register(KindMemory, func(cfg *config.Config) (StateStore, error) {
		seen = cfg
		return stubStore{}, nil
	})

	if _, err := r.Open(context.Background(), KindMemory, base); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if seen == nil {
		t.Fatal("factory never called")
	}
	if seen.Store != "mem" {
		t.Errorf("factory saw Store = %q, want mem", seen.Store)
	}
	if seen == base {
		t.Error("factory received the base config, want a clone")
	}
	if base.Store != "" {
		t.Errorf("kind injection leaked into base config: %q", base.Store)
	}
}

func TestRegistry_OpenRetriesTransientFailures(t *testing.T) {
	attempts := 0
	r := NewRegistry()
	r.Register(KindZK, func(*config.Config) (StateStore, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return stubStore{}, nil
	})

	cfg := config.Default()
	cfg.InitRetries = 5
	if _, err := r.Open(context.Background(), KindZK, cfg); err != nil {
		t.Fatalf("Open() failed after transient errors: %v", err)
	}
	if attempts != 3 {
		t.Errorf("factory called %d times, want 3", attempts)
	}
}

func TestRegistry_OpenExhaustsRetries(t *testing.T) {
	attempts := 0
	r := NewRegistry()
	r.Register(KindZK, func(*config.Config) (StateStore, error) {
		attempts++
		return nil, errors.New("connection refused")
	})

	cfg := config.Default()
	cfg.InitRetries = 2
	_, err := r.Open(context.Background(), KindZK, cfg)
	if err == nil {
		t.Fatal("Open() succeeded, want init error")
	}
	if CodeOf(err) != ErrCodeInit {
		t.Errorf("CodeOf() = %q, want %q", CodeOf(err), ErrCodeInit)
	}
	// Initial try plus InitRetries retries.
	if attempts != 3 {
		t.Errorf("factory called %d times, want 3", attempts)
	}
}

func TestRegistry_OpenDoesNotRetryConfigErrors(t *testing.T) {
	attempts := 0
	r := NewRegistry()
	r.Register(KindFS, func(*config.Config) (StateStore, error) {
		attempts++
		return nil, NewConfigError(KindFS, errors.New("fs.root is not set"))
	})

	cfg := config.Default()
	cfg.InitRetries = 5
	_, err := r.Open(context.Background(), KindFS, cfg)
	if err == nil {
		t.Fatal("Open() succeeded, want config error")
	}
	if CodeOf(err) != ErrCodeConfig {
		t.Errorf("CodeOf() = %q, want %q", CodeOf(err), ErrCodeConfig)
	}
	if attempts != 1 {
		t.Errorf("factory called %d times, want 1 (no retry on config errors)", attempts)
	}
}

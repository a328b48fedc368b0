package store

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/statecopy/internal/config"
)

// Factory constructs and starts a store handle from a configuration whose
// Store field already names the backend kind.
type Factory func(cfg *config.Config) (StateStore, error)

// Registry maps nicknames to backend factories. It is built explicitly at
// startup and threaded through to the commands; there is no process-wide
// table.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register binds a nickname to a factory, replacing any previous binding.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// Lookup returns the factory bound to kind.
func (r *Registry) Lookup(kind Kind) (Factory, bool) {
	f, ok := r.factories[kind]
	return f, ok
}

// Open resolves kind, clones the base configuration with the kind
// injected, and starts the backend. Initialization is retried with
// exponential backoff up to base.InitRetries times; once retries are
// exhausted the failure is fatal to the run.
func (r *Registry) Open(ctx context.Context, kind Kind, base *config.Config) (StateStore, error) {
	f, ok := r.Lookup(kind)
	if !ok {
		return nil, NewConfigError(kind, fmt.Errorf("no backend registered for nickname %q", kind))
	}

	cfg := base.Clone()
	cfg.Store = string(kind)

	var handle StateStore
	open := func() error {
		s, err := f(cfg)
		if err != nil {
			// Configuration problems will not heal on retry.
			if CodeOf(err) == ErrCodeConfig {
				return backoff.Permanent(err)
			}
			return err
		}
		handle = s
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), base.InitRetries), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		if CodeOf(err) == ErrCodeConfig {
			return nil, err
		}
		return nil, NewInitError(kind, err)
	}
	return handle, nil
}

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

// Policy selects how a per-application write failure is handled. The
// chosen policy applies uniformly to the whole run; mixing the two would
// produce a destination whose completeness the version marker cannot
// express.
type Policy int

const (
	// PolicyFailFast aborts the run on the first write failure.
	PolicyFailFast Policy = iota

	// PolicyBestEffort logs the failing application, skips the rest of
	// that application (record and attempts together), and continues
	// with the remaining applications. Partial state for the other
	// applications is still worth preserving.
	PolicyBestEffort
)

func (p Policy) String() string {
	if p == PolicyBestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// RunIDGenerator mints the run identifier attached to logs and the
// summary. Injectable so tests get deterministic output.
type RunIDGenerator interface {
	NewRunID() string
}

// UUIDGenerator is the default generator.
type UUIDGenerator struct{}

func (UUIDGenerator) NewRunID() string { return uuid.NewString() }

// Options tunes one migration run.
type Options struct {
	Policy Policy

	// Force skips the empty-destination pre-check, for backends with
	// defined overwrite semantics.
	Force bool

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// RunIDs defaults to UUIDGenerator.
	RunIDs RunIDGenerator
}

// Summary reports what one run migrated.
type Summary struct {
	RunID               string   `json:"run_id"`
	Applications        int      `json:"applications"`
	Attempts            int      `json:"attempts"`
	SkippedApplications []string `json:"skipped_applications,omitempty"`
	DelegationKeys      int      `json:"delegation_keys"`
	DelegationTokens    int      `json:"delegation_tokens"`
	SequenceNumber      int64    `json:"sequence_number"`
}

// Migrate replays src's full state into dest. Both handles must already
// be initialized, must refer to distinct backends (the shell validates
// this before any handle exists), and are owned exclusively by this call:
// they are closed on every exit path, success or failure. Close failures
// are logged and never mask the migration result.
//
// dest is assumed to start empty; unless opts.Force is set this is
// enforced with a pre-check before the version stamp.
func Migrate(ctx context.Context, src, dest store.StateStore, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = UUIDGenerator{}
	}

	summary := &Summary{RunID: runIDs.NewRunID()}
	logger = logger.With("run", summary.RunID)

	defer closeStore(logger, "source", src)
	defer closeStore(logger, "destination", dest)

	if !opts.Force {
		destSnap, err := dest.LoadState(ctx)
		if err != nil {
			return nil, fmt.Errorf("pre-check destination: %w", err)
		}
		if !destSnap.IsEmpty() {
			return nil, store.NewNotEmptyError()
		}
	}

	if err := dest.StoreVersion(ctx); err != nil {
		return nil, fmt.Errorf("stamp destination version: %w", err)
	}
	logger.Info("stamped destination version", "version", store.CurrentVersion.String())

	snap, err := src.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load source state: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("load source state: %w", err)
	}
	logger.Info("loaded source state",
		"applications", len(snap.Applications),
		"attempts", snap.AttemptCount(),
		"delegation_keys", len(snap.DelegationTokens.MasterKeys),
		"delegation_tokens", len(snap.DelegationTokens.Tokens))

	if err := copyAMRMTokenState(ctx, snap, dest); err != nil {
		return nil, err
	}
	logger.Info("copied am-rm token secret state")

	if err := copyApplications(ctx, logger, snap, dest, opts.Policy, summary); err != nil {
		return nil, err
	}
	logger.Info("copied application state",
		"applications", summary.Applications,
		"attempts", summary.Attempts,
		"skipped", len(summary.SkippedApplications))

	if err := copyDelegationState(ctx, snap, dest, summary); err != nil {
		return nil, err
	}
	logger.Info("copied delegation token state",
		"keys", summary.DelegationKeys,
		"tokens", summary.DelegationTokens,
		"sequence_number", summary.SequenceNumber)

	return summary, nil
}

// copyAMRMTokenState overwrites the destination's single AM-RM secret
// blob. Always a fresh-store write: the destination started empty.
func copyAMRMTokenState(ctx context.Context, snap *model.Snapshot, dest store.StateStore) error {
	if err := dest.StoreAMRMTokenState(ctx, snap.AMRMToken, false); err != nil {
		return fmt.Errorf("replay am-rm token state: %w", err)
	}
	return nil
}

// copyApplications replays every application record, then its attempts in
// ascending attempt-number order, so destinations that require the parent
// to exist first are satisfied. Under PolicyBestEffort a failing
// application is skipped whole; its attempts are never written without
// the record.
func copyApplications(ctx context.Context, logger *slog.Logger, snap *model.Snapshot, dest store.StateStore, policy Policy, summary *Summary) error {
	for _, app := range snap.SortedApplications() {
		id := app.Record.ID
		if err := copyApplication(ctx, dest, app); err != nil {
			if policy == PolicyFailFast {
				return fmt.Errorf("replay application %s: %w", id, err)
			}
			logger.Error("skipping application", "application", id.String(), "error", err)
			summary.SkippedApplications = append(summary.SkippedApplications, id.String())
			continue
		}
		summary.Applications++
		summary.Attempts += len(app.Attempts)
		logger.Debug("copied application", "application", id.String(), "attempts", len(app.Attempts))
	}
	return nil
}

func copyApplication(ctx context.Context, dest store.StateStore, app *model.ApplicationState) error {
	if err := dest.StoreApplication(ctx, app.Record); err != nil {
		return err
	}
	for _, attempt := range app.Attempts {
		if err := dest.StoreAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("attempt %s: %w", attempt.ID, err)
		}
	}
	return nil
}

// copyDelegationState replays master keys, then tokens, then re-stamps
// the sequence counter at the source's high-water mark so the destination
// can never mint a token id the source already issued. Keys and tokens
// are order-independent among themselves; the counter stamp must come
// last.
func copyDelegationState(ctx context.Context, snap *model.Snapshot, dest store.StateStore, summary *Summary) error {
	dt := snap.DelegationTokens
	for _, key := range dt.MasterKeys {
		if err := dest.StoreDelegationKey(ctx, key); err != nil {
			return fmt.Errorf("replay delegation key %d: %w", key.ID, err)
		}
		summary.DelegationKeys++
	}
	for tok, renewDate := range dt.Tokens {
		if err := dest.StoreDelegationToken(ctx, tok, renewDate, tok.SequenceNumber); err != nil {
			return fmt.Errorf("replay delegation token %d: %w", tok.SequenceNumber, err)
		}
		summary.DelegationTokens++
	}
	high := dt.HighWaterMark()
	if err := dest.StoreDelegationSequenceNumber(ctx, high); err != nil {
		return fmt.Errorf("replay delegation sequence number: %w", err)
	}
	summary.SequenceNumber = high
	return nil
}

func closeStore(logger *slog.Logger, role string, s store.StateStore) {
	if err := s.Close(); err != nil {
		logger.Error("error closing store", "store", role, "error", err)
	}
}

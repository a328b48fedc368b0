package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
	"github.com/roach88/statecopy/internal/store/fs"
	"github.com/roach88/statecopy/internal/store/mem"
	"github.com/roach88/statecopy/internal/store/sqlite"
	"github.com/roach88/statecopy/internal/storetest"
)

type fixedRunIDs struct{ id string }

func (f fixedRunIDs) NewRunID() string { return f.id }

func quietOpts() Options {
	return Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		RunIDs: fixedRunIDs{id: "test-run"},
	}
}

func seededSource(t *testing.T) store.StateStore {
	t.Helper()
	src := mem.New()
	storetest.MustSeed(context.Background(), src, storetest.FixtureSnapshot())
	return src
}

func TestMigrate_Summary(t *testing.T) {
	summary, err := Migrate(context.Background(), seededSource(t), mem.New(), quietOpts())
	require.NoError(t, err)

	assert.Equal(t, "test-run", summary.RunID)
	assert.Equal(t, 2, summary.Applications)
	assert.Equal(t, 3, summary.Attempts)
	assert.Empty(t, summary.SkippedApplications)
	assert.Equal(t, 2, summary.DelegationKeys)
	assert.Equal(t, 3, summary.DelegationTokens)
	assert.Equal(t, int64(42), summary.SequenceNumber)
}

func TestMigrate_WriteOrdering(t *testing.T) {
	dest := storetest.NewRecording(mem.New())
	_, err := Migrate(context.Background(), seededSource(t), dest, quietOpts())
	require.NoError(t, err)

	ops := dest.Ops()
	require.NotEmpty(t, ops)

	// The pre-check reads the destination before anything is written.
	assert.Equal(t, "LoadState", ops[0].Name)

	// The version marker lands before any data write.
	version := dest.IndexOf("StoreVersion", "")
	require.GreaterOrEqual(t, version, 0)
	for i, op := range ops {
		if op.Name != "LoadState" && op.Name != "StoreVersion" {
			assert.Greater(t, i, version, "op %s written before the version marker", op)
		}
	}

	// Each application record precedes its attempts, applications in
	// ascending id order.
	app1 := storetest.AppID(1)
	app2 := storetest.AppID(2)
	app1Rec := dest.IndexOf("StoreApplication", app1.String())
	app2Rec := dest.IndexOf("StoreApplication", app2.String())
	require.GreaterOrEqual(t, app1Rec, 0)
	require.GreaterOrEqual(t, app2Rec, 0)
	assert.Less(t, app1Rec, app2Rec)

	a11 := dest.IndexOf("StoreAttempt", storetest.AttemptID(1, 1).String())
	a21 := dest.IndexOf("StoreAttempt", storetest.AttemptID(2, 1).String())
	a22 := dest.IndexOf("StoreAttempt", storetest.AttemptID(2, 2).String())
	assert.Greater(t, a11, app1Rec)
	assert.Greater(t, a21, app2Rec)
	assert.Greater(t, a22, a21)

	// The sequence counter re-stamp is the final write.
	assert.Equal(t, "StoreDelegationSequenceNumber", ops[len(ops)-1].Name)
	assert.Equal(t, "42", ops[len(ops)-1].Key)
}

func TestMigrate_RoundTripAcrossBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fsCfg := config.Default()
	fsCfg.FS.Root = filepath.Join(dir, "state")
	sqlCfg := config.Default()
	sqlCfg.SQL.Path = filepath.Join(dir, "state.db")
	backCfg := config.Default()
	backCfg.FS.Root = filepath.Join(dir, "state-back")

	want := storetest.FixtureSnapshot()

	src, err := fs.Open(fsCfg)
	require.NoError(t, err)
	storetest.MustSeed(ctx, src, want)

	dest, err := sqlite.Open(sqlCfg)
	require.NoError(t, err)

	_, err = Migrate(ctx, src, dest, quietOpts())
	require.NoError(t, err)

	// Migrate closed both handles; reopen the destination to verify.
	reopened, err := sqlite.Open(sqlCfg)
	require.NoError(t, err)

	got, err := reopened.LoadState(ctx)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
	assert.Equal(t, want, got)

	// Second hop back onto a fresh file tree: a lossy encoding on either
	// backend cannot cancel out across the chain.
	hopSrc, err := sqlite.Open(sqlCfg)
	require.NoError(t, err)
	hopDest, err := fs.Open(backCfg)
	require.NoError(t, err)

	_, err = Migrate(ctx, hopSrc, hopDest, quietOpts())
	require.NoError(t, err)

	final, err := fs.Open(backCfg)
	require.NoError(t, err)
	defer final.Close()

	got, err = final.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMigrate_SequenceNumberHighWaterMark(t *testing.T) {
	ctx := context.Background()
	src := mem.New()
	tok := model.DelegationTokenID{Owner: "alice", Renewer: "rm", SequenceNumber: 42, MasterKeyID: 1}
	require.NoError(t, src.StoreDelegationToken(ctx, tok, 1, tok.SequenceNumber))
	// A counter lagging behind an issued token, as after a lax restore.
	require.NoError(t, src.StoreDelegationSequenceNumber(ctx, 10))

	dest := mem.New()
	summary, err := Migrate(ctx, src, dest, quietOpts())
	require.NoError(t, err)

	assert.Equal(t, int64(42), summary.SequenceNumber)
}

func TestMigrate_FailFastAborts(t *testing.T) {
	src := storetest.NewRecording(seededSource(t))
	dest := storetest.NewRecording(mem.New())
	dest.FailApplications = map[model.ApplicationID]error{
		storetest.AppID(2): assert.AnError,
	}

	_, err := Migrate(context.Background(), src, dest, quietOpts())
	require.Error(t, err)
	assert.True(t, store.IsWriteError(err))
	assert.ErrorContains(t, err, storetest.AppID(2).String())

	// No delegation state is written after the abort.
	assert.Equal(t, -1, dest.IndexOf("StoreDelegationKey", "1"))
	assert.Equal(t, 1, src.CloseCount())
	assert.Equal(t, 1, dest.CloseCount())
}

func TestMigrate_BestEffortSkipsWholeApplication(t *testing.T) {
	dest := storetest.NewRecording(mem.New())
	dest.FailApplications = map[model.ApplicationID]error{
		storetest.AppID(1): assert.AnError,
	}

	opts := quietOpts()
	opts.Policy = PolicyBestEffort
	summary, err := Migrate(context.Background(), seededSource(t), dest, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Applications)
	assert.Equal(t, 2, summary.Attempts)
	assert.Equal(t, []string{storetest.AppID(1).String()}, summary.SkippedApplications)

	// Delegation state still migrates in full.
	assert.Equal(t, 2, summary.DelegationKeys)
	assert.Equal(t, 3, summary.DelegationTokens)

	// The skipped application's attempts were never attempted: the record
	// write failed and the application was dropped whole.
	assert.Equal(t, -1, dest.IndexOf("StoreAttempt", storetest.AttemptID(1, 1).String()))
	assert.GreaterOrEqual(t, dest.IndexOf("StoreAttempt", storetest.AttemptID(2, 1).String()), 0)
	assert.GreaterOrEqual(t, dest.IndexOf("StoreAttempt", storetest.AttemptID(2, 2).String()), 0)
}

func TestMigrate_RejectsNonEmptyDestination(t *testing.T) {
	ctx := context.Background()
	dest := mem.New()
	storetest.MustSeed(ctx, dest, storetest.FixtureSnapshot())

	_, err := Migrate(ctx, seededSource(t), dest, quietOpts())
	require.Error(t, err)
	assert.True(t, store.IsNotEmpty(err))
}

func TestMigrate_ForceOverwritesNonEmptyDestination(t *testing.T) {
	ctx := context.Background()
	dest := mem.New()
	storetest.MustSeed(ctx, dest, storetest.FixtureSnapshot())

	opts := quietOpts()
	opts.Force = true
	summary, err := Migrate(ctx, seededSource(t), dest, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Applications)
}

func TestMigrate_RejectsInvalidSourceState(t *testing.T) {
	ctx := context.Background()
	src := mem.New()
	app := storetest.FixtureSnapshot().SortedApplications()[0]
	require.NoError(t, src.StoreApplication(ctx, app.Record))
	// Attempt 2 without attempt 1: non-contiguous numbering.
	orphan := model.AttemptRecord{ID: storetest.AttemptID(1, 2), StartTime: 1}
	require.NoError(t, src.StoreAttempt(ctx, orphan))

	dest := storetest.NewRecording(mem.New())
	_, err := Migrate(ctx, src, dest, quietOpts())
	require.Error(t, err)
	assert.ErrorContains(t, err, "not contiguous")

	// Nothing beyond the version stamp reached the destination.
	assert.Equal(t, -1, dest.IndexOf("StoreAMRMTokenState", ""))
	assert.Equal(t, 1, dest.CloseCount())
}

func TestMigrate_ClosesBothStoresOnSuccess(t *testing.T) {
	src := storetest.NewRecording(seededSource(t))
	dest := storetest.NewRecording(mem.New())

	_, err := Migrate(context.Background(), src, dest, quietOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, src.CloseCount())
	assert.Equal(t, 1, dest.CloseCount())
}

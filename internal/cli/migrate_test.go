package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/store"
	"github.com/roach88/statecopy/internal/store/fs"
	"github.com/roach88/statecopy/internal/store/mem"
	"github.com/roach88/statecopy/internal/store/null"
	"github.com/roach88/statecopy/internal/storetest"
)

type fixedRunIDs struct{ id string }

func (f fixedRunIDs) NewRunID() string { return f.id }

// outCommand builds a bare command carrying an output buffer, standing in
// for the cobra plumbing runMigrate normally receives.
func outCommand() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	return cmd, buf
}

// seededRegistry serves a pre-seeded in-memory source and a null
// destination, so migrate tests run without durable backends.
func seededRegistry(t *testing.T) *store.Registry {
	t.Helper()
	src := mem.New()
	storetest.MustSeed(context.Background(), src, storetest.FixtureSnapshot())

	r := store.NewRegistry()
	r.Register(store.KindMemory, func(*config.Config) (store.StateStore, error) {
		return src, nil
	})
	r.Register(store.KindNull, null.Open)
	return r
}

func TestRunMigrate_SameStoresRejected(t *testing.T) {
	opens := 0
	r := store.NewRegistry()
	r.Register(store.KindMemory, func(*config.Config) (store.StateStore, error) {
		opens++
		return mem.New(), nil
	})

	opts := &MigrateOptions{RootOptions: &RootOptions{Format: "text"}, Registry: r}
	cmd, _ := outCommand()

	err := runMigrate(opts, "mem", "mem", cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `source and destination stores are the same: "mem"`)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Zero(t, opens, "a rejected invocation must not open any store")
}

func TestRunMigrate_UnknownNickname(t *testing.T) {
	opts := &MigrateOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd, _ := outCommand()

	err := runMigrate(opts, "leveldb", "fs", cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source store")

	err = runMigrate(opts, "fs", "leveldb", cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid destination store")
}

func TestRunMigrate_GoldenSummary(t *testing.T) {
	opts := &MigrateOptions{
		RootOptions: &RootOptions{Format: "text"},
		Registry:    seededRegistry(t),
		RunIDs:      fixedRunIDs{id: "00000000-0000-0000-0000-000000000000"},
	}
	cmd, buf := outCommand()

	require.NoError(t, runMigrate(opts, "mem", "null", cmd))

	g := goldie.New(t)
	g.Assert(t, "migrate_summary", buf.Bytes())
}

func TestRunMigrate_FailedRunExitsNonZero(t *testing.T) {
	// A non-empty destination trips the pre-check.
	dest := mem.New()
	storetest.MustSeed(context.Background(), dest, storetest.FixtureSnapshot())

	r := seededRegistry(t)
	r.Register(store.KindFS, func(*config.Config) (store.StateStore, error) {
		return dest, nil
	})

	opts := &MigrateOptions{RootOptions: &RootOptions{Format: "text"}, Registry: r}
	cmd, _ := outCommand()

	err := runMigrate(opts, "mem", "fs", cmd)
	require.Error(t, err)
	assert.True(t, store.IsNotEmpty(err))
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestMigrate_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "statecopy.yaml")
	cfgYAML := "fs:\n  root: " + filepath.Join(dir, "state") + "\nsql:\n  path: " + filepath.Join(dir, "state.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	// Stage the source store the way an operator's resource manager
	// would have left it.
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	src, err := fs.Open(cfg)
	require.NoError(t, err)
	storetest.MustSeed(ctx, src, storetest.FixtureSnapshot())
	require.NoError(t, src.Close())

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "--format", "json", "migrate", "fs", "sql"})
	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "fs", data["source"])
	assert.Equal(t, "sql", data["destination"])
	assert.Equal(t, float64(2), data["applications"])
	assert.Equal(t, float64(3), data["attempts"])
	assert.Equal(t, float64(42), data["sequence_number"])
	assert.NotEmpty(t, data["run_id"])

	// The destination now reports the same counts.
	inspect := NewRootCommand()
	inspectOut := &bytes.Buffer{}
	inspect.SetOut(inspectOut)
	inspect.SetErr(&bytes.Buffer{})
	inspect.SetArgs([]string{"--config", cfgPath, "--format", "json", "inspect", "sql"})
	require.NoError(t, inspect.Execute())

	require.NoError(t, json.Unmarshal(inspectOut.Bytes(), &resp))
	data, ok = resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), data["applications"])
	assert.Equal(t, float64(2), data["delegation_keys"])
	assert.Equal(t, float64(3), data["delegation_tokens"])
	assert.Equal(t, false, data["empty"])
}

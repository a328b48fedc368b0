package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/engine"
	"github.com/roach88/statecopy/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	BestEffort bool
	Force      bool

	// Registry overrides the default backend registry (for testing).
	// If nil, every shipped backend is registered.
	Registry *store.Registry

	// RunIDs overrides the run id generator (for testing).
	RunIDs engine.RunIDGenerator
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate <source> <destination>",
		Short: "Copy all recovery state from one store to another",
		Long: fmt.Sprintf(`Copy the full recovery state of the source store into the destination
store. Store nicknames: %v. Source and destination must differ, and the
destination must be empty unless --force is given.

The destination is stamped with the version marker before any data is
written, so an interrupted run is recognizable as incomplete.

Example:
  statecopy --config statecopy.yaml migrate zk fs
  statecopy migrate fs sql --best-effort`, store.Kinds()),
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.BestEffort, "best-effort", false,
		"skip applications whose writes fail instead of aborting the run")
	cmd.Flags().BoolVar(&opts.Force, "force", false,
		"skip the empty-destination pre-check and overwrite existing entities")

	return cmd
}

func runMigrate(opts *MigrateOptions, srcName, destName string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	// Nickname validation happens before any store is initialized, so a
	// rejected invocation has no side effects.
	srcKind, err := store.ParseKind(srcName)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid source store", err)
	}
	destKind, err := store.ParseKind(destName)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid destination store", err)
	}
	if srcKind == destKind {
		return NewExitError(ExitFailure, fmt.Sprintf("source and destination stores are the same: %q", srcKind))
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load config", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = newRegistry()
	}

	ctx, cancel := notifyContext(cmd)
	defer cancel()

	slog.Info("opening source store", "store", srcKind)
	src, err := reg.Open(ctx, srcKind, cfg)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to open source store %q", srcKind), err)
	}
	slog.Info("opening destination store", "store", destKind)
	dest, err := reg.Open(ctx, destKind, cfg)
	if err != nil {
		// The engine never ran, so the source handle is still ours to
		// release.
		if closeErr := src.Close(); closeErr != nil {
			slog.Error("error closing source store", "error", closeErr)
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to open destination store %q", destKind), err)
	}

	policy := engine.PolicyFailFast
	if opts.BestEffort {
		policy = engine.PolicyBestEffort
	}
	summary, err := engine.Migrate(ctx, src, dest, engine.Options{
		Policy: policy,
		Force:  opts.Force,
		RunIDs: opts.RunIDs,
	})
	if err != nil {
		return WrapExitError(ExitFailure,
			fmt.Sprintf("migration from %q to %q failed", srcKind, destKind), err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(migrateResult{
		Source:      string(srcKind),
		Destination: string(destKind),
		Summary:     *summary,
	})
}

// migrateResult is the user-visible outcome of one run.
type migrateResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	engine.Summary
}

func (r migrateResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Migrated %s -> %s\n", r.Source, r.Destination)
	fmt.Fprintf(&b, "  run id:            %s\n", r.RunID)
	fmt.Fprintf(&b, "  applications:      %d\n", r.Applications)
	fmt.Fprintf(&b, "  attempts:          %d\n", r.Attempts)
	fmt.Fprintf(&b, "  delegation keys:   %d\n", r.DelegationKeys)
	fmt.Fprintf(&b, "  delegation tokens: %d\n", r.DelegationTokens)
	fmt.Fprintf(&b, "  sequence number:   %d", r.SequenceNumber)
	if len(r.SkippedApplications) > 0 {
		fmt.Fprintf(&b, "\n  skipped:           %s", strings.Join(r.SkippedApplications, ", "))
	}
	return b.String()
}

// configureLogging routes slog to stderr so formatted output on stdout
// stays machine-readable.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// notifyContext derives a cancelable context from the command (tests set
// one) that also ends on SIGINT/SIGTERM.
func notifyContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the statecopy CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "statecopy",
		Short: "Copy resource manager recovery state between stores",
		Long: `statecopy migrates the durable recovery state of a cluster resource
manager from one persistent store to another: applications, their
attempts, the AM-RM token secret state, and the delegation token state
with its sequence counter.

Useful when switching store backends, or for taking an out-of-band
backup (for example copying a ZooKeeper store to a file tree so the
cluster can be recovered if the ensemble becomes unavailable). The
source resource manager must not be writing during the copy.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to statecopy.yaml (defaults apply if omitted)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

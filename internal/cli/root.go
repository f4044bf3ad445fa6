package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // sqlite path or postgres connection string
	Driver   string // store.DriverSQLite | store.DriverPostgres
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidDrivers defines the allowed --driver values.
var ValidDrivers = []string{store.DriverSQLite, store.DriverPostgres}

// NewRootCommand creates the root command for the cadence CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "cadence",
		Short:   "cadence - outreach sequencing and scheduling",
		Version: model.EngineVersion,
		Long: `Schedules multi-step outreach sequences for prospects across sending
identities, honoring per-identity daily quotas, business-hour windows and
holiday calendars, and stopping sequences on replies and accepted
connections.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(ValidDrivers, opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, ValidDrivers)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "cadence.db", "database path (sqlite3) or connection string (postgres)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", store.DriverSQLite, "database driver (sqlite3|postgres)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewPassCommand(opts))
	cmd.AddCommand(NewListenCommand(opts))
	cmd.AddCommand(NewSignalCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger builds the structured logger for engine components. --verbose
// switches to debug level.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured database, creating the schema if needed.
func (o *RootOptions) openStore() (*store.Store, error) {
	if o.Database == "" {
		return nil, fmt.Errorf("--db is required")
	}
	driver := o.Driver
	if driver == "" {
		driver = store.DriverSQLite
	}
	return store.OpenDriver(driver, o.Database)
}

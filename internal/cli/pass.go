package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/provider"
)

// PassOptions holds flags for the pass command.
type PassOptions struct {
	*RootOptions
	MaxBatch    int
	MaxDuration time.Duration
	Workers     int
	LeaseTTL    time.Duration
	SendTimeout time.Duration

	// Provider overrides the outreach provider (for testing).
	// If nil, defaults to a dry-run provider that delivers nothing.
	Provider provider.Provider

	// Clock overrides the time source (for testing).
	Clock engine.Clock
}

// NewPassCommand creates the pass command.
func NewPassCommand(rootOpts *RootOptions) *cobra.Command {
	return newPassCommand(&PassOptions{RootOptions: rootOpts})
}

func newPassCommand(opts *PassOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one scheduling pass",
		Long: `Run one scheduling pass over the database and exit.

A pass reaps expired claims, retries due enrichment, promotes due
prospects, claims ready prospects within each identity's quota and
business hours, and dispatches them. Run it from cron or a timer; passes
may overlap safely.

Exit codes:
  0 - Pass completed
  2 - Command error (database unreachable, etc.)

Example:
  cadence pass --db ./cadence.db
  cadence pass --db ./cadence.db --max-batch 20 --max-duration 5m --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxBatch, "max-batch", engine.DefaultMaxBatch, "maximum prospects claimed in this pass")
	cmd.Flags().DurationVar(&opts.MaxDuration, "max-duration", 0, "stop dispatching after this long (0 = no limit)")
	cmd.Flags().IntVar(&opts.Workers, "workers", engine.DefaultWorkers, "dispatch worker pool size")
	cmd.Flags().DurationVar(&opts.LeaseTTL, "lease-ttl", engine.DefaultLeaseTTL, "claim lease duration")
	cmd.Flags().DurationVar(&opts.SendTimeout, "send-timeout", engine.DefaultSendTimeout, "timeout for each provider call")

	return cmd
}

func runPass(opts *PassOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if floor := engine.MinLeaseTTL(opts.SendTimeout); opts.LeaseTTL < floor {
		return formatter.Fail(ExitCommandError, ErrCodeInput,
			fmt.Sprintf("--lease-ttl %s must be at least %s (more than twice --send-timeout)", opts.LeaseTTL, floor), nil)
	}

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	logger := opts.logger(cmd.ErrOrStderr())
	prov := opts.Provider
	if prov == nil {
		prov = provider.NewDryRun(logger)
	}
	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithWorkers(opts.Workers),
		engine.WithLeaseTTL(opts.LeaseTTL),
		engine.WithSendTimeout(opts.SendTimeout),
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(opts.Clock))
	}
	eng := engine.New(st, prov, engineOpts...)

	report, err := eng.RunPass(cmd.Context(), engine.PassOptions{
		MaxBatch:    opts.MaxBatch,
		MaxDuration: opts.MaxDuration,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "pass aborted", err)
	}

	return formatter.Report(report, func(w io.Writer) { writePassReport(w, report) })
}

// writePassReport renders a pass report for humans.
func writePassReport(w io.Writer, r engine.PassReport) {
	fmt.Fprintf(w, "Pass %s\n", r.PassID)
	fmt.Fprintf(w, "  reaped %d, promoted %d, claimed %d\n", r.Reaped, r.Promoted, r.Claimed)
	fmt.Fprintf(w, "  deferred: %d over quota, %d outside window\n", r.QuotaDeferred, r.WindowClosed)
	if r.Enriched+r.EnrichFailed > 0 {
		fmt.Fprintf(w, "  enrichment: %d enriched, %d failed\n", r.Enriched, r.EnrichFailed)
	}

	kinds := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-16s %d\n", k, r.Counts[engine.OutcomeKind(k)])
	}

	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %s step %d: %s", o.ProspectID, o.Step, o.Kind)
		if o.Reason != "" {
			line += " (" + o.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
}

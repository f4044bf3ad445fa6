package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
)

// SignalSourceManual is the Source recorded on signals applied by hand.
const SignalSourceManual = "manual"

// SignalOptions holds flags for the signal command.
type SignalOptions struct {
	*RootOptions
	At string // RFC 3339 observation time; empty means now
}

// NewSignalCommand creates the signal command.
func NewSignalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signal <prospect-id> <replied|connected|withdrawn|bounced>",
		Short: "Apply one signal by hand",
		Long: `Record a reply, acceptance, withdrawal or bounce observed outside the
provider and apply it to the prospect, as listen would.

Example:
  cadence signal --db ./cadence.db p-0192 replied
  cadence signal --db ./cadence.db p-0192 connected --at 2025-06-13T14:00:00Z`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "observation time (RFC 3339, default now)")

	return cmd
}

func runSignal(opts *SignalOptions, prospectID, kindName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	kind, err := model.ParseSignalKind(kindName)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid signal", err)
	}
	observedAt := time.Now()
	if opts.At != "" {
		if observedAt, err = time.Parse(time.RFC3339, opts.At); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid --at", err)
		}
	}

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	logger := opts.logger(cmd.ErrOrStderr())
	eng := engine.New(st, provider.NewDryRun(logger), engine.WithLogger(logger))

	applied, err := eng.ApplySignal(cmd.Context(), model.NewSignalEvent(prospectID, kind, observedAt, SignalSourceManual))
	if err != nil {
		if errors.Is(err, engine.ErrInvalidSignal) {
			return formatter.Fail(ExitFailure, ErrCodeInput, "signal rejected", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to apply signal", err)
	}

	return formatter.Report(applied, func(w io.Writer) {
		if applied.Duplicate {
			fmt.Fprintf(w, "%s: signal already recorded (%s)\n", prospectID, applied.Status)
			return
		}
		fmt.Fprintf(w, "%s: %s %s, now %s\n", prospectID, kind, applied.Effect, applied.Status)
	})
}

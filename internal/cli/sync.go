package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// SyncResult lists what sync wrote.
type SyncResult struct {
	Identities []string `json:"identities"`
	Campaigns  []string `json:"campaigns"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <config-dir>",
		Short: "Store identity and campaign configuration",
		Long: `Compile the CUE identity and campaign definitions in a directory and
upsert them into the database.

Configuration is all-or-nothing: if any definition is invalid nothing is
written. Quota counters of existing identities are kept.

Example:
  cadence sync --db ./cadence.db ./config`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSync(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadConfig(dir, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadError(formatter, loadErrors[0])
	}
	bundle := loadResult.Bundle

	result := ValidationResult{
		Identities: len(bundle.Identities),
		Campaigns:  len(bundle.Campaigns),
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationError(err))
	}
	result.Errors = append(result.Errors, bundle.Check()...)
	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	now := time.Now().UTC()
	synced := SyncResult{Identities: []string{}, Campaigns: []string{}}
	for _, id := range bundle.Identities {
		if err := st.UpsertIdentity(ctx, id, now); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to store identity %s", id.ID), err)
		}
		formatter.VerboseLog("Stored identity: %s (quota %d)", id.ID, id.DailyQuota)
		synced.Identities = append(synced.Identities, id.ID)
	}
	for _, c := range bundle.Campaigns {
		if err := st.UpsertCampaign(ctx, c, now); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to store campaign %s", c.ID), err)
		}
		formatter.VerboseLog("Stored campaign: %s (%d steps)", c.ID, c.Sequence.Len())
		synced.Campaigns = append(synced.Campaigns, c.ID)
	}

	return formatter.Report(synced, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Synced %d identities, %d campaigns\n", len(synced.Identities), len(synced.Campaigns))
	})
}

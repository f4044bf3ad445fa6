package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// CampaignStatus is the prospect count per status for one campaign.
type CampaignStatus struct {
	CampaignID string         `json:"campaign_id"`
	IdentityID string         `json:"identity_id,omitempty"`
	Total      int            `json:"total"`
	Statuses   map[string]int `json:"statuses"`
}

// IdentityStatus is the quota position of one sending identity.
type IdentityStatus struct {
	ID            string    `json:"id"`
	Active        bool      `json:"active"`
	DailyQuota    int       `json:"daily_quota"`
	ConsumedToday int       `json:"consumed_today"`
	Reserved      int       `json:"reserved"`
	Remaining     int       `json:"remaining"`
	WindowResetAt time.Time `json:"window_reset_at,omitzero"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Identities []IdentityStatus `json:"identities"`
	Campaigns  []CampaignStatus `json:"campaigns"`
}

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions

	// Now overrides the time quota windows are evaluated at (for testing).
	Now func() time.Time
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return newStatusCommand(&StatusOptions{RootOptions: rootOpts})
}

func newStatusCommand(opts *StatusOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show quota usage and prospects by status",
		Long: `Show each sending identity's quota position and each campaign's
prospects grouped by status.

Example:
  cadence status --db ./cadence.db
  cadence status --db ./cadence.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}
	report, err := buildStatusReport(cmd, st, now)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read status", err)
	}

	return formatter.Report(report, func(w io.Writer) { writeStatusReport(w, report) })
}

func buildStatusReport(cmd *cobra.Command, st *store.Store, now time.Time) (StatusReport, error) {
	ctx := cmd.Context()
	report := StatusReport{Identities: []IdentityStatus{}, Campaigns: []CampaignStatus{}}

	identities, err := st.ListIdentities(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range identities {
		// Counters are stored as of the last write; show the current window.
		id = id.Rolled(now)
		report.Identities = append(report.Identities, IdentityStatus{
			ID:            id.ID,
			Active:        id.Active,
			DailyQuota:    id.DailyQuota,
			ConsumedToday: id.ConsumedToday,
			Reserved:      id.Reserved,
			Remaining:     id.Remaining(),
			WindowResetAt: id.WindowResetAt,
		})
	}

	campaigns, err := st.ListCampaigns(ctx)
	if err != nil {
		return report, err
	}
	index := make(map[string]int, len(campaigns))
	for _, c := range campaigns {
		index[c.ID] = len(report.Campaigns)
		report.Campaigns = append(report.Campaigns, CampaignStatus{
			CampaignID: c.ID,
			IdentityID: c.IdentityID,
			Statuses:   map[string]int{},
		})
	}

	counts, err := st.StatusCounts(ctx)
	if err != nil {
		return report, err
	}
	for _, sc := range counts {
		i, ok := index[sc.CampaignID]
		if !ok {
			// Prospects of a campaign no longer configured.
			i = len(report.Campaigns)
			index[sc.CampaignID] = i
			report.Campaigns = append(report.Campaigns, CampaignStatus{CampaignID: sc.CampaignID, Statuses: map[string]int{}})
		}
		report.Campaigns[i].Statuses[string(sc.Status)] = sc.Count
		report.Campaigns[i].Total += sc.Count
	}
	return report, nil
}

// statusOrder lists statuses in lifecycle order for text output.
var statusOrder = []model.Status{
	model.StatusPending,
	model.StatusEnriching,
	model.StatusValidated,
	model.StatusQueued,
	model.StatusSent,
	model.StatusAwaitingNext,
	model.StatusReplied,
	model.StatusConnected,
	model.StatusCompleted,
	model.StatusStopped,
	model.StatusFailed,
}

func writeStatusReport(w io.Writer, r StatusReport) {
	fmt.Fprintln(w, "Identities:")
	if len(r.Identities) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, id := range r.Identities {
		state := "active"
		if !id.Active {
			state = "inactive"
		}
		fmt.Fprintf(w, "  %-20s %d/%d used, %d reserved, %d left (%s)\n",
			id.ID, id.ConsumedToday, id.DailyQuota, id.Reserved, id.Remaining, state)
	}

	fmt.Fprintln(w, "Campaigns:")
	if len(r.Campaigns) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range r.Campaigns {
		fmt.Fprintf(w, "  %s (%d prospects)\n", c.CampaignID, c.Total)
		for _, s := range statusOrder {
			if n := c.Statuses[string(s)]; n > 0 {
				fmt.Fprintf(w, "    %-14s %d\n", s, n)
			}
		}
	}
}

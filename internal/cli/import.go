package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/provider"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Campaign string
}

// ProspectFile is the YAML layout of a prospect list.
//
//	campaign: intro
//	prospects:
//	  - identity: https://www.linkedin.com/in/jane-doe
//	    first_name: Jane
//	  - first_name: Ada
//	    company: Analytical Engines
type ProspectFile struct {
	Campaign  string                `yaml:"campaign"`
	Prospects []engine.ImportRecord `yaml:"prospects"`
}

// ParseProspectFile decodes a prospect list, rejecting unknown fields.
func ParseProspectFile(data []byte) (*ProspectFile, error) {
	var f ProspectFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("prospect file is empty")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Prospects) == 0 {
		return nil, fmt.Errorf("prospects list is required and must be non-empty")
	}
	return &f, nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <prospects.yaml>",
		Short: "Enroll prospects in a campaign",
		Long: `Enroll the prospects listed in a YAML file in a campaign.

Prospects with a profile reference are validated and due immediately.
Prospects with only a name or company go to enrichment. Contacts already
in the campaign are counted as duplicates and left alone.

Example:
  cadence import --db ./cadence.db prospects.yaml
  cadence import --db ./cadence.db --campaign intro prospects.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Campaign, "campaign", "", "campaign to enroll in (overrides the file)")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to read prospect file", err)
	}
	file, err := ParseProspectFile(data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid prospect file", err)
	}
	campaign := strings.TrimSpace(opts.Campaign)
	if campaign == "" {
		campaign = file.Campaign
	}
	if campaign == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "no campaign given in the file or with --campaign", nil)
	}

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	logger := opts.logger(cmd.ErrOrStderr())
	eng := engine.New(st, provider.NewDryRun(logger), engine.WithLogger(logger))

	report, err := eng.ImportProspects(cmd.Context(), campaign, file.Prospects)
	if err != nil {
		if engine.IsStoreError(err) {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "import failed", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeInput, "import failed", err)
	}

	return formatter.Report(report, func(w io.Writer) {
		fmt.Fprintf(w, "Imported into %s: %d inserted, %d duplicates, %d enriching, %d failed\n",
			campaign, report.Inserted, report.Duplicates, report.Enriching, report.Failed)
	})
}

package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

const (
	configDir    = "../../testdata/config"
	invalidDir   = "../../testdata/invalid"
	prospectFile = "../../testdata/prospects.yaml"
)

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// tempDB returns root options pointing at a fresh sqlite file.
func tempDB(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "cadence.db"),
		Driver:   "sqlite3",
	}
}

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/model"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cadence", cmd.Use)
	assert.Contains(t, cmd.Long, "daily quotas")
	assert.Equal(t, model.EngineVersion, cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "sync", "import", "pass", "listen", "signal", "status", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "cadence.db", dbFlag.DefValue)

	driverFlag := cmd.PersistentFlags().Lookup("driver")
	require.NotNil(t, driverFlag)
	assert.Equal(t, "sqlite3", driverFlag.DefValue)
}

func TestPassCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	passCmd, _, err := cmd.Find([]string{"pass"})
	require.NoError(t, err)

	tests := map[string]string{
		"max-batch":    "100",
		"max-duration": "0s",
		"workers":      "4",
		"lease-ttl":    "2m0s",
		"send-timeout": "30s",
	}
	for name, def := range tests {
		flag := passCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, def, flag.DefValue, name)
	}
}

func TestListenCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	listenCmd, _, err := cmd.Find([]string{"listen"})
	require.NoError(t, err)

	assert.Equal(t, "cadence.signals", listenCmd.Flags().Lookup("queue").DefValue)
	assert.Equal(t, "1m0s", listenCmd.Flags().Lookup("interval").DefValue)
	assert.Equal(t, "false", listenCmd.Flags().Lookup("poll").DefValue)
	assert.Equal(t, "504h0m0s", listenCmd.Flags().Lookup("invitation-ttl").DefValue)
	assert.NotNil(t, listenCmd.Flags().Lookup("amqp-url"))
	assert.NotNil(t, listenCmd.Flags().Lookup("once"))
}

func TestRootRejectsBadGlobalFlags(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"--format", "xml", "status"}, `invalid format "xml"`},
		{[]string{"--driver", "mysql", "status"}, `invalid driver "mysql"`},
	}

	for _, tt := range tests {
		cmd := NewRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(tt.args)

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.wantErr)
	}
}

func TestListenRejectsBothSources(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"listen", "--poll", "--amqp-url", "amqp://localhost", "--db", t.TempDir() + "/x.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "aegisctl", cmd.Use)
	assert.Contains(t, cmd.Long, "migrations")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"cron", "validate"},
		{"cron", "next"},
		{"config", "show"},
		{"config", "set"},
		{"migrate", "up"},
		{"migrate", "version"},
		{"migrate", "list"},
		{"schedules", "list"},
		{"schedules", "due"},
		{"schedules", "run-due"},
		{"incidents", "detect"},
	}

	for _, path := range commands {
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	for _, name := range []string{"config", "database-url", "tenant"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "", redactURL(""))
	assert.Equal(t, "postgres://aegis:xxxxx@db:5432/aegis", redactURL("postgres://aegis:secret@db:5432/aegis"))
	assert.Equal(t, "postgres://db/aegis", redactURL("postgres://db/aegis"))
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

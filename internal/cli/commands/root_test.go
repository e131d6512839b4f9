package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "registry", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))

	expected := []string{"version", "serve", "worker", "migrate", "ingest", "enqueue", "show"}
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, name := range expected {
		assert.Contains(t, names, name)
	}
}

func TestSubcommandTree(t *testing.T) {
	cmd := NewRootCommand()

	tests := []struct {
		path  []string
		flags []string
	}{
		{[]string{"migrate", "up"}, nil},
		{[]string{"migrate", "down"}, nil},
		{[]string{"migrate", "status"}, nil},
		{[]string{"ingest", "version"}, nil},
		{[]string{"ingest", "topic"}, []string{"package", "version"}},
		{[]string{"enqueue"}, []string{"type", "package", "version"}},
		{[]string{"show"}, []string{"output"}},
		{[]string{"serve"}, []string{"workers"}},
		{[]string{"worker"}, []string{"workers"}},
	}

	for _, tt := range tests {
		sub, _, err := cmd.Find(tt.path)
		require.NoError(t, err, "command %v", tt.path)
		assert.Equal(t, tt.path[len(tt.path)-1], sub.Name())
		for _, flag := range tt.flags {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%v --%s", tt.path, flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	GitCommit = "abc123"
	BuildDate = "2025-01-01"
	GoVersion = "go1.24"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Registry version: 1.0.0-test")
	assert.Contains(t, out, "Git commit: abc123")
	assert.Contains(t, out, "Go version: go1.24")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "publish")
	assert.Error(t, err)
}

// execute runs the root command with args and returns everything written
// to its output streams
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

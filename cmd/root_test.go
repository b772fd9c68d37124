//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"returns", "documents", "run", "batch", "review", "computation", "rules", "policy", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "taxprep", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	tests := []struct {
		parent   string
		expected []string
	}{
		{"returns", []string{"create", "list", "show"}},
		{"documents", []string{"add"}},
		{"review", []string{"view", "confirm", "override", "clear-override"}},
		{"rules", []string{"history"}},
		{"policy", []string{"show"}},
	}
	for _, tt := range tests {
		t.Run(tt.parent, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.parent})
			require.NoError(t, err)
			names := make(map[string]bool)
			for _, c := range cmd.Commands() {
				names[c.Name()] = true
			}
			for _, name := range tt.expected {
				assert.True(t, names[name], "%s should have subcommand %q", tt.parent, name)
			}
		})
	}
}

func TestDocumentsAdd_RequiresKind(t *testing.T) {
	flag := documentsAddCmd.Flags().Lookup("kind")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "batch command should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)

	flag = batchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRulesHistory_Flags(t *testing.T) {
	for _, name := range []string{"latest", "category", "severity", "failed", "pass-id", "json"} {
		assert.NotNil(t, rulesHistoryCmd.Flags().Lookup(name), "rules history should have --%s", name)
	}
}

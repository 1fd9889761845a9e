package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "score", "cases", "export", "notify", "migrate", "questionnaire", "sweep-overdue"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "portal", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCasesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range casesCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"open", "show", "list", "document", "payment", "overdue", "schedule", "submit", "decision"}
	for _, name := range expected {
		assert.True(t, names[name], "cases should have subcommand %q", name)
	}
}

func TestExportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range exportCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["case"])
	assert.True(t, names["workbook"])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("sweep-interval")
	require.NotNil(t, flag)
	assert.Equal(t, "1h0m0s", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("replay-interval"))
}

func TestCasesDocumentCommand_Flags(t *testing.T) {
	flag := casesDocumentCmd.Flags().Lookup("count")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)

	require.NotNil(t, casesDocumentCmd.Flags().Lookup("kind"))
}

func TestCasesOpenCommand_Flags(t *testing.T) {
	for _, name := range []string{"client-ref", "name", "email", "tier", "expected-documents", "submission", "file"} {
		assert.NotNil(t, casesOpenCmd.Flags().Lookup(name), "cases open should have --%s flag", name)
	}
}

func TestScoreCommand_Flags(t *testing.T) {
	flag := scoreCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)

	flag = scoreCmd.Flags().Lookup("save")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestNotifyRetryCommand_Flags(t *testing.T) {
	for _, name := range []string{"error-type", "limit"} {
		assert.NotNil(t, notifyRetryCmd.Flags().Lookup(name), "notify retry should have --%s flag", name)
	}
}

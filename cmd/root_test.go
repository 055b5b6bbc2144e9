package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{
		"migrate", "upload", "forecast", "analyze", "override",
		"clear-override", "show", "summary", "export", "serve", "monitor",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "cml-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestForecastCommand_Flags(t *testing.T) {
	for _, name := range []string{"periods", "strategy", "latest", "format"} {
		assert.NotNil(t, forecastCmd.Flags().Lookup(name), "forecast should have --%s flag", name)
	}
	assert.Equal(t, "0", forecastCmd.Flags().Lookup("periods").DefValue)
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	for _, name := range []string{"ids", "facility", "system", "risk", "strategy", "retrain", "threshold", "clear-override"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze should have --%s flag", name)
	}
}

func TestOverrideCommand_RequiredFlags(t *testing.T) {
	for _, name := range []string{"decision", "user"} {
		flag := overrideCmd.Flags().Lookup(name)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])
	}
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "o", flag.Shorthand)
	assert.Equal(t, "cml_export.xlsx", flag.DefValue)
}

func TestRootCommand_TimeoutFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("timeout")
	require.NotNil(t, flag)
	assert.Equal(t, "0s", flag.DefValue)
}

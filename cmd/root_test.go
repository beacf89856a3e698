package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"sync", "migrate", "categories", "serve", "schedule"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "provider-sync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSyncCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range syncCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"full", "ingest", "match", "provider", "rankings", "reset-matches", "stats", "status", "history"} {
		assert.True(t, names[name], "expected sync subcommand %q not found", name)
	}
}

func TestSyncFullCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"category", "location", "limit", "skip-google", "skip-yelp",
		"skip-ingest", "skip-match", "skip-merge", "skip-rankings",
	} {
		assert.NotNil(t, syncFullCmd.Flags().Lookup(name), "sync full should have --%s", name)
	}
}

func TestSyncProviderCommand_RequiresCategory(t *testing.T) {
	flag := syncProviderCmd.Flags().Lookup("category")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestSyncResetMatchesCommand_Flags(t *testing.T) {
	flag := syncResetMatchesCmd.Flags().Lookup("category")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestScheduleCommand_Flags(t *testing.T) {
	assert.NotNil(t, scheduleCmd.Flags().Lookup("cron"))
	assert.NotNil(t, scheduleCmd.Flags().Lookup("now"))
}

func TestRootCommand_LogLevelFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

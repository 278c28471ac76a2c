package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "research version ")
}

func TestRunRequiresQuery(t *testing.T) {
	rootCmd.SetArgs([]string{"run"})
	assert.Error(t, rootCmd.Execute())
}

func TestSubmitFlags(t *testing.T) {
	assert.NotNil(t, submitCmd.Flags().Lookup("wait"))
	assert.NotNil(t, runCmd.Flags().Lookup("output-dir"))
	assert.Equal(t, "true", runCmd.Flags().Lookup("save").DefValue)
}

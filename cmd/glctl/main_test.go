package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func TestRootRegistersCommands(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"resolve", "post", "revalue", "allocate", "report", "integrity", "queues"} {
		require.True(t, names[want], want)
	}
}

func TestMissingRequiredFlagFailsBeforeConnecting(t *testing.T) {
	root := rootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"allocate", "--period", "2024-01"})
	err := root.Execute()
	require.ErrorContains(t, err, `required flag(s) "rule" not set`)
}

func TestCodeErr(t *testing.T) {
	require.NoError(t, codeErr(0))
	var code exitError
	require.ErrorAs(t, codeErr(10), &code)
	require.Equal(t, exitError(10), code)
}

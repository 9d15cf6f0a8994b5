package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = cmd.Hidden
	}

	assert.Equal(t, map[string]bool{"serve": false, "run": false, "policy": false, "worker": true}, names)
}

func TestReadSnippet(t *testing.T) {
	t.Run("Stdin", func(t *testing.T) {
		code, err := readSnippet(nil, strings.NewReader("print(1)"))
		require.NoError(t, err)
		assert.Equal(t, "print(1)", code)
	})

	t.Run("Dash", func(t *testing.T) {
		code, err := readSnippet([]string{"-"}, strings.NewReader("print(2)"))
		require.NoError(t, err)
		assert.Equal(t, "print(2)", code)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "snippet.py")
		require.NoError(t, os.WriteFile(path, []byte("print(3)"), 0o600))

		code, err := readSnippet([]string{path}, strings.NewReader("ignored"))
		require.NoError(t, err)
		assert.Equal(t, "print(3)", code)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := readSnippet([]string{filepath.Join(t.TempDir(), "missing.py")}, nil)
		require.Error(t, err)
	})
}

func TestPolicyCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"policy"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "allowed_modules:")
	assert.Contains(t, out.String(), "- math")
}

func TestRunCommandRejectsWithoutSpawning(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("import os"))
	root.SetArgs([]string{"run", "-"})

	err := root.Execute()
	require.ErrorIs(t, err, errExecutionFailed)
	assert.Contains(t, out.String(), `"error_kind": "security_rejected"`)
}

func TestAppGraph(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, newApp().Err())
}

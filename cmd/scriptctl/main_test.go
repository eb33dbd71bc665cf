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

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	scriptPath, scriptVariant = "", "qualify_transfer"

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateBundled(t *testing.T) {
	out, err := execute(t, "", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok   callback")
	assert.Contains(t, out, "ok   qualify_transfer")
}

func TestValidateBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\ninitial_state: nowhere\n"), 0o644))

	out, err := execute(t, "", "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL "+path)
	assert.Contains(t, out, "initial state")
}

func TestClassify(t *testing.T) {
	out, err := execute(t, "", "classify", "I", "think", "it's", "federal")
	require.NoError(t, err)
	assert.Contains(t, out, "intent:     federal")
	assert.Contains(t, out, "stage:      contains")
}

func TestChat(t *testing.T) {
	out, err := execute(t, "yes\nstate\nyes\n", "chat", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Tax Relief Line")
	assert.Contains(t, out, "[transfer to live agent]")
	assert.Contains(t, out, "greeting -> tax_type")
	assert.Contains(t, out, "[call ended: transition]")
}

func TestChatCallbackVariant(t *testing.T) {
	out, err := execute(t, "yes\nJohn Doe\njohn@example.com\n555-0100\n", "chat", "--variant", "callback")
	require.NoError(t, err)
	assert.Contains(t, out, "Thank you, John Doe!")
}

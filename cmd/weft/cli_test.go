package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eleven-am/weft"
	"github.com/eleven-am/weft/internal/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeter = `
nodes:
  - id: name
    spec: input
    config:
      value: world
  - id: greet
    spec: transform
    config:
      template: "hello {{name}}"
  - id: out
    spec: output
edges:
  - source: name
    target: greet
  - source: greet
    target: out
`

func writeGraph(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseInvocation(t *testing.T) {
	inv, err := ParseInvocation([]string{"run", "-graph", "g.json", "-mode", "marketplace", "-user", "u-1",
		"-input", "name=weft", "-input", `limits={"n":2}`, "-timeout", "2s"})
	require.NoError(t, err)
	assert.Equal(t, CommandRun, inv.Command)
	assert.Equal(t, "g.json", inv.GraphPath)
	assert.Equal(t, weft.ModeMarketplace, inv.Mode)
	assert.Equal(t, "u-1", inv.UserID)
	assert.Equal(t, "weft", inv.Inputs["name"])
	assert.Equal(t, map[string]interface{}{"n": 2.0}, inv.Inputs["limits"])
	assert.Equal(t, "2s", inv.Timeout.String())

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"deploy", "-graph", "g.json"}},
		{"missing graph", []string{"hash"}},
		{"bad mode", []string{"run", "-graph", "g.json", "-mode", "prod"}},
		{"bad input", []string{"run", "-graph", "g.json", "-input", "novalue"}},
		{"positional", []string{"hash", "-graph", "g.json", "extra"}},
		{"run flag on hash", []string{"hash", "-graph", "g.json", "-user", "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInvocation(tt.args)
			var usage *UsageError
			assert.ErrorAs(t, err, &usage)
			assert.Equal(t, ExitUsage, exitCode(err))
		})
	}
}

func TestExecute_Hash(t *testing.T) {
	path := writeGraph(t, greeter)

	var out bytes.Buffer
	code, err := Execute(context.Background(), Invocation{Command: CommandHash, GraphPath: path}, &out)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, code)

	graph, err := weft.ParseGraph([]byte(greeter))
	require.NoError(t, err)
	hash, err := weft.ComputeVersionHash(graph)
	require.NoError(t, err)
	assert.Equal(t, hash, strings.TrimSpace(out.String()))
}

func TestExecute_Run(t *testing.T) {
	path := writeGraph(t, greeter)

	var out bytes.Buffer
	code, err := Execute(context.Background(), Invocation{
		Command:   CommandRun,
		GraphPath: path,
		Inputs:    map[string]interface{}{"name": "cli"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, code)

	var result map[string]interface{}
	require.NoError(t, xjson.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "succeeded", result["status"])
}

func TestExecute_RunFailed(t *testing.T) {
	path := writeGraph(t, greeter+`  - source: out
    target: name
`)

	var out bytes.Buffer
	code, err := Execute(context.Background(), Invocation{Command: CommandRun, GraphPath: path}, &out)
	assert.ErrorIs(t, err, weft.ErrCycle)
	assert.Equal(t, ExitRunFailed, code)
	assert.Contains(t, out.String(), `"failed"`)
}

func TestExecute_MissingGraph(t *testing.T) {
	code, err := Execute(context.Background(), Invocation{Command: CommandHash, GraphPath: filepath.Join(t.TempDir(), "nope.json")}, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Equal(t, ExitUsage, code)
}

package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScriptReturnsEntryPointResult(t *testing.T) {
	config := map[string]any{
		"script": `function run(input) { return "hello " + input.name; }`,
		"name":   "world",
	}
	out, err := Script(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestScriptDefaultsEntryPointToRun(t *testing.T) {
	config := map[string]any{
		"script": `function run(input) { return 21 * 2; }`,
	}
	out, err := Script(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, "42", out)
}

func TestScriptCustomEntryPoint(t *testing.T) {
	config := map[string]any{
		"script":      `function main(input) { console.log("hi"); return "done"; }`,
		"entry_point": "main",
	}
	out, err := Script(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, "done", out)
}

func TestScriptMissingSourceIsSoftError(t *testing.T) {
	out, err := Script(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "error: no script specified", out)
}

func TestScriptMissingEntryPointIsHardError(t *testing.T) {
	config := map[string]any{"script": `var x = 1;`}
	_, err := Script(context.Background(), config)
	require.Error(t, err)
}

func TestScriptHasNoFilesystemOrNetworkGlobals(t *testing.T) {
	config := map[string]any{
		"script": `function run(input) {
			if (typeof require !== "undefined") { return "error: require leaked"; }
			if (typeof fetch !== "undefined") { return "error: fetch leaked"; }
			if (typeof process !== "undefined") { return "error: process leaked"; }
			return "sandboxed";
		}`,
	}
	out, err := Script(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, "sandboxed", out)
}

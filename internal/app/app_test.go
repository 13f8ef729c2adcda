package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/testutil"
)

func TestScanVerb_ImportsProject(t *testing.T) {
	files := map[string]string{
		"hello.txt":   "hello",
		"notes/a.md":  "# a",
		"level.scene": `{"name":"level","entries":[{"name":"sign","path":"hello.txt"}]}`,
	}

	result := testutil.RunPipelineTest(t, files, "scan")
	require.NoError(t, result.Err)
	assert.Contains(t, result.LogOutput, "Scan finished.")
	assert.Contains(t, result.LogOutput, "changed=3")

	// Imports mint sidecars next to the sources.
	_, err := os.Stat(filepath.Join(result.ProjectDir, "assets", "hello.txt.meta"))
	assert.NoError(t, err)
}

func TestPackVerb_WritesPackFile(t *testing.T) {
	files := map[string]string{"hello.txt": "hello"}

	result := testutil.RunPipelineTest(t, files, "pack")
	require.NoError(t, result.Err)

	info, err := os.Stat(filepath.Join(result.ProjectDir, "assets.pack"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestScanVerb_BrokenSourceDoesNotAbort(t *testing.T) {
	files := map[string]string{
		"good.txt": "fine",
		"bad.txt":  string([]byte{0xff, 0xfe}),
	}

	result := testutil.RunPipelineTest(t, files, "scan")
	require.NoError(t, result.Err)
	assert.Contains(t, result.LogOutput, "Import failed.")
	assert.Contains(t, result.LogOutput, "changed=1")
}

func TestUnknownVerb_Errors(t *testing.T) {
	result := testutil.RunPipelineTest(t, nil, "mystery")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "unknown verb")
}

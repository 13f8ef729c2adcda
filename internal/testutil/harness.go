// Package testutil provides a harness for running the application against
// temporary project directories in tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/app"
	"github.com/vk/assetpipe/internal/hclcfg"
	"github.com/vk/assetpipe/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of a harness run.
type HarnessResult struct {
	LogOutput  string
	Err        error
	App        *app.App
	ProjectDir string
}

// RunPipelineTest writes the given source files into a temporary project
// directory, generates a project file for it, and runs one verb to
// completion. File paths are relative to the project's assets root.
func RunPipelineTest(t *testing.T, files map[string]string, verb string, modules ...registry.Module) *HarnessResult {
	t.Helper()
	return RunPipelineTestWithContext(context.Background(), t, files, verb, modules...)
}

// RunPipelineTestWithContext is RunPipelineTest with a caller-provided
// context, for verbs that only stop on cancellation.
func RunPipelineTestWithContext(ctx context.Context, t *testing.T, files map[string]string, verb string, modules ...registry.Module) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	assetsDir := filepath.Join(tmpDir, "assets")
	require.NoError(t, os.Mkdir(assetsDir, 0o755))

	for name, content := range files {
		filePath := filepath.Join(assetsDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	projectPath := filepath.Join(tmpDir, "assetpipe.hcl")
	projectHCL := fmt.Sprintf(`
project "test" {
  source_roots = [%q]
  db_path      = %q
}
`, assetsDir, filepath.Join(tmpDir, ".assetpipe", "index.db"))
	require.NoError(t, os.WriteFile(projectPath, []byte(projectHCL), 0o644))

	logBuffer := &SafeBuffer{}
	appConfig := &app.Config{
		Verb:        verb,
		ProjectPath: projectPath,
		PackOutput:  filepath.Join(tmpDir, "assets.pack"),
		LogFormat:   "text",
		LogLevel:    "debug",
	}

	result := &HarnessResult{ProjectDir: tmpDir}
	func() {
		// NewApp panics on configuration errors; surface them as errors
		// so tests can assert on them.
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("startup failed: %v", r)
			}
		}()
		result.App = app.NewApp(logBuffer, appConfig, hclcfg.NewLoader(), modules...)
		result.Err = result.App.Run(ctx, appConfig)
	}()

	result.LogOutput = logBuffer.String()
	t.Cleanup(func() {
		if os.Getenv("ASSETPIPE_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), result.LogOutput)
		}
	})
	return result
}

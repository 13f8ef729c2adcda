package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/dag"
	"github.com/vk/assetpipe/internal/index"
	"github.com/vk/assetpipe/internal/notify"
	"github.com/vk/assetpipe/internal/registry"
	"github.com/vk/assetpipe/modules/sceneimp"
	"github.com/vk/assetpipe/modules/textimp"
)

func newTestPipeline(t *testing.T, root string) (*Pipeline, *index.Store) {
	t.Helper()

	reg := registry.New()
	(&textimp.Module{}).Register(reg)
	(&sceneimp.Module{}).Register(reg)
	require.NoError(t, reg.Validate())

	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := New(Options{
		Registry:    reg,
		Index:       store,
		Graph:       dag.New(),
		SourceRoots: []string{root},
		Workers:     2,
	})
	return p, store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func changedPaths(changes []notify.Change) []string {
	var out []string
	for _, c := range changes {
		if !c.Removed {
			out = append(out, c.Path)
		}
	}
	return out
}

func TestImportAll_DiscoversAndSkipsClean(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.txt"), "hello")
	p, store := newTestPipeline(t, root)

	changes, err := p.ImportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt"}, changedPaths(changes))

	rec, err := store.GetByPath("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, asset.TextTypeID, rec.TypeID)
	assert.NotEmpty(t, rec.Artifact)

	// A second pass finds nothing dirty.
	changes, err = p.ImportAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestImportAll_StableIdentityAcrossReimports(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hello.txt")
	writeFile(t, path, "hello")
	p, store := newTestPipeline(t, root)

	_, err := p.ImportAll(context.Background())
	require.NoError(t, err)
	first, err := store.GetByPath("hello.txt")
	require.NoError(t, err)

	writeFile(t, path, "hello again")
	changes, err := p.ProcessBatch(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, first.ID, changes[0].ID)

	second, err := store.GetByPath("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.BuildHash, second.BuildHash)
}

func TestProcessBatch_RemovalDropsIndexEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hello.txt")
	writeFile(t, path, "hello")
	p, store := newTestPipeline(t, root)

	_, err := p.ImportAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	changes, err := p.ProcessBatch(context.Background(), nil, []string{path})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Removed)
	assert.Equal(t, "hello.txt", changes[0].Path)

	_, err = store.GetByPath("hello.txt")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestProcessBatch_ReimportsDependents(t *testing.T) {
	root := t.TempDir()
	textPath := filepath.Join(root, "greeting.txt")
	writeFile(t, textPath, "hello")
	writeFile(t, filepath.Join(root, "level.scene"),
		`{"name":"level","entries":[{"name":"sign","path":"greeting.txt"}]}`)
	p, store := newTestPipeline(t, root)

	_, err := p.ImportAll(context.Background())
	require.NoError(t, err)

	sceneRec, err := store.GetByPath("level.scene")
	require.NoError(t, err)
	textRec, err := store.GetByPath("greeting.txt")
	require.NoError(t, err)

	deps, err := store.Dependencies(sceneRec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{textRec.ID.String()}, idStrings(deps))

	// Touching the text re-imports the scene in the same batch.
	writeFile(t, textPath, "hello again")
	changes, err := p.ProcessBatch(context.Background(), []string{textPath}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"greeting.txt", "level.scene"}, changedPaths(changes))
}

func TestProcessBatch_FailureSkipsDependents(t *testing.T) {
	root := t.TempDir()
	textPath := filepath.Join(root, "greeting.txt")
	writeFile(t, textPath, "hello")
	writeFile(t, filepath.Join(root, "level.scene"),
		`{"name":"level","entries":[{"name":"sign","path":"greeting.txt"}]}`)
	p, _ := newTestPipeline(t, root)

	_, err := p.ImportAll(context.Background())
	require.NoError(t, err)

	// Invalid UTF-8 makes the text importer fail; the scene that depends
	// on it must not be re-imported, and the batch must not error out.
	require.NoError(t, os.WriteFile(textPath, []byte{0xff, 0xfe, 0xfd}, 0o644))
	changes, err := p.ProcessBatch(context.Background(), []string{textPath}, nil)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestProcessBatch_MetaEventMapsToSource(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hello.txt")
	writeFile(t, path, "hello")
	p, store := newTestPipeline(t, root)

	_, err := p.ImportAll(context.Background())
	require.NoError(t, err)
	before, err := store.GetByPath("hello.txt")
	require.NoError(t, err)

	// Deleting the sidecar mints a fresh identity on the next import.
	require.NoError(t, os.Remove(path+".meta"))
	changes, err := p.ProcessBatch(context.Background(), nil, []string{path + ".meta"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.NotEqual(t, before.ID, changes[0].ID)
}

func idStrings(ids []assetid.AssetID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

package meta

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/assetid"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnsureForMintsIdentityOnce(t *testing.T) {
	src := writeSource(t, "cube.obj", "v 0 0 0\n")

	f, created, err := EnsureFor(src, "mesh", 1)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, f.ID.IsNil())

	// A second call must load the same identity, not mint a new one.
	again, created, err := EnsureFor(src, "mesh", 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.ID, again.ID)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := writeSource(t, "scene.json", "{}")

	dep := assetid.NewAssetID()
	in := &File{
		ID:              assetid.NewAssetID(),
		TypeID:          assetid.MustTypeID("a1f5c2b3-7d41-4e8a-9c6f-0b2d4e6f8a1c"),
		Importer:        "scene",
		ImporterVersion: 3,
		BuildHash:       42,
		Settings:        map[string]any{"pretty": true},
		Dependencies:    []assetid.AssetID{dep},
	}
	require.NoError(t, Save(src, in))

	out, err := Load(src)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.TypeID, out.TypeID)
	assert.Equal(t, "scene", out.Importer)
	assert.Equal(t, uint32(3), out.ImporterVersion)
	assert.Equal(t, HashValue(42), out.BuildHash)
	assert.Equal(t, []assetid.AssetID{dep}, out.Dependencies)
}

func TestSaveLoadHashBeyondInt64(t *testing.T) {
	// Roughly half of all xxhash values land above MaxInt64; the sidecar
	// must round-trip them.
	src := writeSource(t, "big.txt", "hello")
	in := &File{
		ID:        assetid.NewAssetID(),
		Importer:  "text",
		BuildHash: HashValue(math.MaxUint64 - 1),
	}
	require.NoError(t, Save(src, in))

	out, err := Load(src)
	require.NoError(t, err)
	assert.Equal(t, in.BuildHash, out.BuildHash)
}

func TestLoadRejectsMissingID(t *testing.T) {
	src := writeSource(t, "broken.txt", "hello")
	require.NoError(t, os.WriteFile(PathFor(src), []byte("importer = \"text\"\n"), 0o644))

	_, err := Load(src)
	assert.ErrorContains(t, err, "no asset id")
}

func TestSourceHash(t *testing.T) {
	base := SourceHash([]byte("abc"), "text", 1, nil)

	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, base, SourceHash([]byte("abc"), "text", 1, nil))
	})

	t.Run("source bytes matter", func(t *testing.T) {
		assert.NotEqual(t, base, SourceHash([]byte("abd"), "text", 1, nil))
	})

	t.Run("importer version matters", func(t *testing.T) {
		assert.NotEqual(t, base, SourceHash([]byte("abc"), "text", 2, nil))
	})

	t.Run("settings matter and are order independent", func(t *testing.T) {
		a := SourceHash([]byte("abc"), "text", 1, map[string]any{"a": 1, "b": 2})
		b := SourceHash([]byte("abc"), "text", 1, map[string]any{"b": 2, "a": 1})
		assert.Equal(t, a, b)
		assert.NotEqual(t, base, a)
	})
}

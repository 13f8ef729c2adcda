package packfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/index"
)

func buildTestPack(t *testing.T) (*Pack, assetid.AssetID, assetid.AssetID) {
	t.Helper()

	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer store.Close()

	textID := assetid.NewAssetID()
	sceneID := assetid.NewAssetID()
	require.NoError(t, store.Put(&index.Record{
		ID: textID, Path: "greeting.txt", TypeID: asset.TextTypeID,
		Importer: "text", BuildHash: 11, Artifact: []byte("hello"),
		ImportedAt: time.Now(),
	}, nil))
	require.NoError(t, store.Put(&index.Record{
		ID: sceneID, Path: "level.scene", TypeID: asset.SceneTypeID,
		Importer: "scene", BuildHash: 22, Artifact: []byte("scene-bytes"),
		ImportedAt: time.Now(),
	}, []assetid.AssetID{textID}))

	path := filepath.Join(t.TempDir(), "assets.pack")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, Build(store, f))
	require.NoError(t, f.Close())

	pack, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pack.Close() })
	return pack, textID, sceneID
}

func TestPack_RoundTrip(t *testing.T) {
	pack, textID, sceneID := buildTestPack(t)

	require.Len(t, pack.Entries(), 2)

	entry, artifact, err := pack.Get(textID)
	require.NoError(t, err)
	assert.Equal(t, "greeting.txt", entry.Path)
	assert.Equal(t, asset.TextTypeID.String(), entry.TypeID)
	assert.Equal(t, []byte("hello"), artifact)

	entry, artifact, err = pack.Get(sceneID)
	require.NoError(t, err)
	assert.Equal(t, []byte("scene-bytes"), artifact)
	assert.Equal(t, []string{textID.String()}, entry.Dependencies)
}

func TestPack_ResolvePath(t *testing.T) {
	pack, textID, _ := buildTestPack(t)

	id, err := pack.ResolvePath("greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, textID, id)

	_, err = pack.ResolvePath("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPack_MissingAsset(t *testing.T) {
	pack, _, _ := buildTestPack(t)

	_, _, err := pack.Get(assetid.NewAssetID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pack")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a pack"), 0o644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "not a pack file")
}

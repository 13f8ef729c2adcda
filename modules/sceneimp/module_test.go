package sceneimp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
)

const sceneJSON = `{
  "name": "lobby",
  "entries": [
    {"name": "floor", "path": "models/floor.obj"},
    {"name": "lamp", "path": "models/lamp.obj", "transform": [2,0,0,0, 0,2,0,0, 0,0,2,0, 0,0,0,1]}
  ]
}`

func TestImportResolvesEntries(t *testing.T) {
	floorID := assetid.NewAssetID()
	lampID := assetid.NewAssetID()
	resolve := func(path string) (assetid.AssetID, bool) {
		switch path {
		case "models/floor.obj":
			return floorID, true
		case "models/lamp.obj":
			return lampID, true
		}
		return assetid.AssetID{}, false
	}

	imp := &Importer{}
	out, err := imp.Import(context.Background(), &importer.Input{
		SourcePath:  "lobby.scene",
		Source:      []byte(sceneJSON),
		ResolvePath: resolve,
	})
	require.NoError(t, err)

	var sc asset.Scene
	require.NoError(t, msgpack.Unmarshal(out.Artifact, &sc))

	assert.Equal(t, "lobby", sc.Name)
	require.Len(t, sc.Entries, 2)
	assert.Equal(t, floorID, sc.Entries[0].Asset)
	assert.Equal(t, float32(1), sc.Entries[0].Transform[0], "default transform is identity")
	assert.Equal(t, float32(2), sc.Entries[1].Transform[0])
	assert.ElementsMatch(t, []assetid.AssetID{floorID, lampID}, out.Dependencies)
}

func TestImportFailsOnUnknownReference(t *testing.T) {
	imp := &Importer{}
	_, err := imp.Import(context.Background(), &importer.Input{
		SourcePath:  "lobby.scene",
		Source:      []byte(sceneJSON),
		ResolvePath: func(string) (assetid.AssetID, bool) { return assetid.AssetID{}, false },
	})
	assert.ErrorContains(t, err, "unknown asset")
}

func TestImportFailsWithoutResolver(t *testing.T) {
	imp := &Importer{}
	_, err := imp.Import(context.Background(), &importer.Input{
		SourcePath: "lobby.scene",
		Source:     []byte(sceneJSON),
	})
	assert.ErrorContains(t, err, "no path resolver")
}

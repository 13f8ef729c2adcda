// Package asset defines the built-in asset value types artifacts decode
// into, together with their stable type UUIDs.
//
// Artifacts are msgpack-encoded instances of these structs. The type UUIDs
// are part of the on-disk index and the wire protocol; changing one orphans
// every previously imported artifact of that type.
package asset

import (
	"github.com/vk/assetpipe/internal/assetid"
)

// Type UUIDs for the built-in asset types.
var (
	MeshTypeID    = assetid.MustTypeID("f0a2d2dc-7e57-4b0a-93f3-06f25e2c9b71")
	TextureTypeID = assetid.MustTypeID("2c8aa7a1-08b5-4f3e-8a46-3e1c6cbd9d20")
	TextTypeID    = assetid.MustTypeID("74b1a0e6-5d62-4d5e-9c2e-6a0b3b7f4f9d")
	SceneTypeID   = assetid.MustTypeID("9b67c9dd-3a5c-4f4d-8f2f-1d2a9f0c55e4")
)

// Mesh is triangle geometry with optional per-vertex attributes. Index
// triples reference the position slice; Normals and TexCoords, when
// present, are parallel to Positions.
type Mesh struct {
	Positions []float32 `msgpack:"positions"`
	Normals   []float32 `msgpack:"normals,omitempty"`
	TexCoords []float32 `msgpack:"texcoords,omitempty"`
	Indices   []uint32  `msgpack:"indices"`
}

// VertexCount returns the number of vertices in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Positions) / 3
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// TextureFormat names the pixel layout of a texture's Data.
type TextureFormat string

const (
	TextureRGBA8 TextureFormat = "rgba8"
	TextureGray8 TextureFormat = "gray8"
)

// Texture is a decoded image.
type Texture struct {
	Width  int           `msgpack:"width"`
	Height int           `msgpack:"height"`
	Format TextureFormat `msgpack:"format"`
	Data   []byte        `msgpack:"data"`
}

// Text is an imported plain-text source (shaders, scripts, config).
type Text struct {
	Content string `msgpack:"content"`
}

// SceneEntry places one referenced asset in a scene.
type SceneEntry struct {
	Name      string          `msgpack:"name"`
	Asset     assetid.AssetID `msgpack:"asset"`
	Transform [16]float32     `msgpack:"transform"`
}

// Scene is a collection of placed assets. Its entries are load
// dependencies: a scene is only Loaded once every entry is.
type Scene struct {
	Name    string       `msgpack:"name"`
	Entries []SceneEntry `msgpack:"entries"`
}

// Dependencies returns the ids of all assets the scene references.
func (s *Scene) Dependencies() []assetid.AssetID {
	deps := make([]assetid.AssetID, 0, len(s.Entries))
	for _, e := range s.Entries {
		deps = append(deps, e.Asset)
	}
	return deps
}

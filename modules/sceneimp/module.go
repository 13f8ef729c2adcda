// Package sceneimp imports JSON scene descriptions into scene assets.
//
// A scene source references other assets by source path. The importer
// resolves those paths to stable asset ids at import time and declares them
// as load dependencies, so a change to any referenced source re-imports the
// scene and loading the scene loads everything it places.
package sceneimp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
	"github.com/vk/assetpipe/internal/registry"
)

// Module implements registry.Module for this package.
type Module struct{}

// Register wires the scene asset type and its importer into the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAssetType(&registry.AssetType{
		ID:   asset.SceneTypeID,
		Name: "scene",
		Decode: func(artifact []byte) (any, error) {
			var sc asset.Scene
			if err := msgpack.Unmarshal(artifact, &sc); err != nil {
				return nil, fmt.Errorf("failed to decode scene artifact: %w", err)
			}
			return &sc, nil
		},
	})
	r.RegisterImporter(&Importer{})
}

// sourceScene is the JSON shape of a .scene source file.
type sourceScene struct {
	Name    string        `json:"name"`
	Entries []sourceEntry `json:"entries"`
}

type sourceEntry struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Transform *[16]float32 `json:"transform,omitempty"`
}

// identity is the transform used when an entry declares none.
var identity = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// Importer resolves scene entries against the pipeline's path index.
type Importer struct{}

func (i *Importer) Name() string           { return "scene" }
func (i *Importer) Version() uint32        { return 1 }
func (i *Importer) Extensions() []string   { return []string{".scene"} }
func (i *Importer) TypeID() assetid.TypeID { return asset.SceneTypeID }

func (i *Importer) Import(ctx context.Context, in *importer.Input) (*importer.Output, error) {
	var src sourceScene
	if err := json.Unmarshal(in.Source, &src); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", in.SourcePath, err)
	}
	if in.ResolvePath == nil {
		return nil, fmt.Errorf("cannot import %s: no path resolver available", in.SourcePath)
	}

	sc := &asset.Scene{Name: src.Name}
	for _, e := range src.Entries {
		if e.Path == "" {
			return nil, fmt.Errorf("scene entry %q has no path", e.Name)
		}
		id, ok := in.ResolvePath(e.Path)
		if !ok {
			return nil, fmt.Errorf("scene entry %q references unknown asset %q", e.Name, e.Path)
		}
		transform := identity
		if e.Transform != nil {
			transform = *e.Transform
		}
		sc.Entries = append(sc.Entries, asset.SceneEntry{
			Name:      e.Name,
			Asset:     id,
			Transform: transform,
		})
	}

	artifact, err := msgpack.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scene artifact: %w", err)
	}
	return &importer.Output{
		Artifact:     artifact,
		Dependencies: sc.Dependencies(),
	}, nil
}

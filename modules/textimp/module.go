// Package textimp imports plain-text sources (shaders, scripts, config
// fragments) into text assets.
package textimp

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
	"github.com/vk/assetpipe/internal/registry"
)

// Module implements registry.Module for this package.
type Module struct{}

// Register wires the text asset type and its importer into the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAssetType(&registry.AssetType{
		ID:   asset.TextTypeID,
		Name: "text",
		Decode: func(artifact []byte) (any, error) {
			var txt asset.Text
			if err := msgpack.Unmarshal(artifact, &txt); err != nil {
				return nil, fmt.Errorf("failed to decode text artifact: %w", err)
			}
			return &txt, nil
		},
	})
	r.RegisterImporter(&Importer{})
}

// Importer wraps UTF-8 sources verbatim.
type Importer struct{}

func (i *Importer) Name() string           { return "text" }
func (i *Importer) Version() uint32        { return 1 }
func (i *Importer) Extensions() []string   { return []string{".txt", ".glsl", ".wgsl", ".md"} }
func (i *Importer) TypeID() assetid.TypeID { return asset.TextTypeID }

func (i *Importer) Import(ctx context.Context, in *importer.Input) (*importer.Output, error) {
	if !utf8.Valid(in.Source) {
		return nil, fmt.Errorf("%s is not valid UTF-8", in.SourcePath)
	}
	artifact, err := msgpack.Marshal(&asset.Text{Content: string(in.Source)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode text artifact: %w", err)
	}
	return &importer.Output{Artifact: artifact}, nil
}

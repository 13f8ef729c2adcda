// Package textureimp imports PNG and JPEG images into texture assets.
package textureimp

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
	"github.com/vk/assetpipe/internal/registry"
)

// Module implements registry.Module for this package.
type Module struct{}

// Register wires the texture asset type and its importer into the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAssetType(&registry.AssetType{
		ID:   asset.TextureTypeID,
		Name: "texture",
		Decode: func(artifact []byte) (any, error) {
			var tex asset.Texture
			if err := msgpack.Unmarshal(artifact, &tex); err != nil {
				return nil, fmt.Errorf("failed to decode texture artifact: %w", err)
			}
			return &tex, nil
		},
	})
	r.RegisterImporter(&Importer{})
}

// Importer decodes images into tightly packed pixel data. The `grayscale`
// setting collapses the image to single-channel gray8.
type Importer struct{}

func (i *Importer) Name() string           { return "texture" }
func (i *Importer) Version() uint32        { return 1 }
func (i *Importer) Extensions() []string   { return []string{".png", ".jpg", ".jpeg"} }
func (i *Importer) TypeID() assetid.TypeID { return asset.TextureTypeID }

func (i *Importer) Import(ctx context.Context, in *importer.Input) (*importer.Output, error) {
	img, format, err := image.Decode(bytes.NewReader(in.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", in.SourcePath, err)
	}

	bounds := img.Bounds()
	tex := &asset.Texture{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	grayscale, _ := in.Settings["grayscale"].(bool)
	if grayscale {
		tex.Format = asset.TextureGray8
		tex.Data = make([]byte, 0, tex.Width*tex.Height)
	} else {
		tex.Format = asset.TextureRGBA8
		tex.Data = make([]byte, 0, tex.Width*tex.Height*4)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if grayscale {
				// ITU-R BT.601 luma weights.
				luma := (299*r + 587*g + 114*b) / 1000
				tex.Data = append(tex.Data, byte(luma>>8))
				continue
			}
			tex.Data = append(tex.Data, byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8))
		}
	}

	artifact, err := msgpack.Marshal(tex)
	if err != nil {
		return nil, fmt.Errorf("failed to encode texture artifact (%s source): %w", format, err)
	}
	return &importer.Output{Artifact: artifact}, nil
}

package textureimp

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/importer"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImportPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	imp := &Importer{}
	out, err := imp.Import(context.Background(), &importer.Input{
		SourcePath: "pixels.png",
		Source:     encodePNG(t, img),
	})
	require.NoError(t, err)

	var tex asset.Texture
	require.NoError(t, msgpack.Unmarshal(out.Artifact, &tex))

	assert.Equal(t, 2, tex.Width)
	assert.Equal(t, 1, tex.Height)
	assert.Equal(t, asset.TextureRGBA8, tex.Format)
	assert.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 255}, tex.Data)
}

func TestImportGrayscaleSetting(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	imp := &Importer{}
	out, err := imp.Import(context.Background(), &importer.Input{
		SourcePath: "white.png",
		Source:     encodePNG(t, img),
		Settings:   map[string]any{"grayscale": true},
	})
	require.NoError(t, err)

	var tex asset.Texture
	require.NoError(t, msgpack.Unmarshal(out.Artifact, &tex))

	assert.Equal(t, asset.TextureGray8, tex.Format)
	assert.Equal(t, []byte{255}, tex.Data)
}

func TestImportRejectsGarbage(t *testing.T) {
	imp := &Importer{}
	_, err := imp.Import(context.Background(), &importer.Input{
		SourcePath: "garbage.png",
		Source:     []byte("definitely not an image"),
	})
	assert.ErrorContains(t, err, "failed to decode")
}

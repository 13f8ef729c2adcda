package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
)

var (
	blobTypeID  = assetid.MustTypeID("0b6d41a8-9c1e-4f7b-a0a2-3c5d7e9f1b2d")
	otherTypeID = assetid.MustTypeID("1c7e52b9-ad2f-4a8c-b1b3-4d6e8fa02c3e")
)

type fakeImporter struct {
	name string
	exts []string
	typ  assetid.TypeID
}

func (f *fakeImporter) Name() string           { return f.name }
func (f *fakeImporter) Version() uint32        { return 1 }
func (f *fakeImporter) Extensions() []string   { return f.exts }
func (f *fakeImporter) TypeID() assetid.TypeID { return f.typ }
func (f *fakeImporter) Import(context.Context, *importer.Input) (*importer.Output, error) {
	return &importer.Output{}, nil
}

func blobType() *AssetType {
	return &AssetType{
		ID:     blobTypeID,
		Name:   "blob",
		Decode: func(b []byte) (any, error) { return b, nil },
	}
}

func TestRegisterAssetTypePanicsOnDuplicate(t *testing.T) {
	r := New()
	r.RegisterAssetType(blobType())
	assert.Panics(t, func() { r.RegisterAssetType(blobType()) })
}

func TestRegisterAssetTypePanicsWithoutDecoder(t *testing.T) {
	r := New()
	assert.Panics(t, func() {
		r.RegisterAssetType(&AssetType{ID: blobTypeID, Name: "blob"})
	})
}

func TestRegisterImporterPanicsOnExtensionConflict(t *testing.T) {
	r := New()
	r.RegisterImporter(&fakeImporter{name: "a", exts: []string{".bin"}, typ: blobTypeID})
	assert.Panics(t, func() {
		r.RegisterImporter(&fakeImporter{name: "b", exts: []string{".BIN"}, typ: blobTypeID})
	})
}

func TestImporterFor(t *testing.T) {
	r := New()
	r.RegisterImporter(&fakeImporter{name: "a", exts: []string{".bin"}, typ: blobTypeID})

	imp, ok := r.ImporterFor("/assets/thing.BIN")
	require.True(t, ok)
	assert.Equal(t, "a", imp.Name())

	_, ok = r.ImporterFor("/assets/thing.unknown")
	assert.False(t, ok)

	_, ok = r.ImporterFor("noextension")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	t.Run("ok when importer type is registered", func(t *testing.T) {
		r := New()
		r.RegisterAssetType(blobType())
		r.RegisterImporter(&fakeImporter{name: "a", exts: []string{".bin"}, typ: blobTypeID})
		assert.NoError(t, r.Validate())
	})

	t.Run("fails on unregistered output type", func(t *testing.T) {
		r := New()
		r.RegisterAssetType(blobType())
		r.RegisterImporter(&fakeImporter{name: "a", exts: []string{".bin"}, typ: otherTypeID})
		assert.ErrorContains(t, r.Validate(), "unregistered asset type")
	})
}

func TestDecode(t *testing.T) {
	r := New()
	r.RegisterAssetType(blobType())

	v, err := r.Decode(blobTypeID, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	_, err = r.Decode(otherTypeID, nil)
	assert.ErrorContains(t, err, "no asset type registered")
}

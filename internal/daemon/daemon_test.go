package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/config"
	"github.com/vk/assetpipe/internal/loader"
	"github.com/vk/assetpipe/internal/registry"
	"github.com/vk/assetpipe/internal/wire"
	"github.com/vk/assetpipe/modules/textimp"
)

func newTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello"), 0o644))

	cfg := &config.Model{
		Project: config.Project{
			Name:        "test",
			SourceRoots: []string{root},
			DBPath:      filepath.Join(t.TempDir(), "index.db"),
		},
	}
	require.NoError(t, cfg.Validate())

	reg := registry.New()
	(&textimp.Module{}).Register(reg)
	require.NoError(t, reg.Validate())

	d, err := New(cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, root
}

func TestScan_ImportsProject(t *testing.T) {
	d, _ := newTestDaemon(t)

	changed, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// Nothing dirty on a rescan.
	changed, err = d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestWireEndpoint_ServesIndexedAssets(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := d.Scan(ctx)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = newWireServer(d.store).Serve(ctx, ln) }()

	client, err := wire.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ResolvePath(ctx, "hello.txt")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	resp, err := client.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", resp.Info.Path)
	assert.Equal(t, asset.TextTypeID.String(), resp.Info.TypeID)

	var txt asset.Text
	require.NoError(t, msgpack.Unmarshal(resp.Artifact, &txt))
	assert.Equal(t, "hello", txt.Content)

	assets, err := client.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)

	_, err = client.ResolvePath(ctx, "missing.txt")
	assert.ErrorIs(t, err, wire.ErrNotFound)
}

func TestPack_ProducesLoadableFile(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	packPath := filepath.Join(t.TempDir(), "assets.pack")
	require.NoError(t, d.Pack(ctx, packPath))

	src, err := loader.OpenPack(packPath)
	require.NoError(t, err)
	defer src.Close()

	id, err := src.ResolvePath(ctx, "hello.txt")
	require.NoError(t, err)

	a, err := src.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, asset.TextTypeID, a.TypeID)

	var txt asset.Text
	require.NoError(t, msgpack.Unmarshal(a.Artifact, &txt))
	assert.Equal(t, "hello", txt.Content)
}

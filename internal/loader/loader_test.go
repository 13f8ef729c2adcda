package loader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/registry"
	"github.com/vk/assetpipe/modules/sceneimp"
	"github.com/vk/assetpipe/modules/textimp"
)

// fakeSource is an in-memory Source for loader tests.
type fakeSource struct {
	mu      sync.Mutex
	assets  map[assetid.AssetID]*Asset
	byPath  map[string]assetid.AssetID
	changes chan Change
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		assets:  make(map[assetid.AssetID]*Asset),
		byPath:  make(map[string]assetid.AssetID),
		changes: make(chan Change, 8),
	}
}

func (f *fakeSource) put(a *Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[a.ID] = a
	f.byPath[a.Path] = a.ID
}

func (f *fakeSource) ResolvePath(_ context.Context, path string) (assetid.AssetID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPath[path]
	if !ok {
		return assetid.AssetID{}, fmt.Errorf("no asset at %s", path)
	}
	return id, nil
}

func (f *fakeSource) Get(_ context.Context, id assetid.AssetID) (*Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return nil, fmt.Errorf("no asset %s", id.String())
	}
	return a, nil
}

func (f *fakeSource) Changes() <-chan Change { return f.changes }
func (f *fakeSource) Close() error           { return nil }

func textAsset(t *testing.T, path, content string) *Asset {
	t.Helper()
	artifact, err := msgpack.Marshal(&asset.Text{Content: content})
	require.NoError(t, err)
	return &Asset{
		ID:       assetid.NewAssetID(),
		Path:     path,
		TypeID:   asset.TextTypeID,
		Artifact: artifact,
	}
}

func newTestLoader(t *testing.T, src Source) (*Loader, context.Context) {
	t.Helper()
	reg := registry.New()
	(&textimp.Module{}).Register(reg)
	(&sceneimp.Module{}).Register(reg)

	l := New(src, reg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = l.Run(ctx) }()
	return l, ctx
}

func waitCompletion(t *testing.T, l *Loader, kind CompletionKind) Completion {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-l.Completions():
			if c.Kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for completion kind %d", kind)
		}
	}
}

func TestLoad_DecodesThroughRegistry(t *testing.T) {
	src := newFakeSource()
	src.put(textAsset(t, "greeting.txt", "hello"))
	l, ctx := newTestLoader(t, src)

	h, err := l.Load(ctx, "greeting.txt")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, uint64(h), uint64(2), "handles 0 and 1 are reserved")

	c := waitCompletion(t, l, CompletionLoaded)
	assert.Equal(t, h, c.Handle)
	assert.Equal(t, Loaded, l.Status(h))

	value, ok := l.Get(h)
	require.True(t, ok)
	assert.Equal(t, "hello", value.(*asset.Text).Content)
}

func TestLoad_SameAssetSharesHandle(t *testing.T) {
	src := newFakeSource()
	a := textAsset(t, "greeting.txt", "hello")
	src.put(a)
	l, ctx := newTestLoader(t, src)

	h1 := l.LoadByID(ctx, a.ID)
	h2 := l.LoadByID(ctx, a.ID)
	assert.Equal(t, h1, h2)
}

func TestLoad_FailureSurfacesError(t *testing.T) {
	src := newFakeSource()
	l, ctx := newTestLoader(t, src)

	h := l.LoadByID(ctx, assetid.NewAssetID())
	c := waitCompletion(t, l, CompletionFailed)
	assert.Equal(t, h, c.Handle)
	assert.Equal(t, Failed, l.Status(h))
	assert.Error(t, l.Err(h))
}

func TestLoad_SceneLoadsDependencies(t *testing.T) {
	src := newFakeSource()
	text := textAsset(t, "greeting.txt", "hello")
	src.put(text)

	sceneArtifact, err := msgpack.Marshal(&asset.Scene{
		Name:    "level",
		Entries: []asset.SceneEntry{{Name: "sign", Asset: text.ID}},
	})
	require.NoError(t, err)
	scene := &Asset{
		ID:           assetid.NewAssetID(),
		Path:         "level.scene",
		TypeID:       asset.SceneTypeID,
		Artifact:     sceneArtifact,
		Dependencies: []assetid.AssetID{text.ID},
	}
	src.put(scene)

	l, ctx := newTestLoader(t, src)
	l.LoadByID(ctx, scene.ID)

	// Both the scene and its text dependency finish loading.
	waitCompletion(t, l, CompletionLoaded)
	waitCompletion(t, l, CompletionLoaded)

	textHandle, ok := l.HandleFor(text.ID)
	require.True(t, ok)
	assert.Equal(t, Loaded, l.Status(textHandle))
}

func TestRelease_LastRefUnloadsAndCollects(t *testing.T) {
	src := newFakeSource()
	a := textAsset(t, "greeting.txt", "hello")
	src.put(a)
	l, ctx := newTestLoader(t, src)

	h := l.LoadByID(ctx, a.ID)
	waitCompletion(t, l, CompletionLoaded)

	l.RefOps() <- assetid.RefOp{Kind: assetid.RefDecrement, Handle: h}
	require.Eventually(t, func() bool {
		return l.Status(h) == Unloading
	}, 5*time.Second, 10*time.Millisecond)

	freed := l.Collect()
	assert.Equal(t, []assetid.LoadHandle{h}, freed)
	assert.Equal(t, NotLoaded, l.Status(h))
}

func TestHotReload_UpdatesResidentAsset(t *testing.T) {
	src := newFakeSource()
	a := textAsset(t, "greeting.txt", "hello")
	src.put(a)
	l, ctx := newTestLoader(t, src)

	h := l.LoadByID(ctx, a.ID)
	waitCompletion(t, l, CompletionLoaded)

	updated := textAsset(t, "greeting.txt", "hello again")
	updated.ID = a.ID
	src.put(updated)
	src.changes <- Change{ID: a.ID, Path: a.Path, TypeID: a.TypeID}

	c := waitCompletion(t, l, CompletionModified)
	assert.Equal(t, h, c.Handle)
	value, ok := l.Get(h)
	require.True(t, ok)
	assert.Equal(t, "hello again", value.(*asset.Text).Content)
}

func TestRemoval_ReleasesDependencyRefs(t *testing.T) {
	src := newFakeSource()
	text := textAsset(t, "greeting.txt", "hello")
	src.put(text)

	sceneArtifact, err := msgpack.Marshal(&asset.Scene{
		Name:    "level",
		Entries: []asset.SceneEntry{{Name: "sign", Asset: text.ID}},
	})
	require.NoError(t, err)
	scene := &Asset{
		ID:           assetid.NewAssetID(),
		Path:         "level.scene",
		TypeID:       asset.SceneTypeID,
		Artifact:     sceneArtifact,
		Dependencies: []assetid.AssetID{text.ID},
	}
	src.put(scene)

	l, ctx := newTestLoader(t, src)
	l.LoadByID(ctx, scene.ID)
	waitCompletion(t, l, CompletionLoaded)
	waitCompletion(t, l, CompletionLoaded)

	textHandle, ok := l.HandleFor(text.ID)
	require.True(t, ok)

	// The scene held the only reference on the text. Removing the scene
	// must release it, making the text collectible.
	src.changes <- Change{ID: scene.ID, Path: scene.Path, Removed: true}
	waitCompletion(t, l, CompletionRemoved)

	assert.Equal(t, Unloading, l.Status(textHandle))
	assert.Equal(t, []assetid.LoadHandle{textHandle}, l.Collect())
}

func TestRemoval_FailsResidentHandle(t *testing.T) {
	src := newFakeSource()
	a := textAsset(t, "greeting.txt", "hello")
	src.put(a)
	l, ctx := newTestLoader(t, src)

	h := l.LoadByID(ctx, a.ID)
	waitCompletion(t, l, CompletionLoaded)

	src.changes <- Change{ID: a.ID, Path: a.Path, Removed: true}
	waitCompletion(t, l, CompletionRemoved)
	assert.Equal(t, Failed, l.Status(h))
	assert.ErrorContains(t, l.Err(h), "removed")
}

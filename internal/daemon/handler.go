package daemon

import (
	"errors"
	"fmt"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/index"
	"github.com/vk/assetpipe/internal/wire"
)

// indexHandler answers wire requests straight from the index. Artifacts
// always come from the index, never from source files.
type indexHandler struct {
	store *index.Store
}

func newWireServer(store *index.Store) *wire.Server {
	return wire.NewServer(&indexHandler{store: store})
}

func (h *indexHandler) ResolvePath(path string) (string, error) {
	id, err := h.store.ResolvePath(path)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", wire.ErrNotFound, path)
		}
		return "", err
	}
	return id.String(), nil
}

func (h *indexHandler) GetAsset(rawID string) (*wire.GetAssetResp, error) {
	id, err := assetid.ParseAssetID(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid asset id %q: %w", rawID, err)
	}
	rec, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", wire.ErrNotFound, rawID)
		}
		return nil, err
	}
	deps, err := h.store.Dependencies(id)
	if err != nil {
		return nil, err
	}

	resp := &wire.GetAssetResp{
		Info: wire.AssetInfo{
			ID:        rec.ID.String(),
			Path:      rec.Path,
			TypeID:    rec.TypeID.String(),
			BuildHash: rec.BuildHash,
		},
		Artifact: rec.Artifact,
	}
	for _, dep := range deps {
		resp.Dependencies = append(resp.Dependencies, dep.String())
	}
	return resp, nil
}

func (h *indexHandler) ListAssets() (*wire.ListAssetsResp, error) {
	records, err := h.store.List()
	if err != nil {
		return nil, err
	}
	resp := &wire.ListAssetsResp{}
	for _, rec := range records {
		resp.Assets = append(resp.Assets, wire.AssetInfo{
			ID:        rec.ID.String(),
			Path:      rec.Path,
			TypeID:    rec.TypeID.String(),
			BuildHash: rec.BuildHash,
		})
	}
	return resp, nil
}

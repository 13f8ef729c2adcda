package loader

import (
	"context"
	"fmt"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/notify"
	"github.com/vk/assetpipe/internal/packfile"
	"github.com/vk/assetpipe/internal/wire"
)

// Asset is one fetched asset: metadata, artifact, and load dependencies.
type Asset struct {
	ID           assetid.AssetID
	Path         string
	TypeID       assetid.TypeID
	Artifact     []byte
	Dependencies []assetid.AssetID
}

// Change mirrors a source-side asset change.
type Change struct {
	ID      assetid.AssetID
	Path    string
	TypeID  assetid.TypeID
	Removed bool
}

// Source is where a loader gets its assets from: a running daemon during
// development, a pack file in shipped builds.
type Source interface {
	ResolvePath(ctx context.Context, path string) (assetid.AssetID, error)
	Get(ctx context.Context, id assetid.AssetID) (*Asset, error)
	// Changes streams source-side updates. A nil channel means the source
	// is immutable.
	Changes() <-chan Change
	Close() error
}

// DaemonSource serves assets from a live import daemon: artifacts over the
// wire protocol, change events over the notify subscriber.
type DaemonSource struct {
	client  *wire.Client
	sub     *notify.Subscriber
	changes chan Change
}

// ConnectDaemon dials the daemon's wire endpoint and subscribes to its
// change feed. An empty notifyAddr skips the subscription; loads still
// work, hot reload does not.
func ConnectDaemon(ctx context.Context, daemonAddr, notifyAddr string) (*DaemonSource, error) {
	client, err := wire.Dial(ctx, daemonAddr)
	if err != nil {
		return nil, err
	}
	src := &DaemonSource{client: client}
	if notifyAddr != "" {
		sub, err := notify.Subscribe(ctx, notifyAddr)
		if err != nil {
			client.Close()
			return nil, err
		}
		src.sub = sub
		src.changes = make(chan Change, 64)
		go src.relay()
	}
	return src, nil
}

func (s *DaemonSource) relay() {
	defer close(s.changes)
	for change := range s.sub.Changes() {
		s.changes <- Change{
			ID:      change.ID,
			Path:    change.Path,
			TypeID:  change.TypeID,
			Removed: change.Removed,
		}
	}
}

func (s *DaemonSource) ResolvePath(ctx context.Context, path string) (assetid.AssetID, error) {
	raw, err := s.client.ResolvePath(ctx, path)
	if err != nil {
		return assetid.AssetID{}, err
	}
	return assetid.ParseAssetID(raw)
}

func (s *DaemonSource) Get(ctx context.Context, id assetid.AssetID) (*Asset, error) {
	resp, err := s.client.GetAsset(ctx, id.String())
	if err != nil {
		return nil, err
	}
	typeID, err := assetid.ParseTypeID(resp.Info.TypeID)
	if err != nil {
		return nil, fmt.Errorf("daemon sent invalid type id %q: %w", resp.Info.TypeID, err)
	}
	out := &Asset{
		ID:       id,
		Path:     resp.Info.Path,
		TypeID:   typeID,
		Artifact: resp.Artifact,
	}
	for _, raw := range resp.Dependencies {
		dep, err := assetid.ParseAssetID(raw)
		if err != nil {
			return nil, fmt.Errorf("daemon sent invalid dependency id %q: %w", raw, err)
		}
		out.Dependencies = append(out.Dependencies, dep)
	}
	return out, nil
}

func (s *DaemonSource) Changes() <-chan Change { return s.changes }

func (s *DaemonSource) Close() error {
	if s.sub != nil {
		s.sub.Close()
	}
	return s.client.Close()
}

// PackSource serves assets from a pack file. It never changes.
type PackSource struct {
	pack *packfile.Pack
}

// OpenPack opens a pack file as a loader source.
func OpenPack(path string) (*PackSource, error) {
	pack, err := packfile.Open(path)
	if err != nil {
		return nil, err
	}
	return &PackSource{pack: pack}, nil
}

func (s *PackSource) ResolvePath(ctx context.Context, path string) (assetid.AssetID, error) {
	return s.pack.ResolvePath(path)
}

func (s *PackSource) Get(ctx context.Context, id assetid.AssetID) (*Asset, error) {
	entry, artifact, err := s.pack.Get(id)
	if err != nil {
		return nil, err
	}
	typeID, err := assetid.ParseTypeID(entry.TypeID)
	if err != nil {
		return nil, fmt.Errorf("pack has invalid type id %q: %w", entry.TypeID, err)
	}
	out := &Asset{
		ID:       id,
		Path:     entry.Path,
		TypeID:   typeID,
		Artifact: artifact,
	}
	for _, raw := range entry.Dependencies {
		dep, err := assetid.ParseAssetID(raw)
		if err != nil {
			return nil, fmt.Errorf("pack has invalid dependency id %q: %w", raw, err)
		}
		out.Dependencies = append(out.Dependencies, dep)
	}
	return out, nil
}

func (s *PackSource) Changes() <-chan Change { return nil }

func (s *PackSource) Close() error { return s.pack.Close() }

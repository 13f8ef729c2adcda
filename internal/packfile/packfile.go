// Package packfile bundles imported artifacts into a single distributable
// file, so shipped builds can load assets without a daemon or an index.
//
// Layout: concatenated artifact blobs, a msgpack directory, an 8-byte
// big-endian directory offset, and a 4-byte magic trailer. Readers seek to
// the trailer first, so the file streams out in one pass when building.
package packfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/index"
)

var magic = [4]byte{'a', 'p', 'k', '1'}

const trailerSize = 12 // 8-byte directory offset + magic

// ErrNotFound is returned when a pack does not contain the requested asset.
var ErrNotFound = fmt.Errorf("asset not found in pack")

// Entry describes one packed asset.
type Entry struct {
	ID           string   `msgpack:"id"`
	Path         string   `msgpack:"path"`
	TypeID       string   `msgpack:"type_id"`
	BuildHash    uint64   `msgpack:"build_hash"`
	Offset       int64    `msgpack:"offset"`
	Size         int64    `msgpack:"size"`
	Dependencies []string `msgpack:"dependencies,omitempty"`
}

type directory struct {
	Entries []Entry `msgpack:"entries"`
}

// Build writes every indexed asset into a pack. Entries keep their index
// order, which is stable by path.
func Build(store *index.Store, w io.Writer) error {
	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list assets for packing: %w", err)
	}

	var dir directory
	var offset int64
	for _, rec := range records {
		full, err := store.Get(rec.ID)
		if err != nil {
			return fmt.Errorf("failed to load artifact for %s: %w", rec.Path, err)
		}
		deps, err := store.Dependencies(rec.ID)
		if err != nil {
			return fmt.Errorf("failed to load dependencies for %s: %w", rec.Path, err)
		}
		if _, err := w.Write(full.Artifact); err != nil {
			return fmt.Errorf("failed to write artifact for %s: %w", rec.Path, err)
		}
		entry := Entry{
			ID:        rec.ID.String(),
			Path:      rec.Path,
			TypeID:    rec.TypeID.String(),
			BuildHash: rec.BuildHash,
			Offset:    offset,
			Size:      int64(len(full.Artifact)),
		}
		for _, dep := range deps {
			entry.Dependencies = append(entry.Dependencies, dep.String())
		}
		dir.Entries = append(dir.Entries, entry)
		offset += entry.Size
	}

	dirBytes, err := msgpack.Marshal(&dir)
	if err != nil {
		return fmt.Errorf("failed to encode pack directory: %w", err)
	}
	if _, err := w.Write(dirBytes); err != nil {
		return fmt.Errorf("failed to write pack directory: %w", err)
	}

	var trailer [trailerSize]byte
	binary.BigEndian.PutUint64(trailer[:8], uint64(offset))
	copy(trailer[8:], magic[:])
	if _, err := w.Write(trailer[:]); err != nil {
		return fmt.Errorf("failed to write pack trailer: %w", err)
	}
	return nil
}

// Pack is a read-only view over a pack file.
type Pack struct {
	f      *os.File
	byID   map[assetid.AssetID]*Entry
	byPath map[string]*Entry
	order  []Entry
}

// Open maps a pack file's directory into memory. Artifact bytes are read
// on demand.
func Open(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pack: %w", err)
	}

	pack, err := load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pack, nil
}

func load(f *os.File) (*Pack, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat pack: %w", err)
	}
	if info.Size() < trailerSize {
		return nil, fmt.Errorf("pack is truncated")
	}

	var trailer [trailerSize]byte
	if _, err := f.ReadAt(trailer[:], info.Size()-trailerSize); err != nil {
		return nil, fmt.Errorf("failed to read pack trailer: %w", err)
	}
	if [4]byte(trailer[8:12]) != magic {
		return nil, fmt.Errorf("not a pack file")
	}

	dirOffset := int64(binary.BigEndian.Uint64(trailer[:8]))
	dirSize := info.Size() - trailerSize - dirOffset
	if dirOffset < 0 || dirSize <= 0 {
		return nil, fmt.Errorf("pack directory offset is out of range")
	}

	dirBytes := make([]byte, dirSize)
	if _, err := f.ReadAt(dirBytes, dirOffset); err != nil {
		return nil, fmt.Errorf("failed to read pack directory: %w", err)
	}
	var dir directory
	if err := msgpack.Unmarshal(dirBytes, &dir); err != nil {
		return nil, fmt.Errorf("failed to decode pack directory: %w", err)
	}

	p := &Pack{
		f:      f,
		byID:   make(map[assetid.AssetID]*Entry, len(dir.Entries)),
		byPath: make(map[string]*Entry, len(dir.Entries)),
		order:  dir.Entries,
	}
	for i := range p.order {
		entry := &p.order[i]
		id, err := assetid.ParseAssetID(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("pack directory has invalid asset id %q: %w", entry.ID, err)
		}
		p.byID[id] = entry
		p.byPath[entry.Path] = entry
	}
	return p, nil
}

// Close releases the underlying file.
func (p *Pack) Close() error {
	return p.f.Close()
}

// Entries returns the pack directory in pack order.
func (p *Pack) Entries() []Entry {
	return p.order
}

// ResolvePath returns the asset id packed under the given source path.
func (p *Pack) ResolvePath(path string) (assetid.AssetID, error) {
	entry, ok := p.byPath[path]
	if !ok {
		return assetid.AssetID{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return assetid.ParseAssetID(entry.ID)
}

// Get returns an asset's directory entry and artifact bytes.
func (p *Pack) Get(id assetid.AssetID) (*Entry, []byte, error) {
	entry, ok := p.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}
	artifact := make([]byte, entry.Size)
	if _, err := p.f.ReadAt(artifact, entry.Offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact for %s: %w", entry.Path, err)
	}
	return entry, artifact, nil
}

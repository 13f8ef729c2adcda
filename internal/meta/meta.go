// Package meta reads and writes the .meta sidecar files that pin a source
// file to its stable asset identity and record how it was last imported.
//
// A sidecar lives next to its source file (`model.obj` -> `model.obj.meta`)
// and is the only place an asset's UUID is stored. Deleting it severs the
// identity: the next import mints a new UUID.
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/vk/assetpipe/internal/assetid"
)

// Extension is the sidecar suffix appended to the source file name.
const Extension = ".meta"

// HashValue is a 64-bit build hash. It travels as a decimal string in the
// sidecar: TOML integers are signed and xxhash values overflow them.
type HashValue uint64

// MarshalText implements encoding.TextMarshaler.
func (h HashValue) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(h), 10)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HashValue) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid build hash %q: %w", string(text), err)
	}
	*h = HashValue(v)
	return nil
}

// File is the decoded contents of one .meta sidecar.
type File struct {
	ID              assetid.AssetID   `toml:"id"`
	TypeID          assetid.TypeID    `toml:"type_id"`
	Importer        string            `toml:"importer"`
	ImporterVersion uint32            `toml:"importer_version"`
	BuildHash       HashValue         `toml:"build_hash,omitempty"`
	Settings        map[string]any    `toml:"settings,omitempty"`
	Dependencies    []assetid.AssetID `toml:"dependencies,omitempty"`
}

// PathFor returns the sidecar path for a source file.
func PathFor(sourcePath string) string {
	return sourcePath + Extension
}

// Load reads and decodes the sidecar for the given source file.
func Load(sourcePath string) (*File, error) {
	raw, err := os.ReadFile(PathFor(sourcePath))
	if err != nil {
		return nil, err
	}
	var f File
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to decode meta file for %s: %w", sourcePath, err)
	}
	if f.ID.IsNil() {
		return nil, fmt.Errorf("meta file for %s has no asset id", sourcePath)
	}
	return &f, nil
}

// Save encodes and writes the sidecar for the given source file.
func Save(sourcePath string, f *File) error {
	raw, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode meta file for %s: %w", sourcePath, err)
	}
	if err := os.WriteFile(PathFor(sourcePath), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write meta file for %s: %w", sourcePath, err)
	}
	return nil
}

// EnsureFor loads the sidecar for sourcePath, creating one with a fresh
// asset id when none exists. The boolean result is true when a new identity
// was minted.
func EnsureFor(sourcePath, importerName string, importerVersion uint32) (*File, bool, error) {
	f, err := Load(sourcePath)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	f = &File{
		ID:              assetid.NewAssetID(),
		Importer:        importerName,
		ImporterVersion: importerVersion,
	}
	if err := Save(sourcePath, f); err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// SourceHash computes the build hash of a source file: a 64-bit xxhash over
// the source bytes, the importer identity, and the importer settings. Two
// equal hashes mean the previous artifact is still valid and the import can
// be skipped.
func SourceHash(source []byte, importerName string, importerVersion uint32, settings map[string]any) uint64 {
	d := xxhash.New()
	_, _ = d.Write(source)
	_, _ = d.WriteString(importerName)

	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], importerVersion)
	_, _ = d.Write(ver[:])

	// Settings are hashed in key order so map iteration order cannot
	// change the hash.
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString(fmt.Sprintf("%v", settings[k]))
	}

	return d.Sum64()
}

// Package registry provides the central glue between asset type UUIDs,
// their Go decode functions, and the importers that produce them.
//
// The registry is populated once at startup by the modules compiled into
// the binary and validated before anything runs, so a mismatch between an
// importer and its asset type is caught immediately rather than on first
// import.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
)

// DecodeFn turns an artifact's msgpack bytes back into the asset value.
type DecodeFn func(artifact []byte) (any, error)

// AssetType is one registered asset type.
type AssetType struct {
	ID     assetid.TypeID
	Name   string
	Decode DecodeFn
}

// Module is the interface every importer package implements to wire itself
// into a registry.
type Module interface {
	Register(r *Registry)
}

// Registry holds the asset types and importers for a single application
// instance.
type Registry struct {
	types     map[assetid.TypeID]*AssetType
	importers map[string]importer.Importer // keyed by extension, lower-case
	byName    map[string]importer.Importer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		types:     make(map[assetid.TypeID]*AssetType),
		importers: make(map[string]importer.Importer),
		byName:    make(map[string]importer.Importer),
	}
}

// RegisterAssetType adds an asset type. Registering the same type id twice
// is a programmer error and panics.
func (r *Registry) RegisterAssetType(t *AssetType) {
	if _, exists := r.types[t.ID]; exists {
		panic(fmt.Sprintf("asset type '%s' (%s) already registered", t.Name, t.ID))
	}
	if t.Decode == nil {
		panic(fmt.Sprintf("asset type '%s' registered without a decode function", t.Name))
	}
	slog.Debug("Registering asset type.", "name", t.Name, "typeID", t.ID.String())
	r.types[t.ID] = t
}

// RegisterImporter adds an importer for every extension it claims.
// Claiming an extension twice is a programmer error and panics.
func (r *Registry) RegisterImporter(imp importer.Importer) {
	if _, exists := r.byName[imp.Name()]; exists {
		panic(fmt.Sprintf("importer '%s' already registered", imp.Name()))
	}
	r.byName[imp.Name()] = imp
	for _, ext := range imp.Extensions() {
		ext = strings.ToLower(ext)
		if prev, exists := r.importers[ext]; exists {
			panic(fmt.Sprintf("extension '%s' claimed by both '%s' and '%s'", ext, prev.Name(), imp.Name()))
		}
		slog.Debug("Registering importer.", "name", imp.Name(), "extension", ext)
		r.importers[ext] = imp
	}
}

// AssetType looks up a registered asset type by id.
func (r *Registry) AssetType(id assetid.TypeID) (*AssetType, bool) {
	t, ok := r.types[id]
	return t, ok
}

// ImporterFor returns the importer claiming the given source path's
// extension, or false when the file is not an asset source.
func (r *Registry) ImporterFor(path string) (importer.Importer, bool) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return nil, false
	}
	imp, ok := r.importers[strings.ToLower(path[idx:])]
	return imp, ok
}

// ImporterByName looks up an importer by its stable name, as recorded in
// .meta sidecars.
func (r *Registry) ImporterByName(name string) (importer.Importer, bool) {
	imp, ok := r.byName[name]
	return imp, ok
}

// Decode decodes an artifact using the registered decoder for its type.
func (r *Registry) Decode(typeID assetid.TypeID, artifact []byte) (any, error) {
	t, ok := r.types[typeID]
	if !ok {
		return nil, fmt.Errorf("no asset type registered for %s", typeID)
	}
	return t.Decode(artifact)
}

// Validate checks the integrity of the registry: every importer must
// produce a registered asset type.
func (r *Registry) Validate() error {
	for name, imp := range r.byName {
		if _, ok := r.types[imp.TypeID()]; !ok {
			return fmt.Errorf("importer '%s' produces unregistered asset type %s", name, imp.TypeID())
		}
	}
	return nil
}

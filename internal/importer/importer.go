// Package importer defines the contract between the pipeline and the
// format-specific importers that live under modules/.
package importer

import (
	"context"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/meta"
)

// Importer turns one source file into one artifact. Implementations must be
// safe for concurrent use; the pipeline calls Import from multiple workers.
type Importer interface {
	// Name is the stable importer identifier recorded in .meta sidecars.
	Name() string
	// Version participates in the build hash; bump it to force re-import
	// of every asset this importer owns.
	Version() uint32
	// Extensions lists the source file extensions (with leading dot) this
	// importer claims.
	Extensions() []string
	// TypeID is the asset type the importer produces.
	TypeID() assetid.TypeID
	// Import produces the artifact for one source file.
	Import(ctx context.Context, in *Input) (*Output, error)
}

// Input carries everything an importer may need for one source file.
type Input struct {
	// SourcePath is the absolute path of the source file.
	SourcePath string
	// Source is the raw source file contents.
	Source []byte
	// Settings are the importer settings in effect, merged from project
	// config defaults and the .meta sidecar.
	Settings map[string]any
	// Meta is the sidecar, already loaded. Importers must not write it.
	Meta *meta.File
	// ResolvePath maps a source-relative path to an asset id, for
	// importers whose sources reference other assets. Nil when the
	// pipeline cannot resolve (e.g. packfile verification tooling).
	ResolvePath func(path string) (assetid.AssetID, bool)
}

// Output is the result of a successful import.
type Output struct {
	// Artifact is the msgpack-encoded asset value.
	Artifact []byte
	// Dependencies are the ids of assets this asset loads at runtime.
	Dependencies []assetid.AssetID
}

// Package meshimp imports Wavefront OBJ geometry into mesh assets.
package meshimp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/assetpipe/internal/asset"
	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/importer"
	"github.com/vk/assetpipe/internal/registry"
)

// Module implements registry.Module for this package.
type Module struct{}

// Register wires the mesh asset type and its importer into the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAssetType(&registry.AssetType{
		ID:   asset.MeshTypeID,
		Name: "mesh",
		Decode: func(artifact []byte) (any, error) {
			var mesh asset.Mesh
			if err := msgpack.Unmarshal(artifact, &mesh); err != nil {
				return nil, fmt.Errorf("failed to decode mesh artifact: %w", err)
			}
			return &mesh, nil
		},
	})
	r.RegisterImporter(&Importer{})
}

// Importer parses a useful subset of Wavefront OBJ: v/vn/vt records and
// polygonal faces, which are fan-triangulated. Groups, materials and smoothing
// directives are ignored.
type Importer struct{}

func (i *Importer) Name() string           { return "mesh" }
func (i *Importer) Version() uint32        { return 1 }
func (i *Importer) Extensions() []string   { return []string{".obj"} }
func (i *Importer) TypeID() assetid.TypeID { return asset.MeshTypeID }

func (i *Importer) Import(ctx context.Context, in *importer.Input) (*importer.Output, error) {
	mesh, err := parseOBJ(in.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", in.SourcePath, err)
	}

	if flip, _ := in.Settings["flip_winding"].(bool); flip {
		for t := 0; t+2 < len(mesh.Indices); t += 3 {
			mesh.Indices[t+1], mesh.Indices[t+2] = mesh.Indices[t+2], mesh.Indices[t+1]
		}
	}

	artifact, err := msgpack.Marshal(mesh)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mesh artifact: %w", err)
	}
	return &importer.Output{Artifact: artifact}, nil
}

// corner is one face corner as it appears in the OBJ file: 1-based indices
// into the position/texcoord/normal record lists, 0 meaning absent.
type corner struct {
	v, vt, vn int
}

func parseOBJ(source []byte) (*asset.Mesh, error) {
	var positions, normals, texcoords []float32
	var faces [][]corner

	for lineNo, line := range strings.Split(string(source), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			vals, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad vertex: %w", lineNo+1, err)
			}
			positions = append(positions, vals...)
		case "vn":
			vals, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad normal: %w", lineNo+1, err)
			}
			normals = append(normals, vals...)
		case "vt":
			vals, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad texcoord: %w", lineNo+1, err)
			}
			texcoords = append(texcoords, vals...)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face with fewer than 3 corners", lineNo+1)
			}
			face := make([]corner, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				c, err := parseCorner(ref)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
				}
				face = append(face, c)
			}
			faces = append(faces, face)
		default:
			// o, g, s, mtllib, usemtl and friends carry no geometry.
		}
	}

	return buildMesh(positions, normals, texcoords, faces)
}

func parseFloats(fields []string, want int) ([]float32, error) {
	if len(fields) < want {
		return nil, fmt.Errorf("expected %d components, got %d", want, len(fields))
	}
	out := make([]float32, want)
	for i := 0; i < want; i++ {
		v, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, fmt.Errorf("bad float %q", fields[i])
		}
		out[i] = float32(v)
	}
	return out, nil
}

func parseCorner(ref string) (corner, error) {
	parts := strings.Split(ref, "/")
	var c corner
	var err error
	if c.v, err = strconv.Atoi(parts[0]); err != nil || c.v <= 0 {
		return c, fmt.Errorf("bad face reference %q", ref)
	}
	if len(parts) > 1 && parts[1] != "" {
		if c.vt, err = strconv.Atoi(parts[1]); err != nil || c.vt <= 0 {
			return c, fmt.Errorf("bad face reference %q", ref)
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if c.vn, err = strconv.Atoi(parts[2]); err != nil || c.vn <= 0 {
			return c, fmt.Errorf("bad face reference %q", ref)
		}
	}
	return c, nil
}

// buildMesh flattens the OBJ's separately indexed records into a single
// vertex stream, deduplicating identical corners, and fan-triangulates
// every face.
func buildMesh(positions, normals, texcoords []float32, faces [][]corner) (*asset.Mesh, error) {
	mesh := &asset.Mesh{}
	seen := make(map[corner]uint32)
	hasNormals := len(normals) > 0
	hasTexCoords := len(texcoords) > 0

	emit := func(c corner) (uint32, error) {
		if idx, ok := seen[c]; ok {
			return idx, nil
		}
		if c.v*3 > len(positions) {
			return 0, fmt.Errorf("face references vertex %d of %d", c.v, len(positions)/3)
		}
		mesh.Positions = append(mesh.Positions, positions[(c.v-1)*3:(c.v-1)*3+3]...)
		if hasNormals {
			if c.vn == 0 || c.vn*3 > len(normals) {
				return 0, fmt.Errorf("face references normal %d of %d", c.vn, len(normals)/3)
			}
			mesh.Normals = append(mesh.Normals, normals[(c.vn-1)*3:(c.vn-1)*3+3]...)
		}
		if hasTexCoords {
			if c.vt == 0 || c.vt*2 > len(texcoords) {
				return 0, fmt.Errorf("face references texcoord %d of %d", c.vt, len(texcoords)/2)
			}
			mesh.TexCoords = append(mesh.TexCoords, texcoords[(c.vt-1)*2:(c.vt-1)*2+2]...)
		}
		idx := uint32(len(seen))
		seen[c] = idx
		return idx, nil
	}

	for _, face := range faces {
		first, err := emit(face[0])
		if err != nil {
			return nil, err
		}
		prev, err := emit(face[1])
		if err != nil {
			return nil, err
		}
		for _, c := range face[2:] {
			cur, err := emit(c)
			if err != nil {
				return nil, err
			}
			mesh.Indices = append(mesh.Indices, first, prev, cur)
			prev = cur
		}
	}

	return mesh, nil
}

// Package hclcfg implements config.Loader for HCL project files.
package hclcfg

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/assetpipe/internal/config"
	"github.com/vk/assetpipe/internal/ctxlog"
)

// Loader parses assetpipe.hcl project files.
type Loader struct{}

// NewLoader returns a new HCL project file loader.
func NewLoader() *Loader {
	return &Loader{}
}

type fileSchema struct {
	Project   *projectBlock    `hcl:"project,block"`
	Importers []*importerBlock `hcl:"importer,block"`
}

type projectBlock struct {
	Name        string   `hcl:"name,label"`
	SourceRoots []string `hcl:"source_roots"`
	Ignore      []string `hcl:"ignore,optional"`
	DBPath      string   `hcl:"db_path,optional"`
	ListenAddr  string   `hcl:"listen_addr,optional"`
	NotifyAddr  string   `hcl:"notify_addr,optional"`
	Workers     int      `hcl:"workers,optional"`
	DebounceMS  int      `hcl:"debounce_ms,optional"`
}

type importerBlock struct {
	Name     string    `hcl:"name,label"`
	Settings cty.Value `hcl:"settings,optional"`
}

// Load implements config.Loader.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading project configuration.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, diags)
	}

	var raw fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode project file %s: %w", path, diags)
	}
	if raw.Project == nil {
		return nil, fmt.Errorf("project file %s contains no project block", path)
	}

	model := &config.Model{
		Project: config.Project{
			Name:        raw.Project.Name,
			SourceRoots: raw.Project.SourceRoots,
			Ignore:      raw.Project.Ignore,
			DBPath:      raw.Project.DBPath,
			ListenAddr:  raw.Project.ListenAddr,
			NotifyAddr:  raw.Project.NotifyAddr,
			Workers:     raw.Project.Workers,
			Debounce:    time.Duration(raw.Project.DebounceMS) * time.Millisecond,
		},
		ImporterSettings: make(map[string]map[string]any),
	}

	for _, imp := range raw.Importers {
		if _, exists := model.ImporterSettings[imp.Name]; exists {
			return nil, fmt.Errorf("duplicate importer block %q in %s", imp.Name, path)
		}
		settings, err := settingsToGo(imp.Settings)
		if err != nil {
			return nil, fmt.Errorf("invalid settings for importer %q: %w", imp.Name, err)
		}
		model.ImporterSettings[imp.Name] = settings
	}

	if err := model.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Project configuration loaded.", "project", model.Project.Name, "roots", model.Project.SourceRoots)
	return model, nil
}

func settingsToGo(v cty.Value) (map[string]any, error) {
	if v.IsNull() || v == cty.NilVal {
		return nil, nil
	}
	converted, err := ctyToGo(v)
	if err != nil {
		return nil, err
	}
	m, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("settings must be an object, got %s", v.Type().FriendlyName())
	}
	return m, nil
}

// ctyToGo converts a decoded cty value into plain Go values: bool, int64,
// float64, string, []any and map[string]any.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), nil
		}
		return f, nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for key, elem := range v.AsValueMap() {
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var out []any
		for _, elem := range v.AsValueSlice() {
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported settings value type %s", ty.FriendlyName())
	}
}

// Package pipeline executes imports: it decides which source files are
// dirty, fans the work out to a worker pool, records results in the index
// and the dependency graph, and reports the resulting asset changes.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/dag"
	"github.com/vk/assetpipe/internal/fsutil"
	"github.com/vk/assetpipe/internal/importer"
	"github.com/vk/assetpipe/internal/index"
	"github.com/vk/assetpipe/internal/meta"
	"github.com/vk/assetpipe/internal/notify"
	"github.com/vk/assetpipe/internal/registry"
)

// Options configures a Pipeline.
type Options struct {
	Registry *registry.Registry
	Index    *index.Store
	Graph    *dag.Graph
	// SourceRoots are the project's watched directories. Index paths are
	// stored relative to the root that contains them, slash-separated.
	SourceRoots []string
	Ignore      []string
	// Settings maps importer name to project-wide default settings.
	Settings map[string]map[string]any
	Workers  int
}

// Pipeline coordinates imports for one project.
type Pipeline struct {
	opts Options

	mu sync.Mutex // serializes batches; workers parallelize within one

	// metaMu serializes sidecar access. Two workers may touch the same
	// sidecar at once when one imports a source while another resolves a
	// reference to it; both must see the same minted id.
	metaMu sync.Mutex
}

// New creates a pipeline. Worker count must be positive.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		panic("pipeline worker count must be positive")
	}
	return &Pipeline{opts: opts}
}

// RestoreGraph rebuilds the dependency graph from the index. Called once at
// daemon startup so dependency-driven re-imports survive restarts.
func (p *Pipeline) RestoreGraph() error {
	edges, err := p.opts.Index.Edges()
	if err != nil {
		return fmt.Errorf("failed to restore dependency graph: %w", err)
	}
	for id, deps := range edges {
		if err := p.opts.Graph.SetDependencies(id, deps); err != nil {
			return err
		}
	}
	return nil
}

// ImportAll scans every source root and imports anything new or dirty.
func (p *Pipeline) ImportAll(ctx context.Context) ([]notify.Change, error) {
	var modified []string
	for _, root := range p.opts.SourceRoots {
		files, err := fsutil.FindSourceFiles(root, p.opts.Ignore)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source root %s: %w", root, err)
		}
		modified = append(modified, files...)
	}
	return p.ProcessBatch(ctx, modified, nil)
}

// ProcessBatch imports the modified paths and drops the removed ones, then
// re-imports every transitive dependent of anything that changed. It
// returns the changes that took effect. A failing source is logged and
// skipped along with its dependents; it does not abort the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, modified, removed []string) ([]notify.Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	modified, removed = p.normalize(modified, removed)

	var changes []notify.Change

	// Removals first: a rename arrives as remove+create and the create
	// must win.
	for _, path := range removed {
		rel, ok := p.relPath(path)
		if !ok {
			continue
		}
		id, err := p.opts.Index.Remove(rel)
		if err != nil {
			if err != index.ErrNotFound {
				logger.Warn("Failed to remove asset from index.", "path", rel, "error", err)
			}
			continue
		}
		p.opts.Graph.RemoveNode(id)
		logger.Info("Asset removed.", "path", rel, "id", id.String())
		changes = append(changes, notify.Change{ID: id, Path: rel, Removed: true})
	}

	// First wave: the directly modified files, imported concurrently.
	results := p.importWave(ctx, modified, false)

	failed := make(map[assetid.AssetID]bool)
	dirty := make(map[assetid.AssetID]bool)
	for _, res := range results {
		if res.err != nil {
			logger.Error("Import failed.", "path", res.path, "error", res.err)
			if !res.id.IsNil() {
				failed[res.id] = true
			}
			continue
		}
		if res.change != nil {
			changes = append(changes, *res.change)
			dirty[res.change.ID] = true
		}
	}

	// Second wave: transitive dependents of everything that changed,
	// re-imported in dependency order, each exactly once.
	dependents := p.collectDependents(dirty, failed)
	if len(dependents) > 0 {
		logger.Debug("Re-importing dependents.", "count", len(dependents))
		for _, id := range p.opts.Graph.SortByDepth(dependents) {
			rec, err := p.opts.Index.Get(id)
			if err != nil {
				logger.Warn("Dependent asset missing from index.", "id", id.String(), "error", err)
				continue
			}
			abs, ok := p.absPath(rec.Path)
			if !ok {
				continue
			}
			res := p.importOne(ctx, abs, true)
			if res.err != nil {
				logger.Error("Dependent re-import failed.", "path", rec.Path, "error", res.err)
				continue
			}
			if res.change != nil {
				changes = append(changes, *res.change)
			}
		}
	}

	return changes, nil
}

// normalize maps .meta sidecar events onto their source files, drops
// directories and non-sources, and deduplicates.
func (p *Pipeline) normalize(modified, removed []string) ([]string, []string) {
	seenMod := make(map[string]bool)
	var outMod []string
	addModified := func(path string) {
		if seenMod[path] {
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		if _, ok := p.opts.Registry.ImporterFor(path); !ok {
			return
		}
		seenMod[path] = true
		outMod = append(outMod, path)
	}

	for _, path := range modified {
		if strings.HasSuffix(path, meta.Extension) {
			// Edited sidecar settings dirty the source file.
			addModified(strings.TrimSuffix(path, meta.Extension))
			continue
		}
		addModified(path)
	}

	seenRem := make(map[string]bool)
	var outRem []string
	for _, path := range removed {
		if strings.HasSuffix(path, meta.Extension) {
			// A deleted sidecar severs identity; re-import the source
			// so it gets a fresh one.
			addModified(strings.TrimSuffix(path, meta.Extension))
			continue
		}
		if seenRem[path] || seenMod[path] {
			continue
		}
		seenRem[path] = true
		outRem = append(outRem, path)
	}
	sort.Strings(outMod)
	return outMod, outRem
}

type result struct {
	path   string
	id     assetid.AssetID
	change *notify.Change
	err    error
}

// importWave runs one concurrent wave of imports over the worker pool.
func (p *Pipeline) importWave(ctx context.Context, paths []string, force bool) []result {
	if len(paths) == 0 {
		return nil
	}

	jobs := make(chan string)
	results := make([]result, 0, len(paths))
	var resultsMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for path := range jobs {
				res := p.importOne(ctx, path, force)
				resultsMu.Lock()
				results = append(results, res)
				resultsMu.Unlock()
			}
			return nil
		})
	}

	for _, path := range paths {
		jobs <- path
	}
	close(jobs)
	_ = g.Wait()

	return results
}

// importOne imports a single source file. With force set, the clean check
// is skipped: dependents must re-import even when their own bytes are
// unchanged.
func (p *Pipeline) importOne(ctx context.Context, path string, force bool) result {
	logger := ctxlog.FromContext(ctx)
	res := result{path: path}

	rel, ok := p.relPath(path)
	if !ok {
		res.err = fmt.Errorf("source %s is outside every source root", path)
		return res
	}

	imp, ok := p.opts.Registry.ImporterFor(path)
	if !ok {
		return res // not an asset source; nothing to do
	}

	source, err := os.ReadFile(path)
	if err != nil {
		res.err = fmt.Errorf("failed to read source: %w", err)
		return res
	}

	p.metaMu.Lock()
	m, created, err := meta.EnsureFor(path, imp.Name(), imp.Version())
	p.metaMu.Unlock()
	if err != nil {
		res.err = fmt.Errorf("failed to load meta sidecar: %w", err)
		return res
	}
	res.id = m.ID
	if created {
		logger.Debug("Minted new asset identity.", "path", rel, "id", m.ID.String())
	}

	settings := p.mergeSettings(imp.Name(), m.Settings)
	hash := meta.SourceHash(source, imp.Name(), imp.Version(), settings)

	if !force {
		if stored, err := p.opts.Index.BuildHash(m.ID); err == nil && stored == hash {
			logger.Debug("Asset is clean, skipping import.", "path", rel)
			return res
		}
	}

	start := time.Now()
	out, err := imp.Import(ctx, &importer.Input{
		SourcePath:  path,
		Source:      source,
		Settings:    settings,
		Meta:        m,
		ResolvePath: p.resolvePath,
	})
	if err != nil {
		res.err = err
		return res
	}

	rec := &index.Record{
		ID:         m.ID,
		Path:       rel,
		TypeID:     imp.TypeID(),
		Importer:   imp.Name(),
		BuildHash:  hash,
		Artifact:   out.Artifact,
		ImportedAt: time.Now(),
	}
	if err := p.opts.Index.Put(rec, out.Dependencies); err != nil {
		res.err = err
		return res
	}
	if err := p.opts.Graph.SetDependencies(m.ID, out.Dependencies); err != nil {
		res.err = err
		return res
	}
	if err := p.opts.Graph.DetectCycles(); err != nil {
		// Roll the edges back so the graph stays acyclic.
		_ = p.opts.Graph.SetDependencies(m.ID, nil)
		res.err = err
		return res
	}

	// Keep the sidecar in sync with what was actually imported.
	m.TypeID = imp.TypeID()
	m.Importer = imp.Name()
	m.ImporterVersion = imp.Version()
	m.BuildHash = meta.HashValue(hash)
	m.Dependencies = out.Dependencies
	p.metaMu.Lock()
	err = meta.Save(path, m)
	p.metaMu.Unlock()
	if err != nil {
		res.err = fmt.Errorf("failed to update meta sidecar: %w", err)
		return res
	}

	logger.Info("Asset imported.", "path", rel, "id", m.ID.String(), "importer", imp.Name(), "took", time.Since(start))
	res.change = &notify.Change{ID: m.ID, Path: rel, TypeID: imp.TypeID()}
	return res
}

func (p *Pipeline) collectDependents(dirty, failed map[assetid.AssetID]bool) []assetid.AssetID {
	skip := make(map[assetid.AssetID]bool)
	for id := range failed {
		skip[id] = true
		for _, dep := range p.opts.Graph.TransitiveDependents(id) {
			skip[dep] = true
		}
	}

	seen := make(map[assetid.AssetID]bool)
	var out []assetid.AssetID
	for id := range dirty {
		for _, dep := range p.opts.Graph.TransitiveDependents(id) {
			if seen[dep] || skip[dep] || dirty[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

// resolvePath maps a root-relative source path to an asset id, minting an
// identity through the sidecar when the asset has not been imported yet.
func (p *Pipeline) resolvePath(rel string) (assetid.AssetID, bool) {
	if id, err := p.opts.Index.ResolvePath(rel); err == nil {
		return id, true
	}
	abs, ok := p.absPath(rel)
	if !ok {
		return assetid.AssetID{}, false
	}
	imp, ok := p.opts.Registry.ImporterFor(abs)
	if !ok {
		return assetid.AssetID{}, false
	}
	p.metaMu.Lock()
	m, _, err := meta.EnsureFor(abs, imp.Name(), imp.Version())
	p.metaMu.Unlock()
	if err != nil {
		return assetid.AssetID{}, false
	}
	return m.ID, true
}

func (p *Pipeline) mergeSettings(importerName string, metaSettings map[string]any) map[string]any {
	defaults := p.opts.Settings[importerName]
	if len(defaults) == 0 && len(metaSettings) == 0 {
		return nil
	}
	merged := make(map[string]any, len(defaults)+len(metaSettings))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range metaSettings {
		merged[k] = v
	}
	return merged
}

// relPath maps an absolute source path to its slash-separated path relative
// to the containing source root.
func (p *Pipeline) relPath(path string) (string, bool) {
	for _, root := range p.opts.SourceRoots {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}

// absPath maps a root-relative path back to an absolute path, picking the
// first source root where the file exists.
func (p *Pipeline) absPath(rel string) (string, bool) {
	for _, root := range p.opts.SourceRoots {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); err == nil {
			return abs, true
		}
	}
	return "", false
}

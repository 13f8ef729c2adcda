// Package daemon ties the import side together: it owns the index, runs
// the initial scan, reacts to watcher batches, and serves the wire and
// notify endpoints that loaders connect to.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vk/assetpipe/internal/config"
	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/dag"
	"github.com/vk/assetpipe/internal/index"
	"github.com/vk/assetpipe/internal/notify"
	"github.com/vk/assetpipe/internal/packfile"
	"github.com/vk/assetpipe/internal/pipeline"
	"github.com/vk/assetpipe/internal/registry"
	"github.com/vk/assetpipe/internal/watcher"
)

// Daemon is one running asset pipeline for one project.
type Daemon struct {
	cfg   *config.Model
	reg   *registry.Registry
	store *index.Store
	pipe  *pipeline.Pipeline
}

// New opens the project's index and restores the dependency graph from it.
func New(cfg *config.Model, reg *registry.Registry) (*Daemon, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Project.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	store, err := index.Open(cfg.Project.DBPath)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(pipeline.Options{
		Registry:    reg,
		Index:       store,
		Graph:       dag.New(),
		SourceRoots: cfg.Project.SourceRoots,
		Ignore:      cfg.Project.Ignore,
		Settings:    cfg.ImporterSettings,
		Workers:     cfg.Project.Workers,
	})
	if err := pipe.RestoreGraph(); err != nil {
		store.Close()
		return nil, err
	}

	return &Daemon{cfg: cfg, reg: reg, store: store, pipe: pipe}, nil
}

// Close releases the index.
func (d *Daemon) Close() error {
	return d.store.Close()
}

// Scan imports everything once and returns how many assets changed. This
// is the one-shot mode; no servers are started.
func (d *Daemon) Scan(ctx context.Context) (int, error) {
	changes, err := d.pipe.ImportAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

// Pack scans once and writes every imported artifact into a pack file.
func (d *Daemon) Pack(ctx context.Context, outPath string) error {
	if _, err := d.Scan(ctx); err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create pack file: %w", err)
	}
	if err := packfile.Build(d.store, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to finish pack file: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Pack written.", "path", outPath)
	return nil
}

// Run scans once, then serves until the context is canceled: the watcher
// feeds the pipeline, the wire server answers loader requests, and the
// notify hub broadcasts changes.
func (d *Daemon) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	changed, err := d.Scan(ctx)
	if err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}
	logger.Info("Initial scan complete.", "changed", changed)

	ln, err := net.Listen("tcp", d.cfg.Project.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Project.ListenAddr, err)
	}

	hub := notify.NewHub(d.cfg.Project.NotifyAddr)
	wireSrv := newWireServer(d.store)

	w, err := watcher.New(d.cfg.Project.SourceRoots, d.cfg.Project.Ignore, d.cfg.Project.Debounce)
	if err != nil {
		ln.Close()
		return err
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wireSrv.Serve(ctx, ln) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		for batch := range w.Batches() {
			changes, err := d.pipe.ProcessBatch(ctx, batch.Modified, batch.Removed)
			if err != nil {
				logger.Error("Batch import failed.", "error", err)
				continue
			}
			for _, change := range changes {
				hub.Broadcast(ctx, change)
			}
		}
		return nil
	})

	err = g.Wait()
	if parent.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

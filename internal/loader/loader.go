// Package loader fetches imported artifacts from a source (daemon or
// pack), decodes them through the registry, and tracks ref-counted load
// handles for the engine side.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/registry"
)

// LoadState tracks where an asset is in its load lifecycle.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Failed
	// Unloading means the last reference was released; the asset stays
	// resident until collected.
	Unloading
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case Unloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// CompletionKind discriminates loader completions.
type CompletionKind int

const (
	CompletionLoaded CompletionKind = iota
	CompletionModified
	CompletionRemoved
	CompletionFailed
)

// Completion is one finished load, reload, removal, or failure. The engine
// drains these per frame and applies them to its asset collections.
type Completion struct {
	Kind   CompletionKind
	Handle assetid.LoadHandle
	ID     assetid.AssetID
	TypeID assetid.TypeID
	Value  any
	Err    error
}

type entry struct {
	handle assetid.LoadHandle
	id     assetid.AssetID
	path   string
	state  LoadState
	refs   int64
	typeID assetid.TypeID
	value  any
	err    error
	// deps are the handles this asset holds references on; released when
	// the asset itself is collected.
	deps []assetid.LoadHandle
}

// Loader resolves, fetches, and decodes assets from one source.
type Loader struct {
	source Source
	reg    *registry.Registry
	alloc  *assetid.HandleAllocator

	refOps      chan assetid.RefOp
	completions chan Completion

	mu       sync.Mutex
	byID     map[assetid.AssetID]assetid.LoadHandle
	byHandle map[assetid.LoadHandle]*entry
}

// New creates a loader over the given source and type registry.
func New(source Source, reg *registry.Registry) *Loader {
	return &Loader{
		source:      source,
		reg:         reg,
		alloc:       assetid.NewHandleAllocator(),
		refOps:      make(chan assetid.RefOp, 256),
		completions: make(chan Completion, 256),
	}
}

// RefOps is the channel handles send their clone/release operations on.
func (l *Loader) RefOps() chan<- assetid.RefOp { return l.refOps }

// Completions surfaces finished loads, reloads, and failures.
func (l *Loader) Completions() <-chan Completion { return l.completions }

// Run processes ref operations and source change events until the context
// is canceled. Loads themselves run on their own goroutines; Run only does
// bookkeeping.
func (l *Loader) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	changes := l.source.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-l.refOps:
			l.applyRefOp(logger, op)
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			l.handleChange(ctx, change)
		}
	}
}

// Load resolves a source path and starts loading the asset behind it. The
// returned handle carries one reference.
func (l *Loader) Load(ctx context.Context, path string) (assetid.LoadHandle, error) {
	id, err := l.source.ResolvePath(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return l.LoadByID(ctx, id), nil
}

// LoadByID returns the handle for an asset id, starting a load when the
// asset is not already resident. Each call adds one reference.
func (l *Loader) LoadByID(ctx context.Context, id assetid.AssetID) assetid.LoadHandle {
	l.mu.Lock()

	if h, ok := l.byID[id]; ok {
		e := l.byHandle[h]
		e.refs++
		if e.state == Unloading {
			e.state = Loaded
		}
		l.mu.Unlock()
		return h
	}

	if l.byID == nil {
		l.byID = make(map[assetid.AssetID]assetid.LoadHandle)
		l.byHandle = make(map[assetid.LoadHandle]*entry)
	}
	h := l.alloc.Alloc()
	e := &entry{handle: h, id: id, state: Loading, refs: 1}
	l.byID[id] = h
	l.byHandle[h] = e
	l.mu.Unlock()

	go l.fetch(ctx, h, id, CompletionLoaded)
	return h
}

// fetch pulls one asset from the source and decodes it. Dependencies are
// loaded first so a decoded scene can immediately resolve its contents.
func (l *Loader) fetch(ctx context.Context, h assetid.LoadHandle, id assetid.AssetID, kind CompletionKind) {
	asset, err := l.source.Get(ctx, id)
	if err != nil {
		l.finish(Completion{Kind: CompletionFailed, Handle: h, ID: id, Err: err}, nil)
		return
	}

	// Loading an asset loads what it references; the dependent holds a
	// reference on each dependency until it is collected itself.
	deps := make([]assetid.LoadHandle, 0, len(asset.Dependencies))
	for _, dep := range asset.Dependencies {
		deps = append(deps, l.LoadByID(ctx, dep))
	}

	value, err := l.reg.Decode(asset.TypeID, asset.Artifact)
	if err != nil {
		l.finish(Completion{Kind: CompletionFailed, Handle: h, ID: id, TypeID: asset.TypeID, Err: err}, deps)
		return
	}
	l.finish(Completion{Kind: kind, Handle: h, ID: id, TypeID: asset.TypeID, Value: value}, deps)
}

func (l *Loader) finish(c Completion, deps []assetid.LoadHandle) {
	var stale []assetid.LoadHandle
	l.mu.Lock()
	e, ok := l.byHandle[c.Handle]
	if ok {
		stale = e.deps
		e.deps = deps
		switch c.Kind {
		case CompletionFailed:
			e.state = Failed
			e.err = c.Err
		case CompletionRemoved:
			e.state = Failed
			e.err = fmt.Errorf("asset %s was removed at the source", c.ID.String())
		default:
			if e.state != Unloading {
				e.state = Loaded
			}
			e.typeID = c.TypeID
			e.value = c.Value
			e.err = nil
		}
		// A reload may have changed the dependency set.
		for _, h := range stale {
			l.decRefLocked(h)
		}
	}
	l.mu.Unlock()
	l.completions <- c
}

func (l *Loader) decRefLocked(h assetid.LoadHandle) {
	e, ok := l.byHandle[h]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 && e.state != Failed {
		e.state = Unloading
	}
}

// Status reports the load state of a handle. Unknown handles are NotLoaded.
func (l *Loader) Status(h assetid.LoadHandle) LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.byHandle[h]; ok {
		return e.state
	}
	return NotLoaded
}

// Get returns the decoded value behind a loaded handle.
func (l *Loader) Get(h assetid.LoadHandle) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byHandle[h]
	if !ok || e.state != Loaded && e.state != Unloading {
		return nil, false
	}
	return e.value, true
}

// Err returns the failure behind a Failed handle.
func (l *Loader) Err(h assetid.LoadHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.byHandle[h]; ok {
		return e.err
	}
	return nil
}

// HandleFor returns the handle currently assigned to an asset id.
func (l *Loader) HandleFor(id assetid.AssetID) (assetid.LoadHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.byID[id]
	return h, ok
}

func (l *Loader) applyRefOp(logger *slog.Logger, op assetid.RefOp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byHandle[op.Handle]
	if !ok {
		return
	}
	switch op.Kind {
	case assetid.RefIncrement:
		e.refs++
	case assetid.RefDecrement:
		if e.refs == 0 {
			logger.Warn("Release of a handle with zero references.", "handle", uint64(op.Handle))
			return
		}
		l.decRefLocked(op.Handle)
	}
}

// Collect removes every asset whose last reference was released and
// returns the freed handles. Freeing an asset drops its dependency refs,
// so a swept scene can take its meshes with it in the same call.
func (l *Loader) Collect() []assetid.LoadHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	var freed []assetid.LoadHandle
	for {
		progress := false
		for h, e := range l.byHandle {
			if e.state != Unloading || e.refs != 0 {
				continue
			}
			delete(l.byHandle, h)
			delete(l.byID, e.id)
			for _, dep := range e.deps {
				l.decRefLocked(dep)
			}
			freed = append(freed, h)
			progress = true
		}
		if !progress {
			return freed
		}
	}
}

// handleChange reacts to a source change event: resident assets reload in
// place, removed assets fail their handles.
func (l *Loader) handleChange(ctx context.Context, change Change) {
	l.mu.Lock()
	h, resident := l.byID[change.ID]
	l.mu.Unlock()
	if !resident {
		return
	}
	if change.Removed {
		// A removed asset holds no dependencies anymore; finish releases
		// the refs it took on them.
		l.finish(Completion{Kind: CompletionRemoved, Handle: h, ID: change.ID}, nil)
		return
	}
	go l.fetch(ctx, h, change.ID, CompletionModified)
}

// Close releases the loader's source.
func (l *Loader) Close() error {
	return l.source.Close()
}

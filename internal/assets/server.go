package assets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/loader"
)

// store is the untyped view the server has of an Assets[T] collection.
type store interface {
	setAny(h assetid.LoadHandle, value any) bool
	removeAny(h assetid.LoadHandle)
}

type typedStore[T any] struct {
	col *Assets[T]
}

func (s typedStore[T]) setAny(h assetid.LoadHandle, value any) bool {
	v, ok := value.(T)
	if !ok {
		return false
	}
	s.col.Set(h, v)
	return true
}

func (s typedStore[T]) removeAny(h assetid.LoadHandle) {
	s.col.Remove(h)
}

// Server glues the loader to the engine's asset collections. The engine
// calls ProcessEvents once per frame to apply finished loads.
type Server struct {
	loader *loader.Loader

	mu     sync.Mutex
	stores map[assetid.TypeID]store
	// types remembers which store a handle landed in so FreeUnusedAssets
	// can evict it later.
	types map[assetid.LoadHandle]assetid.TypeID
}

// NewServer creates a server over a loader.
func NewServer(l *loader.Loader) *Server {
	return &Server{
		loader: l,
		stores: make(map[assetid.TypeID]store),
		types:  make(map[assetid.LoadHandle]assetid.TypeID),
	}
}

// RegisterAssets routes completions of one asset type into a collection.
// Registering the same type twice is a programmer error.
func RegisterAssets[T any](s *Server, typeID assetid.TypeID, col *Assets[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[typeID]; ok {
		panic(fmt.Sprintf("assets: collection for type %s registered twice", typeID.String()))
	}
	s.stores[typeID] = typedStore[T]{col: col}
}

// Load starts loading the asset at a source path as type T. The returned
// handle owns one reference.
func Load[T any](ctx context.Context, s *Server, path string) (Handle[T], error) {
	h, err := s.LoadUntyped(ctx, path)
	if err != nil {
		return Handle[T]{}, err
	}
	return Typed[T](h), nil
}

// LoadUntyped starts loading the asset at a source path.
func (s *Server) LoadUntyped(ctx context.Context, path string) (UntypedHandle, error) {
	h, err := s.loader.Load(ctx, path)
	if err != nil {
		return UntypedHandle{}, err
	}
	return NewUntypedHandle(h, s.loader.RefOps()), nil
}

// LoadByID starts loading an asset by its stable id.
func (s *Server) LoadByID(ctx context.Context, id assetid.AssetID) UntypedHandle {
	return NewUntypedHandle(s.loader.LoadByID(ctx, id), s.loader.RefOps())
}

// GetLoadState reports where a handle's asset is in its load lifecycle.
func (s *Server) GetLoadState(h UntypedHandle) loader.LoadState {
	return s.loader.Status(h.ID())
}

// LoadErr returns the failure behind a Failed handle.
func (s *Server) LoadErr(h UntypedHandle) error {
	return s.loader.Err(h.ID())
}

// ProcessEvents applies every pending loader completion to the registered
// collections. Non-blocking; call it once per frame.
func (s *Server) ProcessEvents(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for {
		select {
		case c := <-s.loader.Completions():
			s.apply(logger.With("handle", uint64(c.Handle)), c)
		default:
			return
		}
	}
}

func (s *Server) apply(logger *slog.Logger, c loader.Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Kind {
	case loader.CompletionFailed:
		logger.Error("Asset load failed.", "id", c.ID.String(), "error", c.Err)
	case loader.CompletionRemoved:
		if typeID, ok := s.types[c.Handle]; ok {
			if st, ok := s.stores[typeID]; ok {
				st.removeAny(c.Handle)
			}
			delete(s.types, c.Handle)
		}
	default:
		st, ok := s.stores[c.TypeID]
		if !ok {
			logger.Warn("No collection registered for asset type.", "type_id", c.TypeID.String())
			return
		}
		if !st.setAny(c.Handle, c.Value) {
			logger.Error("Decoded asset does not match its collection's type.",
				"id", c.ID.String(), "type_id", c.TypeID.String())
			return
		}
		s.types[c.Handle] = c.TypeID
	}
}

// FreeUnusedAssets evicts every asset whose last handle was released, both
// from the loader and from the collections it landed in.
func (s *Server) FreeUnusedAssets() int {
	freed := s.loader.Collect()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range freed {
		if typeID, ok := s.types[h]; ok {
			if st, ok := s.stores[typeID]; ok {
				st.removeAny(h)
			}
			delete(s.types, h)
		}
	}
	return len(freed)
}

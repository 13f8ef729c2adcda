// Package notify broadcasts asset change events to connected tooling
// (loaders in hot-reload mode, editors) over a socket.io hub.
//
// Events are plain key/value payloads so any socket.io client can consume
// them; artifact bytes never travel on this channel. Consumers fetch
// changed artifacts through the wire protocol.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zishang520/socket.io/v2/socket"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/ctxlog"
)

// Event names emitted by the hub.
const (
	EventAssetChanged = "asset_changed"
	EventAssetRemoved = "asset_removed"
)

// Change describes one asset change.
type Change struct {
	ID     assetid.AssetID
	Path   string
	TypeID assetid.TypeID
	// Removed is true when the asset was deleted rather than re-imported.
	Removed bool
}

// Hub hosts the socket.io endpoint and broadcasts changes.
type Hub struct {
	io   *socket.Server
	http *http.Server

	mu    sync.Mutex
	bound net.Addr
}

// NewHub creates a hub serving on addr.
func NewHub(addr string) *Hub {
	io := socket.NewServer(nil, nil)

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", io.ServeHandler(nil))

	return &Hub{
		io:   io,
		http: &http.Server{Addr: addr, Handler: mux},
	}
}

// Run serves the hub until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	h.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		logger.Debug("Notify client connected.", "sid", client.Id())
		client.On("disconnect", func(...any) {
			logger.Debug("Notify client disconnected.", "sid", client.Id())
		})
	})

	ln, err := net.Listen("tcp", h.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.http.Addr, err)
	}
	h.mu.Lock()
	h.bound = ln.Addr()
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Notify hub listening.", "addr", ln.Addr().String())
		if err := h.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.io.Close(nil)
		_ = h.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Addr returns the hub's bound listen address. Empty until Run has bound
// the listener; with a ":0" address this is where the port shows up.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound == nil {
		return ""
	}
	return h.bound.String()
}

// Broadcast emits one change to every connected client.
func (h *Hub) Broadcast(ctx context.Context, change Change) {
	event := EventAssetChanged
	if change.Removed {
		event = EventAssetRemoved
	}
	ctxlog.FromContext(ctx).Debug("Broadcasting asset change.", "event", event, "path", change.Path, "id", change.ID.String())

	h.io.Emit(event, map[string]any{
		"id":      change.ID.String(),
		"path":    change.Path,
		"type_id": change.TypeID.String(),
	})
}

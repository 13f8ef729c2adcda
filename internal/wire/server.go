package wire

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/vk/assetpipe/internal/ctxlog"
)

// ErrNotFound is the application-level "no such asset" error. The server
// maps it onto the envelope's NotFound flag; the client maps it back.
var ErrNotFound = errors.New("asset not found")

// Handler answers protocol requests. The daemon implements it on top of
// the asset index.
type Handler interface {
	ResolvePath(path string) (string, error)
	GetAsset(id string) (*GetAssetResp, error)
	ListAssets() (*ListAssetsResp, error)
}

// Server serves the wire protocol on a listener.
type Server struct {
	handler Handler
}

// NewServer creates a server dispatching to the given handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// Serve accepts connections until the context is cancelled or the listener
// fails. Each connection gets its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Wire server listening.", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := ctxlog.FromContext(ctx).With("remote", conn.RemoteAddr().String())
	logger.Debug("Client connected.")
	defer conn.Close()

	for {
		req, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("Connection read failed.", "error", err)
			}
			return
		}

		resp := s.dispatch(req)
		if err := WriteFrame(conn, resp); err != nil {
			logger.Debug("Connection write failed.", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req *Envelope) *Envelope {
	resp := &Envelope{Seq: req.Seq, Kind: req.Kind}

	fail := func(err error) *Envelope {
		if errors.Is(err, ErrNotFound) {
			resp.NotFound = true
		}
		resp.Err = err.Error()
		return resp
	}

	switch req.Kind {
	case KindResolvePath:
		var body ResolvePathReq
		if err := DecodeBody(req, &body); err != nil {
			return fail(err)
		}
		id, err := s.handler.ResolvePath(body.Path)
		if err != nil {
			return fail(err)
		}
		raw, err := EncodeBody(&ResolvePathResp{ID: id})
		if err != nil {
			return fail(err)
		}
		resp.Body = raw

	case KindGetAsset:
		var body GetAssetReq
		if err := DecodeBody(req, &body); err != nil {
			return fail(err)
		}
		out, err := s.handler.GetAsset(body.ID)
		if err != nil {
			return fail(err)
		}
		raw, err := EncodeBody(out)
		if err != nil {
			return fail(err)
		}
		resp.Body = raw

	case KindListAssets:
		out, err := s.handler.ListAssets()
		if err != nil {
			return fail(err)
		}
		raw, err := EncodeBody(out)
		if err != nil {
			return fail(err)
		}
		resp.Body = raw

	default:
		resp.Err = "unknown request kind"
	}
	return resp
}

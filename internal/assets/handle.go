// Package assets is the engine-facing side of the pipeline: ref-counted
// handles, per-type asset collections with frame events, and a Server that
// applies loader completions to those collections.
package assets

import (
	"github.com/vk/assetpipe/internal/assetid"
)

// UntypedHandle references a loaded asset without knowing its Go type.
// Copies share the same underlying reference; use Clone to take a new one.
// The zero value is the reserved default handle and owns no reference.
type UntypedHandle struct {
	id   assetid.LoadHandle
	refs chan<- assetid.RefOp
}

// NewUntypedHandle wraps a loader handle. The caller must already own one
// reference on it.
func NewUntypedHandle(id assetid.LoadHandle, refs chan<- assetid.RefOp) UntypedHandle {
	return UntypedHandle{id: id, refs: refs}
}

// ID returns the handle id. Handles compare equal exactly when their ids
// do, so the id is also the map key for Assets collections.
func (h UntypedHandle) ID() assetid.LoadHandle { return h.id }

// Clone takes an additional reference on the asset.
func (h UntypedHandle) Clone() UntypedHandle {
	if h.refs != nil {
		h.refs <- assetid.RefOp{Kind: assetid.RefIncrement, Handle: h.id}
	}
	return h
}

// Release drops this handle's reference. The asset becomes collectible
// when the last reference is gone.
func (h UntypedHandle) Release() {
	if h.refs != nil {
		h.refs <- assetid.RefOp{Kind: assetid.RefDecrement, Handle: h.id}
	}
}

// Typed casts an untyped handle to a typed one. The cast is not checked
// here; Assets[T].Get fails when the type was wrong.
func Typed[T any](h UntypedHandle) Handle[T] {
	return Handle[T]{u: h}
}

// Handle references a loaded asset of type T.
type Handle[T any] struct {
	u UntypedHandle
}

// ID returns the handle id.
func (h Handle[T]) ID() assetid.LoadHandle { return h.u.id }

// Untyped drops the type parameter, keeping the same reference.
func (h Handle[T]) Untyped() UntypedHandle { return h.u }

// Clone takes an additional reference on the asset.
func (h Handle[T]) Clone() Handle[T] {
	h.u.Clone()
	return h
}

// Release drops this handle's reference.
func (h Handle[T]) Release() { h.u.Release() }

// Package assetid defines the core addressing types of the pipeline: stable
// asset UUIDs, asset type UUIDs, and process-local load handles.
//
// An AssetID identifies one logical asset and never changes once assigned;
// it is minted on first import and persisted in the source file's .meta
// sidecar. A TypeID identifies the Go type an artifact decodes into. A
// LoadHandle is a cheap process-local id handed out by the loader's handle
// allocator; it is never persisted.
package assetid

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// AssetID is the stable, globally unique identity of a single logical asset.
type AssetID uuid.UUID

// NewAssetID mints a fresh random asset identity.
func NewAssetID() AssetID {
	return AssetID(uuid.New())
}

// ParseAssetID parses the canonical UUID string form.
func ParseAssetID(s string) (AssetID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AssetID{}, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	return AssetID(u), nil
}

// IsNil reports whether the id is the zero UUID.
func (id AssetID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id AssetID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler so asset ids round-trip
// through TOML metadata and msgpack envelopes as plain UUID strings.
func (id AssetID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AssetID) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TypeID identifies an asset Go type. Each registered asset type declares
// one as a compile-time UUID constant.
type TypeID uuid.UUID

// MustTypeID parses a UUID literal and panics on failure. It is meant for
// package-level type id constants, where a bad literal is a programmer error.
func MustTypeID(s string) TypeID {
	return TypeID(uuid.MustParse(s))
}

// ParseTypeID parses the canonical UUID string form.
func ParseTypeID(s string) (TypeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TypeID{}, fmt.Errorf("invalid asset type id %q: %w", s, err)
	}
	return TypeID(u), nil
}

// IsNil reports whether the id is the zero UUID.
func (id TypeID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id TypeID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler.
func (id TypeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TypeID) UnmarshalText(text []byte) error {
	parsed, err := ParseTypeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// LoadHandle is a process-local id for one live load of an asset.
type LoadHandle uint64

// DefaultHandle is the reserved handle for "the default asset". The
// allocator never hands it out.
const DefaultHandle LoadHandle = 1

// HandleAllocator hands out LoadHandles. The zero handle and the default
// handle are reserved, so allocation starts at 2.
type HandleAllocator struct {
	next atomic.Uint64
}

// NewHandleAllocator returns an allocator whose first allocation is 2.
func NewHandleAllocator() *HandleAllocator {
	a := &HandleAllocator{}
	a.next.Store(uint64(DefaultHandle) + 1)
	return a
}

// Alloc returns the next free handle.
func (a *HandleAllocator) Alloc() LoadHandle {
	return LoadHandle(a.next.Add(1) - 1)
}

// RefOpKind distinguishes the two reference-count operations.
type RefOpKind int

const (
	// RefIncrement adds one reference to a handle.
	RefIncrement RefOpKind = iota
	// RefDecrement removes one reference from a handle.
	RefDecrement
)

// RefOp is a reference-count operation on a load handle. Handles send these
// over a channel to the loader's bookkeeping loop instead of touching shared
// state directly.
type RefOp struct {
	Kind   RefOpKind
	Handle LoadHandle
}

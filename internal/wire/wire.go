// Package wire implements the daemon's TCP protocol: length-prefixed
// msgpack frames carrying request/response envelopes.
//
// Every frame is a 4-byte big-endian payload length followed by one
// msgpack-encoded Envelope. Asset and type ids travel as canonical UUID
// strings so the wire format stays independent of their in-memory
// representation.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single frame. Artifacts larger than this cannot be
// served; the importer producing them is the thing to fix.
const MaxFrameSize = 64 << 20

// Kind discriminates envelope payloads.
type Kind uint8

const (
	KindResolvePath Kind = iota + 1
	KindGetAsset
	KindListAssets
)

// Envelope is the unit of exchange. Responses echo the request's Seq.
type Envelope struct {
	Seq      uint64             `msgpack:"seq"`
	Kind     Kind               `msgpack:"kind"`
	Err      string             `msgpack:"err,omitempty"`
	NotFound bool               `msgpack:"not_found,omitempty"`
	Body     msgpack.RawMessage `msgpack:"body,omitempty"`
}

// ResolvePathReq asks for the asset id of a source path.
type ResolvePathReq struct {
	Path string `msgpack:"path"`
}

// ResolvePathResp carries the resolved id.
type ResolvePathResp struct {
	ID string `msgpack:"id"`
}

// GetAssetReq asks for the metadata and artifact of one asset.
type GetAssetReq struct {
	ID string `msgpack:"id"`
}

// AssetInfo is the wire form of an indexed asset's metadata.
type AssetInfo struct {
	ID        string `msgpack:"id"`
	Path      string `msgpack:"path"`
	TypeID    string `msgpack:"type_id"`
	BuildHash uint64 `msgpack:"build_hash"`
}

// GetAssetResp carries one asset's metadata, artifact, and load dependencies.
type GetAssetResp struct {
	Info         AssetInfo `msgpack:"info"`
	Artifact     []byte    `msgpack:"artifact"`
	Dependencies []string  `msgpack:"dependencies,omitempty"`
}

// ListAssetsResp carries the metadata of every indexed asset.
type ListAssetsResp struct {
	Assets []AssetInfo `msgpack:"assets"`
}

// WriteFrame encodes the envelope and writes one frame.
func WriteFrame(w io.Writer, env *Envelope) error {
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one frame.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err // io.EOF passes through for clean disconnects
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &env, nil
}

// EncodeBody marshals a request or response body for an envelope.
func EncodeBody(v any) (msgpack.RawMessage, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message body: %w", err)
	}
	return raw, nil
}

// DecodeBody unmarshals an envelope body into v.
func DecodeBody(env *Envelope, v any) error {
	if err := msgpack.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("failed to decode message body: %w", err)
	}
	return nil
}

package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a connection to the daemon's wire endpoint. Requests are
// serialized; the protocol is strictly request/response per connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	seq  uint64
}

// Dial connects to the daemon at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to asset daemon at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ResolvePath maps a source path to its asset id.
func (c *Client) ResolvePath(ctx context.Context, path string) (string, error) {
	body, err := EncodeBody(&ResolvePathReq{Path: path})
	if err != nil {
		return "", err
	}
	resp, err := c.roundTrip(ctx, KindResolvePath, body)
	if err != nil {
		return "", err
	}
	var out ResolvePathResp
	if err := DecodeBody(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetAsset fetches one asset's metadata, artifact, and dependencies.
func (c *Client) GetAsset(ctx context.Context, id string) (*GetAssetResp, error) {
	body, err := EncodeBody(&GetAssetReq{ID: id})
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, KindGetAsset, body)
	if err != nil {
		return nil, err
	}
	var out GetAssetResp
	if err := DecodeBody(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssets fetches the metadata of every indexed asset.
func (c *Client) ListAssets(ctx context.Context) ([]AssetInfo, error) {
	resp, err := c.roundTrip(ctx, KindListAssets, nil)
	if err != nil {
		return nil, err
	}
	var out ListAssetsResp
	if err := DecodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *Client) roundTrip(ctx context.Context, kind Kind, body []byte) (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c.seq++
	req := &Envelope{Seq: c.seq, Kind: kind, Body: body}
	if err := WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	resp, err := ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon response: %w", err)
	}
	if resp.Seq != req.Seq {
		return nil, fmt.Errorf("daemon response out of sequence: sent %d, got %d", req.Seq, resp.Seq)
	}
	if resp.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resp.Err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("daemon request failed: %s", resp.Err)
	}
	return resp, nil
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/assetpipe/internal/assetid"
	"github.com/vk/assetpipe/internal/ctxlog"
)

// Subscriber is a socket.io client surfacing hub events on a Go channel.
type Subscriber struct {
	io      *socket.Socket
	changes chan Change
}

// Subscribe connects to the hub at addr (host:port) and starts listening.
func Subscribe(ctx context.Context, addr string) (*Subscriber, error) {
	logger := ctxlog.FromContext(ctx).With("hub", addr)

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager("http://"+addr, opts)
	io := manager.Socket("/", opts)

	s := &Subscriber{
		io:      io,
		changes: make(chan Change, 64),
	}

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to notify hub.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		if err, ok := errs[0].(error); ok {
			connectChan <- err
			return
		}
		connectChan <- fmt.Errorf("connect_error: %v", errs[0])
	})

	io.On(types.EventName(EventAssetChanged), func(data ...any) {
		s.deliver(decodeChange(data, false))
	})
	io.On(types.EventName(EventAssetRemoved), func(data ...any) {
		s.deliver(decodeChange(data, true))
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("failed to connect to notify hub at %s: %w", addr, err)
		}
		return s, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("cancelled while connecting to notify hub at %s: %w", addr, ctx.Err())
	case <-time.After(10 * time.Second):
		io.Disconnect()
		return nil, fmt.Errorf("timed out connecting to notify hub at %s", addr)
	}
}

// Changes returns the channel of hub events. Events arriving while the
// channel is full are dropped; hot reload is best effort.
func (s *Subscriber) Changes() <-chan Change {
	return s.changes
}

// Close disconnects from the hub.
func (s *Subscriber) Close() {
	s.io.Disconnect()
}

func (s *Subscriber) deliver(change Change, ok bool) {
	if !ok {
		return
	}
	select {
	case s.changes <- change:
	default:
	}
}

func decodeChange(data []any, removed bool) (Change, bool) {
	if len(data) == 0 {
		return Change{}, false
	}
	payload, ok := data[0].(map[string]any)
	if !ok {
		return Change{}, false
	}

	var change Change
	change.Removed = removed
	if raw, ok := payload["id"].(string); ok {
		if id, err := assetid.ParseAssetID(raw); err == nil {
			change.ID = id
		}
	}
	if change.ID.IsNil() {
		return Change{}, false
	}
	change.Path, _ = payload["path"].(string)
	if raw, ok := payload["type_id"].(string); ok {
		if tid, err := assetid.ParseTypeID(raw); err == nil {
			change.TypeID = tid
		}
	}
	return change, true
}

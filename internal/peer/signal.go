package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
)

// signalClient is the websocket side of both peer engines: it serializes
// writes behind a mutex and pumps every inbound frame into a single handler.
type signalClient struct {
	conn *websocket.Conn
	mu   sync.Mutex

	handle func(events.Message)
}

func dialSignal(ctx context.Context, url string, handle func(events.Message)) (*signalClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &signalClient{conn: conn, handle: handle}
	go c.readLoop()
	return c, nil
}

func (c *signalClient) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg events.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Error("unmarshal signaling frame", slog.Any(constant.Error, err))
			continue
		}
		c.handle(msg)
	}
}

func (c *signalClient) write(msg events.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *signalClient) publish(address string) error {
	return c.write(events.Envelope(events.TypePublish, events.PublishEvent{Address: address}))
}

func (c *signalClient) dial(address string) error {
	return c.write(events.Envelope(events.TypeDial, events.DialEvent{Address: address}))
}

func (c *signalClient) sendSDP(msgType string, ev events.SDPEvent) error {
	return c.write(events.Envelope(msgType, ev))
}

func (c *signalClient) sendCandidate(ev events.CandidateEvent) error {
	return c.write(events.Envelope(events.TypeCandidate, ev))
}

func (c *signalClient) close() error {
	return c.conn.Close()
}

// decode unmarshals a frame payload, logging instead of failing; a malformed
// frame from the relay is dropped, not fatal.
func decode[T any](msg events.Message) (T, bool) {
	var ev T
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Error("unmarshal signaling payload",
			slog.Any(constant.Error, err),
			slog.String("type", msg.Type),
		)
		return ev, false
	}
	return ev, true
}

// newPeerConnection builds a data-channel-only peer connection against the
// configured ICE servers.
func newPeerConnection(ice []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

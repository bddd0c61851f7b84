package hitl

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agentbus/governance/deliberation"
)

// WebSocketNotifier is a Notifier that pushes pending items to every
// connected reviewer dashboard over a websocket connection, so a human
// reviewer sees new deliberation items without polling. It does not target
// a specific reviewer: all connected dashboards receive every notification
// and filter client-side, the same fan-out shape the HITL queue itself uses.
type WebSocketNotifier struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebSocketNotifier constructs a notifier. checkOrigin, if nil, accepts
// all origins (suitable for an internal reviewer dashboard behind its own
// auth layer, not for a public endpoint).
func NewWebSocketNotifier(log *logrus.Entry, checkOrigin func(*http.Request) bool) *WebSocketNotifier {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebSocketNotifier{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		log:      log,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// as a notification sink until the client disconnects.
func (n *WebSocketNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.WithError(err).Warn("hitl: websocket upgrade failed")
		return
	}

	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.conns, conn)
		n.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard reads; this connection is write-only from the
	// manager's perspective, but gorilla/websocket requires a read loop to
	// process control frames (ping/pong/close) and detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// reviewNotification is the wire shape pushed to dashboards.
type reviewNotification struct {
	ItemID    string  `json:"item_id"`
	MessageID string  `json:"message_id"`
	Impact    float64 `json:"impact_score"`
}

// Notify implements Notifier. A connection whose write fails is dropped
// from the sink set rather than retried; the dashboard is expected to
// reconnect and will receive subsequent notifications.
func (n *WebSocketNotifier) Notify(ctx context.Context, item *deliberation.Item) error {
	payload, err := json.Marshal(reviewNotification{
		ItemID:    item.ItemID,
		MessageID: item.MessageID,
		Impact:    item.ImpactScore,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			n.mu.Lock()
			delete(n.conns, c)
			n.mu.Unlock()
			c.Close()
		}
	}
	return nil
}

var _ Notifier = (*WebSocketNotifier)(nil)

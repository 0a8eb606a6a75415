package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/eventbus"
)

// DebugMirror streams execution and book-snapshot events to connected
// operator dashboards over a WebSocket, read-only. It is grounded in the
// teacher's WebSocket gateway upgrade/read-loop idiom
// (services/websocket/websocket_core.go): an Upgrader with permissive
// CheckOrigin (this is a localhost debug surface, not an authenticated
// client channel) and one goroutine per connection — generalized from a
// bidirectional JSON message protocol down to a pure server-to-client feed,
// since an operator dashboard never needs to send the exchange anything.
type DebugMirror struct {
	bus      *eventbus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewDebugMirror builds a mirror over bus's execution and snapshot topics.
func NewDebugMirror(bus *eventbus.Bus, logger *zap.Logger) *DebugMirror {
	return &DebugMirror{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handle upgrades the HTTP request and mirrors execution + snapshot
// envelopes to the peer until it disconnects or the request context ends.
func (d *DebugMirror) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("debug mirror upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	executions, err := d.bus.Subscribe(ctx, eventbus.TopicExecution)
	if err != nil {
		d.logger.Warn("debug mirror subscribe failed", zap.Error(err))
		return
	}
	snapshots, err := d.bus.Subscribe(ctx, eventbus.TopicSnapshot)
	if err != nil {
		d.logger.Warn("debug mirror subscribe failed", zap.Error(err))
		return
	}

	// A reader goroutine is required even for a write-only feed: gorilla's
	// connection dies silently unless something drains incoming control
	// frames (pings/close), same as the teacher's read loop purpose.
	go d.drainIncoming(conn)

	for {
		var env eventbus.Envelope
		select {
		case env = <-executions:
		case env = <-snapshots:
		case <-ctx.Done():
			return
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func (d *DebugMirror) drainIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

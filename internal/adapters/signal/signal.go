// Package signal is the websocket signaling surface: it upgrades client
// connections, decodes the request envelope, and translates core results
// and broadcasts back onto the wire.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devaladey/yct-soup/internal/core"
	"github.com/devaladey/yct-soup/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller handles every websocket signaling connection. It is stateless
// apart from the join limiter; all session state lives in the core registry.
type Controller struct {
	Registry *core.Registry

	limiter *JoinLimiter
}

func NewController(registry *core.Registry) *Controller {
	return &Controller{
		Registry: registry,
		limiter:  NewJoinLimiter(10, time.Minute),
	}
}

// Conn wraps one websocket with a buffered outbound queue. Writes go
// through TrySend so a stalled client sheds frames instead of blocking
// room broadcasts.
type Conn struct {
	peerID domain.PeerID
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Notify implements core.Sender: server-initiated events are pushed as
// id-less envelopes. Frames lost to backpressure are logged and dropped;
// the client resyncs on its next join.
func (c *Conn) Notify(event string, payload any) {
	b, err := json.Marshal(push{Type: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("marshal push")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").
			Str("peer", string(c.peerID)).Str("event", event).Msg("push dropped")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. The
// client-token cookie set by the http layer is the peer identity for the
// whole connection.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &Conn{
		peerID: peerID,
		conn:   ws,
		send:   make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
		// Transport drop is an implicit leave from every room.
		ctl.Registry.LeaveAll(peerID)
	}()
}

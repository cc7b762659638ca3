package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devaladey/yct-soup/internal/core"
)

// request is the client envelope. The id correlates the response; data is
// decoded per request type.
type request struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type response struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// push is a server-initiated event, distinguishable from responses by the
// missing id.
type push struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	errBadPayload         = "bad-payload"
	errNotFound           = "not-found"
	errUnauthorized       = "unauthorized"
	errCapabilityMismatch = "capability-mismatch"
	errEngineFailure      = "engine-failure"
	errRateLimited        = "rate-limited"
	errUnknownRequest     = "unknown-request"
)

// errorCode folds core failures into the wire taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomNotFound),
		errors.Is(err, core.ErrPeerNotFound),
		errors.Is(err, core.ErrTransportNotFound),
		errors.Is(err, core.ErrProducerNotFound),
		errors.Is(err, core.ErrConsumerNotFound),
		errors.Is(err, core.ErrNoRecvTransport):
		return errNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return errUnauthorized
	case errors.Is(err, core.ErrCapabilityMismatch):
		return errCapabilityMismatch
	case errors.Is(err, core.ErrEngine):
		return errEngineFailure
	default:
		return errEngineFailure
	}
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump read error")
				return
			}
			var req request
			if err := json.Unmarshal(data, &req); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("bad json")
				continue
			}
			// Each request is an independent unit of work; the core
			// serializes per room.
			go ctl.dispatch(ctx, c, req)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, c *Conn, req request) {
	switch req.Type {
	case "ping":
		ctl.handlePing(c, req)
	case "join-room":
		ctl.handleJoin(ctx, c, req)
	case "leave-room":
		ctl.handleLeave(c, req)
	case "create-transport":
		ctl.handleCreateTransport(ctx, c, req)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, c, req)
	case "produce":
		ctl.handleProduce(ctx, c, req)
	case "consume":
		ctl.handleConsume(ctx, c, req)
	case "consumer-resume":
		ctl.handleConsumerResume(ctx, c, req)
	case "toggle-audio":
		ctl.handleToggleAudio(c, req)
	case "toggle-video":
		ctl.handleToggleVideo(c, req)
	case "toggle-hand":
		ctl.handleToggleHand(c, req)
	case "screen-share-ended":
		ctl.handleScreenShareEnded(c, req)
	case "admin-mute-peer":
		ctl.handleAdminMute(c, req)
	case "admin-kick-peer":
		ctl.handleAdminKick(c, req)
	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.replyErr(c, req, errUnknownRequest)
	}
}

func (ctl *Controller) reply(c *Conn, req request, data any) {
	ctl.sendJSON(c, response{ID: req.ID, Type: "response", Data: data})
}

func (ctl *Controller) replyErr(c *Conn, req request, code string) {
	ctl.sendJSON(c, response{ID: req.ID, Type: "response", Error: code})
}

func (ctl *Controller) replyCoreErr(c *Conn, req request, err error) {
	log.Debug().Err(err).Str("module", "signal").
		Str("peer", string(c.peerID)).Str("type", req.Type).Msg("request failed")
	ctl.replyErr(c, req, errorCode(err))
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

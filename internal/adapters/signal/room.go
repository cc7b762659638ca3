package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/devaladey/yct-soup/internal/core"
	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

// room resolves the room named in a request payload. Requests against a
// room that never existed or already drained get a not-found response.
func (ctl *Controller) room(c *Conn, req request, roomID string) (*core.Room, bool) {
	room, ok := ctl.Registry.Get(domain.RoomID(roomID))
	if !ok {
		ctl.replyErr(c, req, errNotFound)
		return nil, false
	}
	return room, true
}

func (ctl *Controller) handleJoin(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	if !ctl.limiter.Allow(c.peerID) {
		log.Warn().Str("module", "signal").Str("peer", string(c.peerID)).Msg("join rate limited")
		ctl.replyErr(c, req, errRateLimited)
		return
	}

	room, err := ctl.Registry.GetOrCreate(ctx, domain.RoomID(p.RoomID))
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	result, err := room.Join(c.peerID, p.Name, c)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}

	ctl.reply(c, req, struct {
		IsAdmin               bool                  `json:"isAdmin"`
		RouterRtpCapabilities media.RtpCapabilities `json:"routerRtpCapabilities"`
		Peers                 []domain.PeerInfo     `json:"peers"`
	}{result.IsAdmin, result.RouterRtpCapabilities, result.Peers})
}

func (ctl *Controller) handleLeave(c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	// Leaving is idempotent: an unknown room or an already-removed peer
	// still acknowledges.
	if room, ok := ctl.Registry.Get(domain.RoomID(p.RoomID)); ok {
		room.Leave(c.peerID)
	}
	ctl.reply(c, req, map[string]bool{"success": true})
}

func (ctl *Controller) handleToggleAudio(c *Conn, req request) {
	var p struct {
		RoomID  string `json:"roomId"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	muted, err := room.SetAudio(c.peerID, p.Enabled)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"muted": muted})
}

func (ctl *Controller) handleToggleVideo(c *Conn, req request) {
	var p struct {
		RoomID  string `json:"roomId"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	videoOff, err := room.SetVideo(c.peerID, p.Enabled)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"videoOff": videoOff})
}

func (ctl *Controller) handleToggleHand(c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
		Raised bool   `json:"raised"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	raised, err := room.SetHand(c.peerID, p.Raised)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"raised": raised})
}

func (ctl *Controller) handleScreenShareEnded(c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	if err := room.EndScreenShare(c.peerID); err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"success": true})
}

func (ctl *Controller) handleAdminMute(c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.PeerID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	if err := room.AdminMute(c.peerID, domain.PeerID(p.PeerID)); err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"success": true})
}

func (ctl *Controller) handleAdminKick(c *Conn, req request) {
	var p struct {
		RoomID string `json:"roomId"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.PeerID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	if err := room.AdminKick(c.peerID, domain.PeerID(p.PeerID)); err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"success": true})
}

package signal

import (
	"context"
	"encoding/json"

	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID    string `json:"roomId"`
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	direction := domain.Direction(p.Direction)
	if !direction.Valid() {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	info, err := room.CreateTransport(ctx, c.peerID, direction)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, struct {
		TransportID    string               `json:"transportId"`
		IceParameters  media.IceParameters  `json:"iceParameters"`
		IceCandidates  []media.IceCandidate `json:"iceCandidates"`
		DtlsParameters media.DtlsParameters `json:"dtlsParameters"`
	}{info.ID, info.IceParameters, info.IceCandidates, info.DtlsParameters})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID         string                `json:"roomId"`
		TransportID    string                `json:"transportId"`
		DtlsParameters *media.DtlsParameters `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.TransportID == "" || p.DtlsParameters == nil {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	if err := room.ConnectTransport(ctx, c.peerID, p.TransportID, p.DtlsParameters); err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"connected": true})
}

func (ctl *Controller) handleProduce(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID        string               `json:"roomId"`
		TransportID   string               `json:"transportId"`
		Kind          string               `json:"kind"`
		RtpParameters *media.RtpParameters `json:"rtpParameters"`
		AppData       struct {
			Source string `json:"source"`
		} `json:"appData"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.TransportID == "" || p.RtpParameters == nil {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	kind := media.Kind(p.Kind)
	if kind != media.KindAudio && kind != media.KindVideo {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	id, err := room.Produce(ctx, c.peerID, p.TransportID, kind, p.RtpParameters, domain.Source(p.AppData.Source))
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]string{"id": id})
}

func (ctl *Controller) handleConsume(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID          string                 `json:"roomId"`
		ProducerID      string                 `json:"producerId"`
		RtpCapabilities *media.RtpCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.ProducerID == "" || p.RtpCapabilities == nil {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	info, err := room.Consume(ctx, c.peerID, p.ProducerID, p.RtpCapabilities)
	if err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, struct {
		ID             string               `json:"id"`
		ProducerID     string               `json:"producerId"`
		Kind           media.Kind           `json:"kind"`
		RtpParameters  *media.RtpParameters `json:"rtpParameters"`
		ProducerPeerID domain.PeerID        `json:"producerPeerId"`
		Source         domain.Source        `json:"source"`
	}{info.ID, info.ProducerID, info.Kind, info.RtpParameters, info.ProducerPeerID, info.Source})
}

func (ctl *Controller) handleConsumerResume(ctx context.Context, c *Conn, req request) {
	var p struct {
		RoomID     string `json:"roomId"`
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(req.Data, &p); err != nil || p.RoomID == "" || p.ConsumerID == "" {
		ctl.replyErr(c, req, errBadPayload)
		return
	}
	room, ok := ctl.room(c, req, p.RoomID)
	if !ok {
		return
	}
	if err := room.ResumeConsumer(ctx, c.peerID, p.ConsumerID); err != nil {
		ctl.replyCoreErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]bool{"resumed": true})
}

package core

import (
	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

// Peer is one participant's state inside a room. All fields are guarded by
// the owning room's mutex; nothing here locks on its own.
type Peer struct {
	id      domain.PeerID
	name    string
	joinSeq uint64
	sender  Sender

	// gone marks a peer removed while engine calls for it may still be in
	// flight; their results must be discarded, not registered.
	gone bool

	audioMuted    bool
	videoOff      bool
	handRaised    bool
	screenSharing bool

	transports map[string]transportEntry
	producers  map[string]producerEntry
	consumers  map[string]consumerEntry
}

type transportEntry struct {
	transport media.Transport
	direction domain.Direction
}

type producerEntry struct {
	producer    media.Producer
	source      domain.Source
	transportID string
}

type consumerEntry struct {
	consumer    media.Consumer
	transportID string
}

func newPeer(id domain.PeerID, name string, seq uint64, sender Sender) *Peer {
	return &Peer{
		id:         id,
		name:       name,
		joinSeq:    seq,
		sender:     sender,
		transports: make(map[string]transportEntry),
		producers:  make(map[string]producerEntry),
		consumers:  make(map[string]consumerEntry),
	}
}

func (p *Peer) notify(event string, payload any) {
	if p.sender != nil {
		p.sender.Notify(event, payload)
	}
}

func (p *Peer) recvTransport() (media.Transport, bool) {
	for _, e := range p.transports {
		if e.direction == domain.DirectionRecv {
			return e.transport, true
		}
	}
	return nil, false
}

func (p *Peer) info(adminID domain.PeerID) domain.PeerInfo {
	return domain.PeerInfo{
		ID:              p.id,
		Name:            p.name,
		IsAdmin:         p.id == adminID,
		IsAudioMuted:    p.audioMuted,
		IsVideoOff:      p.videoOff,
		IsHandRaised:    p.handRaised,
		IsScreenSharing: p.screenSharing,
	}
}

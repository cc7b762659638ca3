package core

import (
	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

// Sender delivers server-initiated events to one peer's connection. It must
// not block; slow connections drop events rather than stall a room.
type Sender interface {
	Notify(event string, payload any)
}

// Server-initiated event names. Room-wide unless noted.
const (
	EventPeerJoined         = "peer-joined"
	EventPeerLeft           = "peer-left"
	EventNewProducer        = "new-producer"
	EventConsumerClosed     = "consumer-closed" // target peer only
	EventPeerAudioUpdated   = "peer-audio-updated"
	EventPeerVideoUpdated   = "peer-video-updated"
	EventPeerHandUpdated    = "peer-hand-updated"
	EventScreenShareStarted = "peer-screen-share-started"
	EventScreenShareEnded   = "peer-screen-share-ended"
	EventPeerKicked         = "peer-kicked"
	EventYouWereKicked      = "you-were-kicked" // target only
	EventAdminMuteYou       = "admin-mute-you"  // target only
	EventYouAreNowAdmin     = "you-are-now-admin"
	EventNewAdmin           = "new-admin"
)

type PeerJoined struct {
	PeerID domain.PeerID `json:"peerId"`
	Name   string        `json:"name"`
}

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

type NewProducer struct {
	ProducerID string        `json:"producerId"`
	PeerID     domain.PeerID `json:"peerId"`
	Kind       media.Kind    `json:"kind"`
	Source     domain.Source `json:"source"`
}

type ConsumerClosed struct {
	ConsumerID string `json:"consumerId"`
}

type FlagUpdated struct {
	PeerID  domain.PeerID `json:"peerId"`
	Enabled bool          `json:"enabled"`
}

type HandUpdated struct {
	PeerID domain.PeerID `json:"peerId"`
	Raised bool          `json:"raised"`
}

type ScreenShare struct {
	PeerID domain.PeerID `json:"peerId"`
}

type PeerKicked struct {
	PeerID domain.PeerID `json:"peerId"`
}

type NewAdmin struct {
	PeerID domain.PeerID `json:"peerId"`
}

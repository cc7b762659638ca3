package domain

import "strings"

const (
	MaxPeerNameLen = 36

	// DefaultPeerName is used when a client joins without a display name.
	DefaultPeerName = "Guest"
)

// DisplayName normalizes a client-supplied display name.
func DisplayName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPeerName
	}
	if len(raw) > MaxPeerNameLen {
		return raw[:MaxPeerNameLen]
	}
	return raw
}

// PeerInfo is a read-only snapshot of one peer, sent to a joining client.
type PeerInfo struct {
	ID              PeerID `json:"id"`
	Name            string `json:"name"`
	IsAdmin         bool   `json:"isAdmin"`
	IsAudioMuted    bool   `json:"isAudioMuted"`
	IsVideoOff      bool   `json:"isVideoOff"`
	IsHandRaised    bool   `json:"isHandRaised"`
	IsScreenSharing bool   `json:"isScreenSharing"`
}

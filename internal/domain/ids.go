// Package domain contains entities without logic, just meta-data.
package domain

type (
	// RoomID is the opaque room key chosen by the first joining client.
	RoomID string

	// PeerID identifies one participant session. It is connection-scoped
	// and doubles as the media-engine appData peerId.
	PeerID string
)

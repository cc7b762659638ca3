// Package media is the boundary to the media engine. Rooms and signaling
// talk to these interfaces only; the mediasoup-backed implementation lives
// in engine.go and tests use the in-memory fake from mediatest.
package media

import (
	"context"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
)

// Wire-level parameter types are the engine's own types. The signaling layer
// round-trips them between the client and the engine without reinterpreting
// their contents.
type (
	RtpCapabilities = mediasoup.RtpCapabilities
	RtpParameters   = mediasoup.RtpParameters
	IceParameters   = mediasoup.IceParameters
	IceCandidate    = mediasoup.IceCandidate
	DtlsParameters  = mediasoup.DtlsParameters
	Kind            = mediasoup.MediaKind
	H               = mediasoup.H
)

const (
	KindAudio = mediasoup.MediaKindAudio
	KindVideo = mediasoup.MediaKindVideo
)

// Engine owns the worker subprocess and mints routers, one per room.
type Engine interface {
	// CreateRouter allocates a routing context with the default codec set.
	CreateRouter(ctx context.Context) (Router, error)

	// OnDied registers a handler invoked when the worker terminates on its
	// own. It does not fire on an explicit Close.
	OnDied(handler func())

	Close()
}

// Router is one room's media routing context.
type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps *RtpCapabilities) bool
	CreateTransport(ctx context.Context, appData H) (Transport, error)
	Close()
}

// Transport is a negotiated network path between one peer and the engine.
type Transport interface {
	ID() string
	IceParameters() IceParameters
	IceCandidates() []IceCandidate
	DtlsParameters() DtlsParameters

	Connect(ctx context.Context, dtls *DtlsParameters) error
	Produce(ctx context.Context, kind Kind, rtpParameters *RtpParameters, appData H) (Producer, error)
	// Consume creates the consumer paused; the client resumes it after
	// acknowledging the consumer parameters.
	Consume(ctx context.Context, producerID string, caps *RtpCapabilities, appData H) (Consumer, error)

	// OnClose fires once the transport is closed, whether by an explicit
	// Close or from the engine side (DTLS teardown, router closed).
	// Handlers may be invoked from engine goroutines; they must not block.
	OnClose(handler func())
	Close()
}

// Producer is an inbound media stream from a peer.
type Producer interface {
	ID() string
	Kind() Kind
	AppData() H
	Close()
}

// Consumer forwards a remote producer's stream to a peer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() *RtpParameters
	Resume(ctx context.Context) error

	// OnProducerClose fires when the upstream producer goes away.
	OnProducerClose(handler func())
	Close()
}

package core

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced through signaling responses. Everything the
// engine rejects is wrapped around ErrEngine so handlers can tell a stale
// reference from a live engine failure.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrTransportNotFound  = errors.New("transport not found")
	ErrProducerNotFound   = errors.New("producer not found")
	ErrConsumerNotFound   = errors.New("consumer not found")
	ErrNoRecvTransport    = errors.New("receive transport not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrCapabilityMismatch = errors.New("cannot consume this producer")
	ErrEngine             = errors.New("media engine failure")
)

// errClosedEarly marks a resource the engine closed before its registry
// entry could be published.
var errClosedEarly = errors.New("closed before registration")

func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrEngine, op, err)
}

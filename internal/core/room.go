package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

// Room serializes all state mutation for one conferencing session behind a
// single mutex. Engine calls are never made while the mutex is held; after
// a call returns, the result is only registered if the peer is still
// present, otherwise the engine resource is closed and discarded.
type Room struct {
	id       domain.RoomID
	router   media.Router
	registry *Registry

	mu      sync.Mutex
	peers   map[domain.PeerID]*Peer
	seq     uint64
	adminID domain.PeerID
	closed  bool
}

func newRoom(id domain.RoomID, router media.Router, registry *Registry) *Room {
	return &Room{
		id:       id,
		router:   router,
		registry: registry,
		peers:    make(map[domain.PeerID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// JoinResult is what a joining client needs to render initial state and
// set up its device.
type JoinResult struct {
	IsAdmin               bool
	RouterRtpCapabilities media.RtpCapabilities
	Peers                 []domain.PeerInfo
}

// TransportInfo carries the engine-side transport parameters back to the
// client for ICE/DTLS negotiation.
type TransportInfo struct {
	ID             string
	IceParameters  media.IceParameters
	IceCandidates  []media.IceCandidate
	DtlsParameters media.DtlsParameters
}

// ConsumerInfo is the consume response: everything the client needs to
// attach the remote track. The consumer starts paused.
type ConsumerInfo struct {
	ID             string
	ProducerID     string
	Kind           media.Kind
	RtpParameters  *media.RtpParameters
	ProducerPeerID domain.PeerID
	Source         domain.Source
}

// Join registers a peer. The first peer of a room becomes its admin.
func (r *Room) Join(peerID domain.PeerID, name string, sender Sender) (JoinResult, error) {
	name = domain.DisplayName(name)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return JoinResult{}, ErrRoomNotFound
	}

	var stale []media.Transport
	if old, ok := r.peers[peerID]; ok {
		// A rejoin on a connection id we still track: the previous
		// session is dead weight, drop it without broadcasts.
		stale, _, _ = r.removePeerLocked(old)
	}

	r.seq++
	p := newPeer(peerID, name, r.seq, sender)
	isAdmin := len(r.peers) == 0
	if isAdmin {
		r.adminID = peerID
	}
	r.peers[peerID] = p

	snapshot := r.snapshotLocked()
	others := r.peersExceptLocked(peerID)
	caps := r.router.RtpCapabilities()
	r.mu.Unlock()

	for _, t := range stale {
		t.Close()
	}
	fanout(others, EventPeerJoined, PeerJoined{PeerID: peerID, Name: name})

	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("peer", string(peerID)).Bool("admin", isAdmin).Msg("peer joined")

	return JoinResult{IsAdmin: isAdmin, RouterRtpCapabilities: caps, Peers: snapshot}, nil
}

// Leave removes a peer and cascades closure of everything it owns. It is
// idempotent: leaving twice, or leaving after a kick, is a no-op.
func (r *Room) Leave(peerID domain.PeerID) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	transports, newAdmin, empty := r.removePeerLocked(p)
	rest := r.peersExceptLocked("")
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	fanout(rest, EventPeerLeft, PeerLeft{PeerID: peerID})
	r.announceAdmin(newAdmin, rest)

	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("peer", string(peerID)).Msg("peer left")

	if empty {
		r.registry.removeIfEmpty(r.id)
	}
}

// AdminMute force-mutes the target's microphone. Admin only. The target is
// told to mute itself and the whole room, target included, sees the flag
// change.
func (r *Room) AdminMute(requesterID, targetID domain.PeerID) error {
	r.mu.Lock()
	if r.adminID != requesterID {
		r.mu.Unlock()
		return ErrUnauthorized
	}
	target, ok := r.peers[targetID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	target.audioMuted = true
	everyone := r.peersExceptLocked("")
	r.mu.Unlock()

	target.notify(EventAdminMuteYou, struct{}{})
	fanout(everyone, EventPeerAudioUpdated, FlagUpdated{PeerID: targetID, Enabled: false})
	return nil
}

// AdminKick removes the target on the admin's behalf. The target gets a
// private notice; the remaining peers get a kick notice instead of the
// regular peer-left.
func (r *Room) AdminKick(requesterID, targetID domain.PeerID) error {
	r.mu.Lock()
	if r.adminID != requesterID {
		r.mu.Unlock()
		return ErrUnauthorized
	}
	target, ok := r.peers[targetID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	transports, newAdmin, empty := r.removePeerLocked(target)
	rest := r.peersExceptLocked("")
	r.mu.Unlock()

	target.notify(EventYouWereKicked, struct{}{})
	for _, t := range transports {
		t.Close()
	}
	fanout(rest, EventPeerKicked, PeerKicked{PeerID: targetID})
	r.announceAdmin(newAdmin, rest)

	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("peer", string(targetID)).Str("by", string(requesterID)).Msg("peer kicked")

	if empty {
		r.registry.removeIfEmpty(r.id)
	}
	return nil
}

// SetAudio flips the peer's own microphone flag. Returns the muted state.
func (r *Room) SetAudio(peerID domain.PeerID, enabled bool) (bool, error) {
	return r.setFlag(peerID, EventPeerAudioUpdated, func(p *Peer) bool {
		p.audioMuted = !enabled
		return p.audioMuted
	}, FlagUpdated{PeerID: peerID, Enabled: enabled})
}

// SetVideo flips the peer's camera flag. Returns the videoOff state.
func (r *Room) SetVideo(peerID domain.PeerID, enabled bool) (bool, error) {
	return r.setFlag(peerID, EventPeerVideoUpdated, func(p *Peer) bool {
		p.videoOff = !enabled
		return p.videoOff
	}, FlagUpdated{PeerID: peerID, Enabled: enabled})
}

// SetHand raises or lowers the peer's hand. Returns the raised state.
func (r *Room) SetHand(peerID domain.PeerID, raised bool) (bool, error) {
	return r.setFlag(peerID, EventPeerHandUpdated, func(p *Peer) bool {
		p.handRaised = raised
		return p.handRaised
	}, HandUpdated{PeerID: peerID, Raised: raised})
}

// EndScreenShare clears the screen-sharing flag after the client stopped
// its capture. The producer teardown arrives separately via the transport.
func (r *Room) EndScreenShare(peerID domain.PeerID) error {
	_, err := r.setFlag(peerID, EventScreenShareEnded, func(p *Peer) bool {
		p.screenSharing = false
		return false
	}, ScreenShare{PeerID: peerID})
	return err
}

func (r *Room) setFlag(peerID domain.PeerID, event string, mutate func(*Peer) bool, payload any) (bool, error) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return false, ErrPeerNotFound
	}
	state := mutate(p)
	others := r.peersExceptLocked(peerID)
	r.mu.Unlock()

	fanout(others, event, payload)
	return state, nil
}

// CreateTransport asks the engine for a transport and registers it under
// the peer, tagged with its direction.
func (r *Room) CreateTransport(ctx context.Context, peerID domain.PeerID, direction domain.Direction) (TransportInfo, error) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	r.mu.Unlock()
	if !ok {
		return TransportInfo{}, ErrPeerNotFound
	}

	t, err := r.router.CreateTransport(ctx, media.H{
		"peerId":    string(peerID),
		"direction": string(direction),
	})
	if err != nil {
		return TransportInfo{}, engineErr("create transport", err)
	}

	// The close hook is attached before the entry is published so an
	// engine-side close can never land in a window where it has nothing
	// to clean up; closedEarly catches a hook that fired before the
	// entry existed.
	id := t.ID()
	var closedEarly atomic.Bool
	t.OnClose(func() {
		closedEarly.Store(true)
		go r.dropTransport(peerID, id)
	})

	r.mu.Lock()
	if p.gone {
		r.mu.Unlock()
		t.Close()
		return TransportInfo{}, ErrPeerNotFound
	}
	p.transports[id] = transportEntry{transport: t, direction: direction}
	if closedEarly.Load() {
		delete(p.transports, id)
		r.mu.Unlock()
		return TransportInfo{}, engineErr("create transport", errClosedEarly)
	}
	r.mu.Unlock()

	return TransportInfo{
		ID:             id,
		IceParameters:  t.IceParameters(),
		IceCandidates:  t.IceCandidates(),
		DtlsParameters: t.DtlsParameters(),
	}, nil
}

// ConnectTransport finishes DTLS setup. The transport must belong to the
// requesting peer; peers can never connect each other's transports.
func (r *Room) ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID string, dtls *media.DtlsParameters) error {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	entry, ok := p.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return ErrTransportNotFound
	}

	if err := entry.transport.Connect(ctx, dtls); err != nil {
		return engineErr("connect transport", err)
	}
	return nil
}

// Produce creates a producer on the peer's transport and announces it to
// the rest of the room. Screen captures additionally flip the peer's
// screen-sharing flag and raise the share-started event.
func (r *Room) Produce(ctx context.Context, peerID domain.PeerID, transportID string, kind media.Kind, rtpParameters *media.RtpParameters, source domain.Source) (string, error) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return "", ErrPeerNotFound
	}
	entry, ok := p.transports[transportID]
	name := p.name
	r.mu.Unlock()
	if !ok {
		return "", ErrTransportNotFound
	}

	producer, err := entry.transport.Produce(ctx, kind, rtpParameters, media.H{
		"peerId":   string(peerID),
		"peerName": name,
		"source":   string(source),
	})
	if err != nil {
		return "", engineErr("produce", err)
	}

	isScreen := source == domain.SourceScreen

	r.mu.Lock()
	if p.gone {
		r.mu.Unlock()
		producer.Close()
		return "", ErrPeerNotFound
	}
	p.producers[producer.ID()] = producerEntry{producer: producer, source: source, transportID: transportID}
	if isScreen {
		p.screenSharing = true
	}
	others := r.peersExceptLocked(peerID)
	r.mu.Unlock()

	// Broadcasts frame any non-screen capture as webcam; the true source
	// still travels in appData and in the consume response.
	broadcastSource := domain.SourceWebcam
	if isScreen {
		broadcastSource = domain.SourceScreen
	}
	fanout(others, EventNewProducer, NewProducer{
		ProducerID: producer.ID(),
		PeerID:     peerID,
		Kind:       kind,
		Source:     broadcastSource,
	})
	if isScreen {
		fanout(others, EventScreenShareStarted, ScreenShare{PeerID: peerID})
	}

	return producer.ID(), nil
}

// Consume attaches the requesting peer to another peer's producer. The
// producer is located with a room-wide scan; rooms are small enough that
// an index is not worth maintaining. The consumer starts paused.
func (r *Room) Consume(ctx context.Context, peerID domain.PeerID, producerID string, caps *media.RtpCapabilities) (ConsumerInfo, error) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return ConsumerInfo{}, ErrPeerNotFound
	}

	var owner *Peer
	var produced producerEntry
	for _, cand := range r.peers {
		if e, ok := cand.producers[producerID]; ok {
			owner, produced = cand, e
			break
		}
	}
	if owner == nil {
		r.mu.Unlock()
		return ConsumerInfo{}, ErrProducerNotFound
	}
	if !r.router.CanConsume(producerID, caps) {
		r.mu.Unlock()
		return ConsumerInfo{}, ErrCapabilityMismatch
	}
	recv, ok := p.recvTransport()
	if !ok {
		r.mu.Unlock()
		return ConsumerInfo{}, ErrNoRecvTransport
	}
	ownerID, ownerName, source := owner.id, owner.name, produced.source
	r.mu.Unlock()

	consumer, err := recv.Consume(ctx, producerID, caps, media.H{
		"peerId":   string(ownerID),
		"peerName": ownerName,
		"source":   string(source),
	})
	if err != nil {
		return ConsumerInfo{}, engineErr("consume", err)
	}

	// Same ordering as CreateTransport: hook first, entry second, with an
	// upstream close in between surfacing as a failed consume.
	consumerID := consumer.ID()
	var upstreamGone atomic.Bool
	consumer.OnProducerClose(func() {
		upstreamGone.Store(true)
		go r.upstreamClosed(peerID, consumerID)
	})

	r.mu.Lock()
	if p.gone {
		r.mu.Unlock()
		consumer.Close()
		return ConsumerInfo{}, ErrPeerNotFound
	}
	p.consumers[consumerID] = consumerEntry{consumer: consumer, transportID: recv.ID()}
	if upstreamGone.Load() {
		delete(p.consumers, consumerID)
		r.mu.Unlock()
		consumer.Close()
		return ConsumerInfo{}, ErrProducerNotFound
	}
	r.mu.Unlock()

	if source == "" {
		source = domain.SourceWebcam
	}
	return ConsumerInfo{
		ID:             consumerID,
		ProducerID:     producerID,
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		ProducerPeerID: ownerID,
		Source:         source,
	}, nil
}

// ResumeConsumer unpauses a consumer after the client acknowledged it.
func (r *Room) ResumeConsumer(ctx context.Context, peerID domain.PeerID, consumerID string) error {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	entry, ok := p.consumers[consumerID]
	r.mu.Unlock()
	if !ok {
		return ErrConsumerNotFound
	}

	if err := entry.consumer.Resume(ctx); err != nil {
		return engineErr("resume consumer", err)
	}
	return nil
}

// PeerCount reports the current number of peers.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// AdminID reports the current admin, or empty for a drained room.
func (r *Room) AdminID() domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminID
}

// Peers returns a snapshot ordered by join sequence.
func (r *Room) Peers() []domain.PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// removePeerLocked detaches a peer and computes the consequences: the
// transports to close, the re-elected admin if the departing peer held
// authority, and whether the room emptied. Caller holds r.mu and performs
// the engine closes and notifications after unlocking.
func (r *Room) removePeerLocked(p *Peer) (transports []media.Transport, newAdmin *Peer, empty bool) {
	delete(r.peers, p.id)
	p.gone = true

	for _, e := range p.transports {
		transports = append(transports, e.transport)
	}
	p.transports = make(map[string]transportEntry)
	p.producers = make(map[string]producerEntry)
	p.consumers = make(map[string]consumerEntry)

	if r.adminID == p.id {
		r.adminID = ""
		// Deterministic re-election: authority passes to the remaining
		// peer with the lowest join sequence.
		for _, cand := range r.peers {
			if newAdmin == nil || cand.joinSeq < newAdmin.joinSeq {
				newAdmin = cand
			}
		}
		if newAdmin != nil {
			r.adminID = newAdmin.id
		}
	}
	return transports, newAdmin, len(r.peers) == 0
}

func (r *Room) announceAdmin(newAdmin *Peer, rest []*Peer) {
	if newAdmin == nil {
		return
	}
	newAdmin.notify(EventYouAreNowAdmin, struct{}{})
	fanout(rest, EventNewAdmin, NewAdmin{PeerID: newAdmin.id})
	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("peer", string(newAdmin.id)).Msg("admin re-elected")
}

func (r *Room) dropTransport(peerID domain.PeerID, transportID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	if _, ok := p.transports[transportID]; !ok {
		return
	}
	delete(p.transports, transportID)
	// The engine already closed everything riding on the transport.
	for id, e := range p.producers {
		if e.transportID == transportID {
			delete(p.producers, id)
		}
	}
	for id, e := range p.consumers {
		if e.transportID == transportID {
			delete(p.consumers, id)
		}
	}
}

// upstreamClosed handles the engine's producer-closed signal for one of
// this room's consumers: the registry entry goes away and only the owning
// peer is told.
func (r *Room) upstreamClosed(peerID domain.PeerID, consumerID string) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if ok {
		_, ok = p.consumers[consumerID]
		if ok {
			delete(p.consumers, consumerID)
		}
	}
	r.mu.Unlock()
	if ok {
		p.notify(EventConsumerClosed, ConsumerClosed{ConsumerID: consumerID})
	}
}

func (r *Room) snapshotLocked() []domain.PeerInfo {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })

	infos := make([]domain.PeerInfo, 0, len(out))
	for _, p := range out {
		infos = append(infos, p.info(r.adminID))
	}
	return infos
}

// peersExceptLocked returns every peer but the excluded one; pass the zero
// id to get everyone.
func (r *Room) peersExceptLocked(except domain.PeerID) []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == except {
			continue
		}
		out = append(out, p)
	}
	return out
}

func fanout(peers []*Peer, event string, payload any) {
	for _, p := range peers {
		p.notify(event, payload)
	}
}

// closeForShutdown tears the room down during process exit, without
// broadcasts or re-election.
func (r *Room) closeForShutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var transports []media.Transport
	for _, p := range r.peers {
		for _, e := range p.transports {
			transports = append(transports, e.transport)
		}
		p.gone = true
	}
	r.peers = make(map[domain.PeerID]*Peer)
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.router.Close()
}

package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
	"github.com/devaladey/yct-soup/internal/media/mediatest"
)

type sentEvent struct {
	event   string
	payload any
}

type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *fakeSender) Notify(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{event, payload})
}

func (s *fakeSender) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (s *fakeSender) last(event string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].event == event {
			return s.events[i].payload, true
		}
	}
	return nil, false
}

func newTestRoom(t *testing.T) (*mediatest.Engine, *Registry, *Room) {
	t.Helper()
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	room, err := reg.GetOrCreate(context.Background(), "room-1")
	require.NoError(t, err)
	return eng, reg, room
}

func join(t *testing.T, room *Room, id domain.PeerID, name string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	_, err := room.Join(id, name, s)
	require.NoError(t, err)
	return s
}

func recvTransport(t *testing.T, room *Room, id domain.PeerID) TransportInfo {
	t.Helper()
	info, err := room.CreateTransport(context.Background(), id, domain.DirectionRecv)
	require.NoError(t, err)
	return info
}

func sendTransport(t *testing.T, room *Room, id domain.PeerID) TransportInfo {
	t.Helper()
	info, err := room.CreateTransport(context.Background(), id, domain.DirectionSend)
	require.NoError(t, err)
	return info
}

func produce(t *testing.T, room *Room, id domain.PeerID, transportID string, kind media.Kind, source domain.Source) string {
	t.Helper()
	producerID, err := room.Produce(context.Background(), id, transportID, kind, &media.RtpParameters{}, source)
	require.NoError(t, err)
	return producerID
}

func TestJoinFirstPeerBecomesAdmin(t *testing.T) {
	_, _, room := newTestRoom(t)

	a := &fakeSender{}
	resA, err := room.Join("peer-a", "Alice", a)
	require.NoError(t, err)
	require.True(t, resA.IsAdmin)
	require.Len(t, resA.Peers, 1)

	b := &fakeSender{}
	resB, err := room.Join("peer-b", "Bob", b)
	require.NoError(t, err)
	require.False(t, resB.IsAdmin)
	require.Len(t, resB.Peers, 2)
	require.Equal(t, domain.PeerID("peer-a"), resB.Peers[0].ID)
	require.True(t, resB.Peers[0].IsAdmin)

	require.Equal(t, 1, a.count(EventPeerJoined))
	require.Equal(t, 0, b.count(EventPeerJoined))
}

func TestJoinEmptyNameGetsDefault(t *testing.T) {
	_, _, room := newTestRoom(t)

	res, err := room.Join("peer-a", "   ", &fakeSender{})
	require.NoError(t, err)
	require.Equal(t, domain.DefaultPeerName, res.Peers[0].Name)
}

func TestRejoinReplacesOldSession(t *testing.T) {
	eng, _, room := newTestRoom(t)

	join(t, room, "peer-a", "Alice")
	sendTransport(t, room, "peer-a")

	_, err := room.Join("peer-a", "Alice", &fakeSender{})
	require.NoError(t, err)
	require.Equal(t, 1, room.PeerCount())
	require.True(t, eng.Routers()[0].Transports()[0].Closed())
}

func TestLeaveBroadcastsOnceAndIsIdempotent(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")

	room.Leave("peer-a")
	room.Leave("peer-a")

	require.Equal(t, 1, b.count(EventPeerLeft))
	require.Equal(t, 1, room.PeerCount())
}

func TestLeaveClosesOwnedTransports(t *testing.T) {
	eng, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	sendTransport(t, room, "peer-a")
	recvTransport(t, room, "peer-a")

	room.Leave("peer-a")

	for _, tr := range eng.Routers()[0].Transports() {
		require.True(t, tr.Closed())
	}
}

func TestAdminTransferOnLeave(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")
	c := join(t, room, "peer-c", "Carol")

	room.Leave("peer-a")

	require.Equal(t, domain.PeerID("peer-b"), room.AdminID())
	require.Equal(t, 1, b.count(EventYouAreNowAdmin))
	require.Equal(t, 0, c.count(EventYouAreNowAdmin))
	require.Equal(t, 1, c.count(EventNewAdmin))

	payload, ok := c.last(EventNewAdmin)
	require.True(t, ok)
	require.Equal(t, NewAdmin{PeerID: "peer-b"}, payload)
}

func TestRoomTeardownWhenLastPeerLeaves(t *testing.T) {
	eng, reg, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")

	room.Leave("peer-a")

	_, ok := reg.Get("room-1")
	require.False(t, ok)
	require.Equal(t, 1, eng.Routers()[0].CloseCount())

	// A second leave must not double-close the router.
	room.Leave("peer-a")
	require.Equal(t, 1, eng.Routers()[0].CloseCount())
}

func TestKick(t *testing.T) {
	eng, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")
	c := join(t, room, "peer-c", "Carol")
	sendTransport(t, room, "peer-b")

	require.NoError(t, room.AdminKick("peer-a", "peer-b"))

	require.Equal(t, 2, room.PeerCount())
	require.Equal(t, 1, b.count(EventYouWereKicked))
	require.Equal(t, 1, c.count(EventPeerKicked))
	require.Equal(t, 0, c.count(EventPeerLeft))
	require.True(t, eng.Routers()[0].Transports()[0].Closed())
}

func TestKickUnauthorized(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	c := join(t, room, "peer-c", "Carol")

	err := room.AdminKick("peer-b", "peer-c")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, 3, room.PeerCount())
	require.Equal(t, 0, c.count(EventYouWereKicked))
}

func TestKickUnknownPeer(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")

	err := room.AdminKick("peer-a", "peer-x")
	require.ErrorIs(t, err, ErrPeerNotFound)
}

func TestAdminMute(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")

	require.NoError(t, room.AdminMute("peer-a", "peer-b"))

	require.Equal(t, 1, b.count(EventAdminMuteYou))
	// The flag update reaches the whole room, target included.
	require.Equal(t, 1, a.count(EventPeerAudioUpdated))
	require.Equal(t, 1, b.count(EventPeerAudioUpdated))

	payload, ok := a.last(EventPeerAudioUpdated)
	require.True(t, ok)
	require.Equal(t, FlagUpdated{PeerID: "peer-b", Enabled: false}, payload)

	peers := room.Peers()
	require.True(t, peers[1].IsAudioMuted)
}

func TestAdminMuteUnauthorizedLeavesStateUntouched(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")

	err := room.AdminMute("peer-b", "peer-a")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, room.Peers()[0].IsAudioMuted)
}

func TestToggleFlags(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")

	muted, err := room.SetAudio("peer-a", false)
	require.NoError(t, err)
	require.True(t, muted)
	require.Equal(t, 1, b.count(EventPeerAudioUpdated))
	require.Equal(t, 0, a.count(EventPeerAudioUpdated))

	videoOff, err := room.SetVideo("peer-a", true)
	require.NoError(t, err)
	require.False(t, videoOff)
	require.Equal(t, 1, b.count(EventPeerVideoUpdated))

	raised, err := room.SetHand("peer-a", true)
	require.NoError(t, err)
	require.True(t, raised)
	payload, ok := b.last(EventPeerHandUpdated)
	require.True(t, ok)
	require.Equal(t, HandUpdated{PeerID: "peer-a", Raised: true}, payload)

	_, err = room.SetAudio("peer-x", true)
	require.ErrorIs(t, err, ErrPeerNotFound)
}

func TestTransportOwnership(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")

	info := sendTransport(t, room, "peer-a")
	require.NotEmpty(t, info.ID)
	require.NotEmpty(t, info.IceParameters.UsernameFragment)

	ctx := context.Background()
	require.NoError(t, room.ConnectTransport(ctx, "peer-a", info.ID, &media.DtlsParameters{}))

	// Another peer cannot touch it, and stale ids surface as not found.
	err := room.ConnectTransport(ctx, "peer-b", info.ID, &media.DtlsParameters{})
	require.ErrorIs(t, err, ErrTransportNotFound)
	err = room.ConnectTransport(ctx, "peer-a", "transport-x", &media.DtlsParameters{})
	require.ErrorIs(t, err, ErrTransportNotFound)
}

func TestProduceBroadcastsToOthers(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	b := join(t, room, "peer-b", "Bob")
	info := sendTransport(t, room, "peer-b")

	producerID := produce(t, room, "peer-b", info.ID, media.KindVideo, domain.SourceWebcam)

	require.Equal(t, 1, a.count(EventNewProducer))
	require.Equal(t, 0, b.count(EventNewProducer))
	payload, ok := a.last(EventNewProducer)
	require.True(t, ok)
	require.Equal(t, NewProducer{
		ProducerID: producerID,
		PeerID:     "peer-b",
		Kind:       media.KindVideo,
		Source:     domain.SourceWebcam,
	}, payload)
}

func TestProduceMicAnnouncedAsWebcam(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	info := sendTransport(t, room, "peer-b")

	produce(t, room, "peer-b", info.ID, media.KindAudio, domain.SourceMic)

	payload, ok := a.last(EventNewProducer)
	require.True(t, ok)
	require.Equal(t, domain.SourceWebcam, payload.(NewProducer).Source)
}

func TestProduceScreenStartsShare(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	info := sendTransport(t, room, "peer-b")

	produce(t, room, "peer-b", info.ID, media.KindVideo, domain.SourceScreen)

	require.Equal(t, 1, a.count(EventScreenShareStarted))
	payload, _ := a.last(EventNewProducer)
	require.Equal(t, domain.SourceScreen, payload.(NewProducer).Source)
	require.True(t, room.Peers()[1].IsScreenSharing)

	require.NoError(t, room.EndScreenShare("peer-b"))
	require.Equal(t, 1, a.count(EventScreenShareEnded))
	require.False(t, room.Peers()[1].IsScreenSharing)
}

func TestProduceStaleTransport(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")

	_, err := room.Produce(context.Background(), "peer-a", "transport-x", media.KindVideo, &media.RtpParameters{}, domain.SourceWebcam)
	require.ErrorIs(t, err, ErrTransportNotFound)
}

func TestConsumeFlow(t *testing.T) {
	eng, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	send := sendTransport(t, room, "peer-b")
	recvTransport(t, room, "peer-a")
	producerID := produce(t, room, "peer-b", send.ID, media.KindVideo, domain.SourceWebcam)

	ctx := context.Background()
	info, err := room.Consume(ctx, "peer-a", producerID, &media.RtpCapabilities{})
	require.NoError(t, err)
	require.Equal(t, producerID, info.ProducerID)
	require.Equal(t, domain.PeerID("peer-b"), info.ProducerPeerID)
	require.Equal(t, domain.SourceWebcam, info.Source)
	require.Equal(t, media.KindVideo, info.Kind)
	require.NotNil(t, info.RtpParameters)

	// Consumers start paused until the client acknowledges.
	router := eng.Routers()[0]
	var consumer *mediatest.Consumer
	for _, tr := range router.Transports() {
		for _, c := range tr.Consumers() {
			consumer = c
		}
	}
	require.NotNil(t, consumer)
	require.True(t, consumer.Paused())

	require.NoError(t, room.ResumeConsumer(ctx, "peer-a", info.ID))
	require.False(t, consumer.Paused())

	require.Equal(t, 0, a.count(EventConsumerClosed))
}

func TestConsumeUnknownProducer(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	recvTransport(t, room, "peer-a")

	_, err := room.Consume(context.Background(), "peer-a", "producer-x", &media.RtpCapabilities{})
	require.ErrorIs(t, err, ErrProducerNotFound)
}

func TestConsumeCapabilityMismatch(t *testing.T) {
	eng, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	send := sendTransport(t, room, "peer-b")
	recvTransport(t, room, "peer-a")
	producerID := produce(t, room, "peer-b", send.ID, media.KindVideo, domain.SourceWebcam)

	eng.Routers()[0].DenyConsume = true
	_, err := room.Consume(context.Background(), "peer-a", producerID, &media.RtpCapabilities{})
	require.ErrorIs(t, err, ErrCapabilityMismatch)
}

func TestConsumeWithoutRecvTransport(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	send := sendTransport(t, room, "peer-b")
	producerID := produce(t, room, "peer-b", send.ID, media.KindVideo, domain.SourceWebcam)

	_, err := room.Consume(context.Background(), "peer-a", producerID, &media.RtpCapabilities{})
	require.ErrorIs(t, err, ErrNoRecvTransport)
}

func TestResumeUnknownConsumer(t *testing.T) {
	_, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")

	err := room.ResumeConsumer(context.Background(), "peer-a", "consumer-x")
	require.ErrorIs(t, err, ErrConsumerNotFound)
}

func TestConsumerClosedWhenProducerPeerLeaves(t *testing.T) {
	_, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	send := sendTransport(t, room, "peer-b")
	recvTransport(t, room, "peer-a")
	producerID := produce(t, room, "peer-b", send.ID, media.KindVideo, domain.SourceWebcam)

	info, err := room.Consume(context.Background(), "peer-a", producerID, &media.RtpCapabilities{})
	require.NoError(t, err)

	room.Leave("peer-b")

	require.Eventually(t, func() bool {
		return a.count(EventConsumerClosed) == 1
	}, time.Second, 10*time.Millisecond)

	payload, ok := a.last(EventConsumerClosed)
	require.True(t, ok)
	require.Equal(t, ConsumerClosed{ConsumerID: info.ID}, payload)

	// The registry entry is gone too.
	err = room.ResumeConsumer(context.Background(), "peer-a", info.ID)
	require.ErrorIs(t, err, ErrConsumerNotFound)
}

func TestLeaveDuringInflightProduce(t *testing.T) {
	eng, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	info := sendTransport(t, room, "peer-b")

	tr := eng.Routers()[0].Transports()[0]
	started := make(chan struct{})
	release := make(chan struct{})
	tr.ProduceStarted = started
	tr.ProduceRelease = release

	errCh := make(chan error, 1)
	go func() {
		_, err := room.Produce(context.Background(), "peer-b", info.ID, media.KindVideo, &media.RtpParameters{}, domain.SourceWebcam)
		errCh <- err
	}()

	<-started
	room.Leave("peer-b")
	close(release)

	err := <-errCh
	require.ErrorIs(t, err, ErrPeerNotFound)
	// Nothing was announced and nothing leaked into the registry.
	require.Equal(t, 0, a.count(EventNewProducer))
	require.Equal(t, 1, room.PeerCount())
}

func TestTransportClosedBeforeRegistration(t *testing.T) {
	eng, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")
	eng.Routers()[0].CloseTransportOnCreate = true

	_, err := room.CreateTransport(context.Background(), "peer-a", domain.DirectionSend)
	require.ErrorIs(t, err, ErrEngine)

	// The dead transport never made it into the registry.
	staleID := eng.Routers()[0].Transports()[0].ID()
	err = room.ConnectTransport(context.Background(), "peer-a", staleID, &media.DtlsParameters{})
	require.ErrorIs(t, err, ErrTransportNotFound)
}

func TestProducerClosedDuringConsumeSetup(t *testing.T) {
	eng, _, room := newTestRoom(t)
	a := join(t, room, "peer-a", "Alice")
	join(t, room, "peer-b", "Bob")
	send := sendTransport(t, room, "peer-b")
	recvTransport(t, room, "peer-a")
	producerID := produce(t, room, "peer-b", send.ID, media.KindVideo, domain.SourceWebcam)

	recvTr := eng.Routers()[0].Transports()[1]
	recvTr.CloseProducerOnConsume = true

	_, err := room.Consume(context.Background(), "peer-a", producerID, &media.RtpCapabilities{})
	require.ErrorIs(t, err, ErrProducerNotFound)

	// No registry entry, no stray consumer-closed push.
	require.Equal(t, 0, a.count(EventConsumerClosed))
	err = room.ResumeConsumer(context.Background(), "peer-a", "consumer-x")
	require.ErrorIs(t, err, ErrConsumerNotFound)
}

func TestEngineFailureSurfacesAsEngineError(t *testing.T) {
	eng, _, room := newTestRoom(t)
	join(t, room, "peer-a", "Alice")

	eng.Routers()[0].FailTransport = true
	_, err := room.CreateTransport(context.Background(), "peer-a", domain.DirectionSend)
	require.ErrorIs(t, err, ErrEngine)
}

package media

import (
	"context"
	"fmt"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"
)

// Config carries the worker and transport settings the engine needs.
type Config struct {
	// WorkerBin is the path to the mediasoup-worker binary.
	WorkerBin string

	// WorkerLogLevel is one of debug, warn, error, none.
	WorkerLogLevel string

	// ListenIP is the local IP the worker binds RTC traffic to.
	ListenIP string

	// AnnouncedIP is the public IP announced in ICE candidates. Optional.
	AnnouncedIP string

	// MinPort and MaxPort bound the RTC port range.
	MinPort uint16
	MaxPort uint16

	// MaxIncomingBitrate caps each transport's inbound bitrate. 0 disables.
	MaxIncomingBitrate uint32

	// InitialAvailableOutgoingBitrate seeds the sender-side BWE.
	InitialAvailableOutgoingBitrate uint32
}

type engine struct {
	worker *mediasoup.Worker
	cfg    Config
}

// NewEngine spawns the mediasoup worker subprocess. It must outlive every
// room; Close it last during shutdown.
func NewEngine(cfg Config) (Engine, error) {
	level := mediasoup.WorkerLogLevel(cfg.WorkerLogLevel)
	if level == "" {
		level = mediasoup.WorkerLogLevelWarn
	}

	worker, err := mediasoup.NewWorker(cfg.WorkerBin, func(s *mediasoup.WorkerSettings) {
		s.LogLevel = level
		s.LogTags = []mediasoup.WorkerLogTag{
			mediasoup.WorkerLogTagInfo,
			mediasoup.WorkerLogTagIce,
			mediasoup.WorkerLogTagDtls,
			mediasoup.WorkerLogTagRtp,
			mediasoup.WorkerLogTagSrtp,
			mediasoup.WorkerLogTagRtcp,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start mediasoup worker: %w", err)
	}

	log.Info().Str("module", "media").Int("pid", worker.Pid()).Msg("mediasoup worker started")

	return &engine{worker: worker, cfg: cfg}, nil
}

func (e *engine) CreateRouter(ctx context.Context) (Router, error) {
	r, err := e.worker.CreateRouterContext(ctx, &mediasoup.RouterOptions{
		MediaCodecs: DefaultMediaCodecs(),
	})
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	return &router{router: r, cfg: e.cfg}, nil
}

func (e *engine) OnDied(handler func()) {
	e.worker.OnClose(func(ctx context.Context) {
		// OnClose also fires on our own Close; only a worker that still
		// reports an error died on its own.
		if err := e.worker.Err(); err != nil {
			log.Error().Str("module", "media").Err(err).Msg("mediasoup worker died")
			handler()
		}
	})
}

func (e *engine) Close() {
	e.worker.Close()
}

type router struct {
	router *mediasoup.Router
	cfg    Config
}

func (r *router) ID() string { return r.router.Id() }

func (r *router) RtpCapabilities() RtpCapabilities {
	return *r.router.RtpCapabilities()
}

func (r *router) CanConsume(producerID string, caps *RtpCapabilities) bool {
	return r.router.CanConsume(producerID, caps)
}

func (r *router) CreateTransport(ctx context.Context, appData H) (Transport, error) {
	t, err := r.router.CreateWebRtcTransport(&mediasoup.WebRtcTransportOptions{
		ListenInfos: []mediasoup.TransportListenInfo{
			{
				Protocol:         mediasoup.TransportProtocolUDP,
				Ip:               r.cfg.ListenIP,
				AnnouncedAddress: r.cfg.AnnouncedIP,
				PortRange:        mediasoup.TransportPortRange{Min: r.cfg.MinPort, Max: r.cfg.MaxPort},
			},
			{
				Protocol:         mediasoup.TransportProtocolTCP,
				Ip:               r.cfg.ListenIP,
				AnnouncedAddress: r.cfg.AnnouncedIP,
				PortRange:        mediasoup.TransportPortRange{Min: r.cfg.MinPort, Max: r.cfg.MaxPort},
			},
		},
		PreferUdp:                       true,
		InitialAvailableOutgoingBitrate: r.cfg.InitialAvailableOutgoingBitrate,
		AppData:                         appData,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	if r.cfg.MaxIncomingBitrate > 0 {
		if err := t.SetMaxIncomingBitrate(r.cfg.MaxIncomingBitrate); err != nil {
			log.Warn().Str("module", "media").Err(err).
				Str("transport", t.Id()).Msg("set max incoming bitrate")
		}
	}

	return &transport{transport: t}, nil
}

func (r *router) Close() {
	r.router.Close()
}

type transport struct {
	transport *mediasoup.Transport
}

func (t *transport) ID() string { return t.transport.Id() }

func (t *transport) IceParameters() IceParameters {
	return t.transport.Data().IceParameters
}

func (t *transport) IceCandidates() []IceCandidate {
	return t.transport.Data().IceCandidates
}

func (t *transport) DtlsParameters() DtlsParameters {
	return t.transport.Data().DtlsParameters
}

func (t *transport) Connect(ctx context.Context, dtls *DtlsParameters) error {
	return t.transport.Connect(&mediasoup.TransportConnectOptions{DtlsParameters: dtls})
}

func (t *transport) Produce(ctx context.Context, kind Kind, rtpParameters *RtpParameters, appData H) (Producer, error) {
	p, err := t.transport.Produce(&mediasoup.ProducerOptions{
		Kind:          kind,
		RtpParameters: rtpParameters,
		AppData:       appData,
	})
	if err != nil {
		return nil, err
	}
	return &producer{producer: p}, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, caps *RtpCapabilities, appData H) (Consumer, error) {
	c, err := t.transport.Consume(&mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: caps,
		Paused:          true,
		AppData:         appData,
	})
	if err != nil {
		return nil, err
	}
	return &consumer{consumer: c}, nil
}

func (t *transport) OnClose(handler func()) {
	t.transport.OnClose(func(ctx context.Context) { handler() })
}

func (t *transport) Close() {
	if err := t.transport.Close(); err != nil {
		log.Warn().Str("module", "media").Err(err).
			Str("transport", t.transport.Id()).Msg("close transport")
	}
}

type producer struct {
	producer *mediasoup.Producer
}

func (p *producer) ID() string { return p.producer.Id() }

func (p *producer) Kind() Kind { return p.producer.Kind() }

func (p *producer) AppData() H { return p.producer.AppData() }

func (p *producer) Close() {
	if err := p.producer.Close(); err != nil {
		log.Warn().Str("module", "media").Err(err).
			Str("producer", p.producer.Id()).Msg("close producer")
	}
}

type consumer struct {
	consumer *mediasoup.Consumer
}

func (c *consumer) ID() string { return c.consumer.Id() }

func (c *consumer) ProducerID() string { return c.consumer.ProducerId() }

func (c *consumer) Kind() Kind { return c.consumer.Kind() }

func (c *consumer) RtpParameters() *RtpParameters {
	return c.consumer.RtpParameters()
}

func (c *consumer) Resume(ctx context.Context) error {
	return c.consumer.Resume()
}

func (c *consumer) OnProducerClose(handler func()) {
	c.consumer.OnProducerClose(func(ctx context.Context) { handler() })
}

func (c *consumer) Close() {
	if err := c.consumer.Close(); err != nil {
		log.Warn().Str("module", "media").Err(err).
			Str("consumer", c.consumer.Id()).Msg("close consumer")
	}
}

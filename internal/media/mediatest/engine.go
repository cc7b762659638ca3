// Package mediatest provides a deterministic in-memory media.Engine for
// tests. It mimics the cascade semantics of the real engine: closing a
// transport closes its producers and consumers, closing a producer fires
// OnProducerClose on every consumer attached to it.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/devaladey/yct-soup/internal/media"
)

// ErrForced is returned by operations set up to fail.
var ErrForced = errors.New("forced engine failure")

type Engine struct {
	mu   sync.Mutex
	seq  int
	died []func()

	// FailRouter makes CreateRouter fail when set.
	FailRouter bool

	RoutersCreated int
	routers        []*Router
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *Engine) CreateRouter(ctx context.Context) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailRouter {
		return nil, ErrForced
	}
	e.RoutersCreated++
	r := &Router{
		engine:    e,
		id:        e.nextID("router"),
		producers: make(map[string]*Producer),
	}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *Engine) OnDied(handler func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.died = append(e.died, handler)
}

// KillWorker simulates the worker subprocess dying.
func (e *Engine) KillWorker() {
	e.mu.Lock()
	handlers := append([]func(){}, e.died...)
	e.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (e *Engine) Close() {}

// Routers returns every router ever created, including closed ones.
func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router{}, e.routers...)
}

type Router struct {
	engine *Engine
	id     string

	mu         sync.Mutex
	closed     bool
	closeCount int
	producers  map[string]*Producer
	transports []*Transport

	// DenyConsume makes CanConsume report false.
	DenyConsume bool

	// FailTransport makes CreateTransport fail when set.
	FailTransport bool

	// CloseTransportOnCreate closes every new transport before it is
	// handed back, simulating an engine-side close racing setup.
	CloseTransportOnCreate bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() media.RtpCapabilities {
	return media.RtpCapabilities{}
}

func (r *Router) CanConsume(producerID string, caps *media.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DenyConsume {
		return false
	}
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) CreateTransport(ctx context.Context, appData media.H) (media.Transport, error) {
	r.mu.Lock()
	if r.FailTransport {
		r.mu.Unlock()
		return nil, ErrForced
	}
	r.engine.mu.Lock()
	id := r.engine.nextID("transport")
	r.engine.mu.Unlock()
	t := &Transport{router: r, id: id, appData: appData}
	r.transports = append(r.transports, t)
	closeNow := r.CloseTransportOnCreate
	r.mu.Unlock()

	if closeNow {
		t.Close()
	}
	return t, nil
}

// Transports returns every transport created on this router.
func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport{}, r.transports...)
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closeCount++
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// CloseCount reports how many times Close was called, to catch double-close.
func (r *Router) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCount
}

type Transport struct {
	router  *Router
	id      string
	appData media.H

	mu        sync.Mutex
	closed    bool
	connected bool
	onClose   []func()
	producers []*Producer
	consumers []*Consumer

	// FailProduce and FailConsume force the respective call to fail.
	FailProduce bool
	FailConsume bool

	// CloseProducerOnConsume closes the producer right after a consumer
	// is created for it, before the caller regains control.
	CloseProducerOnConsume bool

	// ProduceStarted, when non-nil, is closed as a Produce call begins,
	// before the result is registered. Lets tests interleave a leave with
	// an in-flight produce.
	ProduceStarted chan struct{}
	// ProduceRelease, when non-nil, blocks Produce until it is closed.
	ProduceRelease chan struct{}
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) IceParameters() media.IceParameters {
	return media.IceParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id}
}

func (t *Transport) IceCandidates() []media.IceCandidate {
	return []media.IceCandidate{{Foundation: "udpcandidate", Address: "127.0.0.1", Port: 40000}}
}

func (t *Transport) DtlsParameters() media.DtlsParameters {
	return media.DtlsParameters{Role: "auto"}
}

func (t *Transport) Connect(ctx context.Context, dtls *media.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrForced
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, kind media.Kind, rtpParameters *media.RtpParameters, appData media.H) (media.Producer, error) {
	if t.ProduceStarted != nil {
		close(t.ProduceStarted)
		t.ProduceStarted = nil
	}
	if t.ProduceRelease != nil {
		<-t.ProduceRelease
	}

	t.mu.Lock()
	if t.FailProduce {
		t.mu.Unlock()
		return nil, ErrForced
	}
	t.router.engine.mu.Lock()
	id := t.router.engine.nextID("producer")
	t.router.engine.mu.Unlock()
	p := &Producer{transport: t, id: id, kind: kind, appData: appData}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps *media.RtpCapabilities, appData media.H) (media.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, ErrForced
	}

	t.mu.Lock()
	if t.FailConsume {
		t.mu.Unlock()
		return nil, ErrForced
	}
	t.router.engine.mu.Lock()
	id := t.router.engine.nextID("consumer")
	t.router.engine.mu.Unlock()
	c := &Consumer{transport: t, producer: p, id: id, kind: p.kind, paused: true}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()

	t.mu.Lock()
	closeProducer := t.CloseProducerOnConsume
	t.mu.Unlock()
	if closeProducer {
		p.Close()
	}
	return c, nil
}

// Consumers returns every consumer created on this transport.
func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer{}, t.consumers...)
}

// OnClose registers a close hook; on an already-closed transport it fires
// right away, the way a queued engine notification would.
func (t *Transport) OnClose(handler func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		handler()
		return
	}
	t.onClose = append(t.onClose, handler)
	t.mu.Unlock()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := append([]*Producer{}, t.producers...)
	consumers := append([]*Consumer{}, t.consumers...)
	handlers := append([]func(){}, t.onClose...)
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.markClosed()
	}
	for _, h := range handlers {
		h()
	}
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	transport *Transport
	id        string
	kind      media.Kind
	appData   media.H

	mu        sync.Mutex
	closed    bool
	consumers []*Consumer
}

func (p *Producer) ID() string       { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }
func (p *Producer) AppData() media.H { return p.appData }

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := append([]*Consumer{}, p.consumers...)
	p.mu.Unlock()

	p.transport.router.mu.Lock()
	delete(p.transport.router.producers, p.id)
	p.transport.router.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed()
	}
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	transport *Transport
	producer  *Producer
	id        string
	kind      media.Kind

	mu              sync.Mutex
	closed          bool
	upstreamGone    bool
	paused          bool
	onProducerClose []func()
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producer.id }
func (c *Consumer) Kind() media.Kind   { return c.kind }

func (c *Consumer) RtpParameters() *media.RtpParameters {
	return &media.RtpParameters{Mid: "0"}
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrForced
	}
	c.paused = false
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// OnProducerClose registers an upstream-close hook; if the producer is
// already gone it fires right away.
func (c *Consumer) OnProducerClose(handler func()) {
	c.mu.Lock()
	if c.upstreamGone {
		c.mu.Unlock()
		handler()
		return
	}
	c.onProducerClose = append(c.onProducerClose, handler)
	c.mu.Unlock()
}

func (c *Consumer) Close() {
	c.markClosed()
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Consumer) producerClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.upstreamGone = true
	handlers := append([]func(){}, c.onProducerClose...)
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

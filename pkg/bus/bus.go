// Package bus connects execution contexts. Every endpoint owns one goroutine
// that drains a FIFO inbox, so handler state is only ever touched by that
// goroutine. Delivery is at-most-once: nothing is retried, and messages still
// queued when an endpoint goes away are dropped.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrUnknownEndpoint = errors.New("bus: unknown endpoint")
	ErrDuplicate       = errors.New("bus: endpoint already registered")
	ErrClosed          = errors.New("bus: closed")
	ErrDropped         = errors.New("bus: message dropped")
)

type Message struct {
	Action  string          `json:"action"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload, which may be nil.
func NewMessage(action string, payload any) (Message, error) {
	msg := Message{Action: action}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", action, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

type Reply struct {
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Handler interface {
	Handle(ctx context.Context, msg Message) Reply
}

type HandlerFunc func(ctx context.Context, msg Message) Reply

func (f HandlerFunc) Handle(ctx context.Context, msg Message) Reply { return f(ctx, msg) }

type Stats struct {
	Delivered int64
	Handled   int64
	Dropped   int64
	Panics    int64
}

type stats struct {
	delivered, handled, dropped, panics atomic.Int64
}

type envelope struct {
	msg   Message
	reply chan Reply
}

type endpoint struct {
	name    string
	handler Handler
	inbox   chan envelope
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	closed    bool
	inboxSize int
	logger    *slog.Logger
	stats     stats
}

type Option func(*Bus)

// WithInboxSize sets how many messages an endpoint buffers. Past that, Send
// and Broadcast drop the message and Request waits for room.
func WithInboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

func New(opts ...Option) *Bus {
	b := &Bus{
		endpoints: make(map[string]*endpoint),
		inboxSize: 64,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register starts the goroutine of a new endpoint.
func (b *Bus) Register(name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.endpoints[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &endpoint{
		name:    name,
		handler: h,
		inbox:   make(chan envelope, b.inboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.endpoints[name] = e
	go b.run(e)

	b.logger.Debug("endpoint registered", slog.String("endpoint", name))
	return nil
}

// Unregister stops the endpoint. It does not wait for the running handler,
// so a handler may unregister its own endpoint.
func (b *Bus) Unregister(name string) bool {
	b.mu.Lock()
	e, ok := b.endpoints[name]
	delete(b.endpoints, name)
	b.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

func (b *Bus) run(e *endpoint) {
	defer close(e.done)
	for {
		select {
		case env := <-e.inbox:
			r := b.handle(e, env.msg)
			if env.reply != nil {
				env.reply <- r
			}
		case <-e.ctx.Done():
			if n := len(e.inbox); n > 0 {
				b.stats.dropped.Add(int64(n))
				b.logger.Warn("dropping queued messages", slog.String("endpoint", e.name), slog.Int("count", n))
			}
			return
		}
	}
}

func (b *Bus) handle(e *endpoint, msg Message) (r Reply) {
	defer func() {
		if p := recover(); p != nil {
			b.stats.panics.Add(1)
			b.logger.Error("handler panicked",
				slog.String("endpoint", e.name),
				slog.String("action", msg.Action),
				slog.Any("panic", p),
			)
			r = Reply{Code: "internal", Status: fmt.Sprintf("internal error handling %s", msg.Action)}
		}
	}()
	r = e.handler.Handle(e.ctx, msg)
	b.stats.handled.Add(1)
	return r
}

func (b *Bus) lookup(name string) (*endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	e, ok := b.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return e, nil
}

func (b *Bus) deliver(ctx context.Context, e *endpoint, env envelope) error {
	if env.reply == nil {
		// handlers Send to each other; waiting here could deadlock two
		// endpoints with full inboxes
		select {
		case e.inbox <- env:
			b.stats.delivered.Add(1)
			return nil
		case <-e.ctx.Done():
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, e.name)
		default:
			b.stats.dropped.Add(1)
			b.logger.Warn("inbox full, dropping message",
				slog.String("endpoint", e.name),
				slog.String("action", env.msg.Action),
			)
			return fmt.Errorf("%w: %s inbox full", ErrDropped, e.name)
		}
	}

	select {
	case e.inbox <- env:
		b.stats.delivered.Add(1)
		return nil
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, e.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues msg for the endpoint without waiting for it to be handled. It
// never blocks: a full inbox drops msg and returns ErrDropped.
func (b *Bus) Send(ctx context.Context, to string, msg Message) error {
	e, err := b.lookup(to)
	if err != nil {
		return err
	}
	return b.deliver(ctx, e, envelope{msg: msg})
}

// Request sends msg and waits for the handler's reply. If ctx ends first the
// reply is discarded; the message may still be handled.
func (b *Bus) Request(ctx context.Context, to string, msg Message) (Reply, error) {
	e, err := b.lookup(to)
	if err != nil {
		return Reply{}, err
	}
	env := envelope{msg: msg, reply: make(chan Reply, 1)}
	if err := b.deliver(ctx, e, env); err != nil {
		return Reply{}, err
	}

	select {
	case r := <-env.reply:
		return r, nil
	case <-e.done:
		// the handler may have replied just before stopping
		select {
		case r := <-env.reply:
			return r, nil
		default:
			return Reply{}, fmt.Errorf("%w: %s stopped", ErrDropped, to)
		}
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Broadcast sends msg to every endpoint whose name starts with prefix and
// returns how many accepted it. There is no ordering across recipients.
func (b *Bus) Broadcast(ctx context.Context, prefix string, msg Message) int {
	sent := 0
	for _, name := range b.Endpoints(prefix) {
		if err := b.Send(ctx, name, msg); err != nil {
			b.logger.Warn("broadcast delivery failed",
				slog.String("endpoint", name),
				slog.String("action", msg.Action),
				slog.Any("err", err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Endpoints lists registered endpoint names with the given prefix, sorted.
func (b *Bus) Endpoints(prefix string) []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.endpoints))
	for name := range b.endpoints {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	b.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (b *Bus) Stats() Stats {
	return Stats{
		Delivered: b.stats.delivered.Load(),
		Handled:   b.stats.handled.Load(),
		Dropped:   b.stats.dropped.Load(),
		Panics:    b.stats.panics.Load(),
	}
}

// Close stops every endpoint and waits for their goroutines. It must not be
// called from a handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	eps := b.endpoints
	b.endpoints = make(map[string]*endpoint)
	b.mu.Unlock()

	for _, e := range eps {
		e.cancel()
	}
	for _, e := range eps {
		<-e.done
	}
	b.logger.Info("bus closed", slog.Int("endpoints", len(eps)))
}

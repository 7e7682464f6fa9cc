package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"NProject/logger"
	redis2 "NProject/service/storage/redis"
	errs "NProject/tools/errs"
	"NProject/tools/safe"

	"github.com/redis/go-redis/v9"
)

// Handler is a local listener for decoded envelopes.
type Handler func(ctx context.Context, env *Envelope)

const (
	reconnectMin = 200 * time.Millisecond
	reconnectMax = 10 * time.Second
)

// Bridge subscribes to one shared broadcast channel and re-emits decoded
// envelopes to locally registered handlers. The subscription uses its own
// pubsub connection (subscribing blocks the connection); publications go
// out on the regular command client. Lifecycle is explicit: the component
// that starts a bridge owns it.
type Bridge struct {
	channel string

	mu       sync.RWMutex
	handlers map[string][]Handler

	ps      *redis.PubSub
	cancel  context.CancelFunc
	started atomic.Bool
}

func NewBridge(channel string) *Bridge {
	return &Bridge{
		channel:  channel,
		handlers: make(map[string][]Handler),
	}
}

func (b *Bridge) Channel() string { return b.channel }

// On registers a local listener for (kind, event). Multiple listeners are
// allowed; registration order is delivery order.
func (b *Bridge) On(kind Kind, event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := string(kind) + "/" + event
	b.handlers[k] = append(b.handlers[k], h)
}

// Start opens the subscription and spawns the receive loop. Calling Start
// on a running bridge is an error.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errs.New("bridge already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	ps := redis2.GetRedis().Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		b.started.Store(false)
		cancel()
		_ = ps.Close()
		return errs.Wrap(err, "bridge subscribe")
	}
	b.setPubsub(ps)

	safe.SafeGo(func() { b.receiveLoop(ctx) })
	logger.Infof("[Bridge] subscribed channel=%s", b.channel)
	return nil
}

// receiveLoop pulls raw messages and dispatches them. On connection loss it
// re-subscribes with capped exponential delay; without this the bridge
// would silently stop receiving after a store hiccup.
func (b *Bridge) receiveLoop(ctx context.Context) {
	delay := reconnectMin
	for {
		ps := b.pubsub()
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || !b.started.Load() {
				return
			}
			logger.Warnf("[Bridge] receive error channel=%s err=%v, resubscribing in %v", b.channel, err, delay)
			_ = ps.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMax {
				delay = reconnectMax
			}
			b.setPubsub(redis2.GetRedis().Subscribe(ctx, b.channel))
			continue
		}
		delay = reconnectMin
		b.dispatch(ctx, []byte(msg.Payload))
	}
}

// dispatch decodes one raw message and fans it out to local listeners.
// Malformed payloads and unknown tags are logged and dropped, never raised.
func (b *Bridge) dispatch(ctx context.Context, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		sample := raw
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Warnf("[Bridge] drop malformed message channel=%s err=%v sample=%q", b.channel, err, sample)
		return
	}

	b.mu.RLock()
	hs := b.handlers[env.key()]
	b.mu.RUnlock()
	for _, h := range hs {
		h(ctx, env)
	}
}

// Publish sends an envelope on the shared channel via the command client.
func (b *Bridge) Publish(ctx context.Context, env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(err, "marshal envelope")
	}
	return redis2.GetRedis().Publish(ctx, b.channel, raw).Err()
}

// Stop unsubscribes and releases the pubsub connection. Idempotent, safe to
// call on a bridge that never started.
func (b *Bridge) Stop() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	if ps := b.pubsub(); ps != nil {
		_ = ps.Close()
	}
	logger.Infof("[Bridge] stopped channel=%s", b.channel)
}

func (b *Bridge) pubsub() *redis.PubSub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ps
}

func (b *Bridge) setPubsub(ps *redis.PubSub) {
	b.mu.Lock()
	b.ps = ps
	b.mu.Unlock()
}

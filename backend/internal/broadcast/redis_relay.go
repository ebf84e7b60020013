package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisRelay shares events between board instances over a Redis pub/sub
// channel. A single publisher goroutine drains the outbound queue, so events
// leave this instance in the order they were published.
type RedisRelay struct {
	client  *redis.Client
	channel string
	queue   chan Event

	mu      sync.Mutex
	running bool
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisRelay(client *redis.Client, channel string, buffer int) *RedisRelay {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		queue:   make(chan Event, buffer),
	}
}

func (r *RedisRelay) Forward(ev Event) bool {
	select {
	case r.queue <- ev:
		return true
	default:
		log.Printf("⚠️  Relay queue full, dropping event seq=%d task=%s", ev.Seq, ev.Task.ID)
		return false
	}
}

// Start subscribes to the channel and hands every remote event to b. It
// returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context, b *Broadcaster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.pubsub = pubsub
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.receiveLoop(pubsub.Channel(), b)

	log.Printf("📡 Event relay subscribed to redis channel %q", r.channel)
	return nil
}

func (r *RedisRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	r.cancel()
	_ = r.pubsub.Close()
	r.wg.Wait()
	log.Println("🛑 Event relay stopped")
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.queue:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("❌ Failed to encode relay event: %v", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				log.Printf("❌ Failed to relay event seq=%d: %v", ev.Seq, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *RedisRelay) receiveLoop(messages <-chan *redis.Message, b *Broadcaster) {
	defer r.wg.Done()

	for msg := range messages {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("⚠️  Ignoring malformed relay payload: %v", err)
			continue
		}
		b.Receive(ev)
	}
}

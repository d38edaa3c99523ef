// Package relay shares heading toggles between processes that have the same
// document open, over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
)

// message is the wire form of a toggle.
type message struct {
	Origin     string    `json:"origin"`
	DocumentID string    `json:"document_id"`
	HeadingID  string    `json:"heading_id"`
	Level      int       `json:"level"`
	Collapsed  bool      `json:"collapsed"`
	At         time.Time `json:"at"`
}

// RedisRelay forwards local toggles to Redis and replays remote ones onto the
// local bus, tagged with the sender's origin.
type RedisRelay struct {
	client  *redis.Client
	prefix  string
	origin  string
	bus     *events.Bus
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	forwards map[string]string
}

// NewRedisRelay connects to redisURL and checks the connection.
func NewRedisRelay(redisURL string, bus *events.Bus, logger *slog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRelayWithClient(client, bus, logger), nil
}

// NewRedisRelayWithClient creates a relay from an existing Redis client.
func NewRedisRelayWithClient(client *redis.Client, bus *events.Bus, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:   client,
		prefix:   "outline:toggles:",
		origin:   uuid.NewString(),
		bus:      bus,
		logger:   logger,
		timeout:  5 * time.Second,
		forwards: make(map[string]string),
	}
}

// Origin identifies this relay on the wire.
func (r *RedisRelay) Origin() string {
	return r.origin
}

func (r *RedisRelay) channel(documentID string) string {
	return r.prefix + documentID
}

// Forward publishes every local toggle of documentID. Events that already
// carry an origin were replayed from elsewhere and are not sent back.
func (r *RedisRelay) Forward(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forwards[documentID]; ok {
		return
	}
	r.forwards[documentID] = r.bus.Subscribe(func(e events.Event) {
		if e.DocumentID != documentID || e.Origin != "" || e.Toggle == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Publish(ctx, e); err != nil {
			r.logger.Warn("relay: publish toggle failed", "document", documentID, "heading", e.Toggle.HeadingID, "error", err)
		}
	}, events.TypeHeadingToggled)
}

// StopForward undoes Forward.
func (r *RedisRelay) StopForward(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.forwards[documentID]; ok {
		r.bus.Unsubscribe(id)
		delete(r.forwards, documentID)
	}
}

// Publish sends one toggle event.
func (r *RedisRelay) Publish(ctx context.Context, e events.Event) error {
	if e.Toggle == nil {
		return fmt.Errorf("publish toggle: event %s has no toggle", e.Type)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(message{
		Origin:     r.origin,
		DocumentID: e.DocumentID,
		HeadingID:  e.Toggle.HeadingID,
		Level:      e.Toggle.Level,
		Collapsed:  e.Toggle.Collapsed,
		At:         at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal toggle: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(e.DocumentID), payload).Err(); err != nil {
		return fmt.Errorf("publish toggle: %w", err)
	}
	return nil
}

// Subscription is a running Listen loop.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// Done is closed once the loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the loop and waits for it to exit.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	<-s.done
	return err
}

// Listen subscribes to the given documents and replays toggles from other
// origins onto the bus until ctx is cancelled or the subscription is closed.
// It returns once Redis has confirmed the subscription.
func (r *RedisRelay) Listen(ctx context.Context, documentIDs ...string) (*Subscription, error) {
	if len(documentIDs) == 0 {
		return nil, fmt.Errorf("listen: no documents")
	}
	channels := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		channels[i] = r.channel(id)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe toggles: %w", err)
		}
	}

	sub := &Subscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.once.Do(func() { _ = pubsub.Close() })
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.replay(msg.Payload)
			}
		}
	}()
	return sub, nil
}

func (r *RedisRelay) replay(payload string) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.logger.Warn("relay: discard malformed toggle", "error", err)
		return
	}
	if m.Origin == r.origin || m.Origin == "" {
		return
	}
	r.bus.Publish(events.Event{
		Type:       events.TypeHeadingToggled,
		DocumentID: m.DocumentID,
		Origin:     m.Origin,
		At:         m.At,
		Toggle: &events.Toggle{
			HeadingID: m.HeadingID,
			Level:     m.Level,
			Collapsed: m.Collapsed,
		},
	})
}

// Close stops forwarding and closes the Redis connection.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	for doc, id := range r.forwards {
		r.bus.Unsubscribe(id)
		delete(r.forwards, doc)
	}
	r.mu.Unlock()
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
